// Package writer encodes feature tables to parquet and mirrors snapshot
// files to S3.
package writer

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"featureflow/logger"
	"featureflow/models"
)

// memoryFileWriter implements source.ParquetFile over an in-memory buffer.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

// Seek only reports the current size; the parquet writer never seeks back.
func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

// SourceColumn names the provenance column of a family.
func SourceColumn(family string) string {
	return "source_" + family
}

// parquetSchema mirrors the CSV layout: date, one DOUBLE per feature, then
// one UTF8 provenance column per family.
func parquetSchema(table *models.FeatureTable) []string {
	md := make([]string, 0, 1+len(table.Names)+len(table.Families))
	md = append(md, "name=date, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY")
	for _, name := range table.Names {
		md = append(md, fmt.Sprintf("name=%s, type=DOUBLE", name))
	}
	for _, family := range table.Families {
		md = append(md, fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY", SourceColumn(family)))
	}
	return md
}

func compressionCodec(name string) parquet.CompressionCodec {
	switch strings.ToLower(name) {
	case "snappy", "":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

// EncodeParquet renders table as a parquet file held in memory.
func EncodeParquet(table *models.FeatureTable, compression string, log *logger.Log) ([]byte, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	entry := log.WithComponent("parquet_writer").WithFields(logger.Fields{
		"rows":        table.Len(),
		"compression": compression,
		"operation":   "encode_parquet",
	})

	fw := newMemoryFileWriter()
	pw, err := writer.NewCSVWriter(parquetSchema(table), fw, 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = compressionCodec(compression)

	for _, row := range table.Rows {
		rec := make([]interface{}, 0, 1+len(table.Names)+len(table.Families))
		rec = append(rec, models.FormatDate(row.Date))
		for _, name := range table.Names {
			rec = append(rec, row.Values[name])
		}
		for _, family := range table.Families {
			rec = append(rec, row.Sources[family])
		}
		if err := pw.Write(rec); err != nil {
			_ = pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record %s: %w", models.FormatDate(row.Date), err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}

	data := fw.Bytes()
	entry.WithField("file_size", len(data)).Debug("parquet file created")
	return data, nil
}
