package snapshot

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"featureflow/models"
	"featureflow/writer"
)

const dateColumn = "date"

// EncodeFeatureCSV writes date, the feature columns, then one source column
// per family.
func EncodeFeatureCSV(table *models.FeatureTable) ([]byte, error) {
	header := make([]string, 0, 1+len(table.Names)+len(table.Families))
	header = append(header, dateColumn)
	header = append(header, table.Names...)
	for _, family := range table.Families {
		header = append(header, writer.SourceColumn(family))
	}

	out := &models.Table{Header: header, Rows: make([][]string, 0, len(table.Rows))}
	for _, row := range table.Rows {
		rec := make([]string, 0, len(header))
		rec = append(rec, models.FormatDate(row.Date))
		for _, name := range table.Names {
			rec = append(rec, strconv.FormatFloat(row.Values[name], 'f', -1, 64))
		}
		for _, family := range table.Families {
			rec = append(rec, row.Sources[family])
		}
		out.Rows = append(out.Rows, rec)
	}
	return encodeCSV(out)
}

// decodeFeatureCSV is the inverse of EncodeFeatureCSV.
func decodeFeatureCSV(data []byte) (*models.FeatureTable, error) {
	raw, err := decodeCSV(data)
	if err != nil {
		return nil, err
	}
	if len(raw.Header) == 0 || raw.Header[0] != dateColumn {
		return nil, fmt.Errorf("first column must be %q, got %v", dateColumn, raw.Header)
	}

	table := &models.FeatureTable{}
	for _, col := range raw.Header[1:] {
		if family, ok := strings.CutPrefix(col, "source_"); ok {
			table.Families = append(table.Families, family)
			continue
		}
		if len(table.Families) > 0 {
			return nil, fmt.Errorf("feature column %q after source columns", col)
		}
		table.Names = append(table.Names, col)
	}

	for i, rec := range raw.Rows {
		if len(rec) != len(raw.Header) {
			return nil, fmt.Errorf("line %d: %d fields, want %d", i+2, len(rec), len(raw.Header))
		}
		d, err := models.ParseDate(rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+2, err)
		}
		row := models.FeatureRow{
			Date:    d,
			Values:  make(map[string]float64, len(table.Names)),
			Sources: make(map[string]string, len(table.Families)),
		}
		for j, name := range table.Names {
			v, err := strconv.ParseFloat(rec[1+j], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", i+2, name, err)
			}
			row.Values[name] = v
		}
		for j, family := range table.Families {
			row.Sources[family] = rec[1+len(table.Names)+j]
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

func encodeCSV(t *models.Table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeCSV(data []byte) (*models.Table, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("parse csv: missing header")
	}
	return &models.Table{Header: records[0], Rows: records[1:]}, nil
}

// ReadTable loads a CSV file with a header row, such as the base dataset.
func ReadTable(path string) (*models.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := decodeCSV(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}
