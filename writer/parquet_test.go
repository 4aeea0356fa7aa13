package writer

import (
	"bytes"
	"testing"

	"featureflow/logger"
	"featureflow/models"
)

func sampleTable() *models.FeatureTable {
	d1, _ := models.ParseDate("2025-12-24")
	d2, _ := models.ParseDate("2025-12-25")
	return &models.FeatureTable{
		Names:    []string{"is_holiday", "ecb_main_rate"},
		Families: []string{"holiday", "rates"},
		Rows: []models.FeatureRow{
			{Date: d1, Values: map[string]float64{"is_holiday": 0, "ecb_main_rate": 2.15}, Sources: map[string]string{"holiday": "nager", "rates": "static"}},
			{Date: d2, Values: map[string]float64{"is_holiday": 1, "ecb_main_rate": 2.15}, Sources: map[string]string{"holiday": "nager", "rates": "static"}},
		},
	}
}

func TestEncodeParquetProducesParquetFile(t *testing.T) {
	for _, codec := range []string{"snappy", "gzip", "none"} {
		data, err := EncodeParquet(sampleTable(), codec, logger.Logger())
		if err != nil {
			t.Fatalf("%s: encode: %v", codec, err)
		}
		if len(data) < 8 {
			t.Fatalf("%s: parquet output too short: %d bytes", codec, len(data))
		}
		magic := []byte("PAR1")
		if !bytes.HasPrefix(data, magic) || !bytes.HasSuffix(data, magic) {
			t.Fatalf("%s: output is not framed by parquet magic bytes", codec)
		}
	}
}

func TestParquetSchemaColumns(t *testing.T) {
	md := parquetSchema(sampleTable())
	if len(md) != 5 {
		t.Fatalf("expected 5 columns, got %d: %v", len(md), md)
	}
	if md[1] != "name=is_holiday, type=DOUBLE" {
		t.Fatalf("unexpected feature column %q", md[1])
	}
	if !bytes.Contains([]byte(md[4]), []byte("name=source_rates")) {
		t.Fatalf("unexpected provenance column %q", md[4])
	}
}
