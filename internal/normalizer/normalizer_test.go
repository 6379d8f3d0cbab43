package normalizer

import (
	"strings"
	"testing"
	"time"

	"fund-etl-service/internal/models"
)

func testNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	n, err := New(DefaultConfig(models.RegionAMRS))
	if err != nil {
		t.Fatalf("Failed to create normalizer: %v", err)
	}
	return n
}

func rawRow(line int, fields map[string]string) models.RawRow {
	return models.RawRow{Line: line, Fields: fields}
}

func TestNormalizeRowBasic(t *testing.T) {
	n := testNormalizer(t)

	record, err := n.NormalizeRow(rawRow(2, map[string]string{
		"Date":                           "2024-01-15",
		"Fund Code":                      " FUND0001 ",
		"Fund Name":                      "Prime Fund",
		"Share Class Assets (dly/$mils)": "1,234.56",
		"1-DSY (dly)":                    "0.0412",
		"7-DSY (dly)":                    "-",
		"Transactional NAV":              "1.0001",
	}), time.Time{})
	if err != nil {
		t.Fatalf("NormalizeRow failed: %v", err)
	}

	if record.FundCode != "FUND0001" {
		t.Errorf("Expected trimmed fund code, got %q", record.FundCode)
	}
	if record.Date.Format(models.DateFormat) != "2024-01-15" {
		t.Errorf("Expected 2024-01-15, got %s", record.Date.Format(models.DateFormat))
	}
	if record.Region != models.RegionAMRS {
		t.Errorf("Expected region AMRS, got %s", record.Region)
	}
	if record.ShareClassAssets == nil || *record.ShareClassAssets != 1234.56 {
		t.Errorf("Expected thousands separator stripped, got %v", record.ShareClassAssets)
	}
	if record.OneDayYield == nil || *record.OneDayYield != 0.0412 {
		t.Errorf("Expected one_day_yield 0.0412, got %v", record.OneDayYield)
	}
	if record.SevenDayYield != nil {
		t.Errorf("Expected '-' to normalize to null, got %v", *record.SevenDayYield)
	}
	if record.TransactionalNAV != "1.0001" {
		t.Errorf("Expected NAV kept textual, got %q", record.TransactionalNAV)
	}
}

func TestNormalizeRowNullTokens(t *testing.T) {
	n := testNormalizer(t)

	for _, token := range []string{"-", "", "N/A", "n/a", "nan", "NaN", "  nan  "} {
		record, err := n.NormalizeRow(rawRow(2, map[string]string{
			"Date":        "2024-01-15",
			"Fund Code":   "F1",
			"WAM (dly)":   token,
		}), time.Time{})
		if err != nil {
			t.Errorf("Token %q: unexpected error %v", token, err)
			continue
		}
		if record.WAM != nil {
			t.Errorf("Token %q: expected null, got %v", token, *record.WAM)
		}
	}
}

func TestNormalizeRowRejectsUncoercibleNumeric(t *testing.T) {
	n := testNormalizer(t)

	_, err := n.NormalizeRow(rawRow(7, map[string]string{
		"Date":      "2024-01-15",
		"Fund Code": "F1",
		"WAL (dly)": "thirty",
	}), time.Time{})
	if err == nil {
		t.Fatal("Expected error for uncoercible numeric value")
	}
	if !strings.Contains(err.Error(), "thirty") {
		t.Errorf("Expected offending value in error, got %v", err)
	}
}

func TestNormalizeRowDateFormats(t *testing.T) {
	n := testNormalizer(t)

	for _, value := range []string{"2024-01-15", "1/15/2024", "01/15/2024"} {
		record, err := n.NormalizeRow(rawRow(2, map[string]string{
			"Date":      value,
			"Fund Code": "F1",
		}), time.Time{})
		if err != nil {
			t.Errorf("Date %q: unexpected error %v", value, err)
			continue
		}
		if record.Date.Format(models.DateFormat) != "2024-01-15" {
			t.Errorf("Date %q: parsed as %s", value, record.Date.Format(models.DateFormat))
		}
	}

	if _, err := n.NormalizeRow(rawRow(2, map[string]string{
		"Date":      "15th of January",
		"Fund Code": "F1",
	}), time.Time{}); err == nil {
		t.Error("Expected error for unparseable date")
	}
}

func TestNormalizeRowTargetDateFallback(t *testing.T) {
	n := testNormalizer(t)
	target := time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)

	record, err := n.NormalizeRow(rawRow(2, map[string]string{
		"Fund Code": "F1",
	}), target)
	if err != nil {
		t.Fatalf("NormalizeRow failed: %v", err)
	}
	if record.Date.Format(models.DateFormat) != "2024-01-15" {
		t.Errorf("Expected target date applied at day precision, got %v", record.Date)
	}

	// Without a fallback the date column is mandatory.
	if _, err := n.NormalizeRow(rawRow(2, map[string]string{
		"Fund Code": "F1",
	}), time.Time{}); err == nil {
		t.Error("Expected error when no date is available")
	}
}

func TestNormalizeRowRequiresFundCode(t *testing.T) {
	n := testNormalizer(t)

	_, err := n.NormalizeRow(rawRow(3, map[string]string{
		"Date":      "2024-01-15",
		"Fund Code": "   ",
	}), time.Time{})
	if err == nil {
		t.Fatal("Expected error for blank fund code")
	}
}

func TestNormalizeRowIgnoresUnknownColumns(t *testing.T) {
	n := testNormalizer(t)

	record, err := n.NormalizeRow(rawRow(2, map[string]string{
		"Date":            "2024-01-15",
		"Fund Code":       "F1",
		"Internal Remark": "ignore me",
	}), time.Time{})
	if err != nil {
		t.Fatalf("Unknown column must not fail the row: %v", err)
	}
	if record.FundCode != "F1" {
		t.Errorf("Expected F1, got %q", record.FundCode)
	}
}

func TestNormalizeDatasetRejectedRowAccounting(t *testing.T) {
	n := testNormalizer(t)

	dataset := &models.RawDataset{
		Region: models.RegionAMRS,
		Source: "test.xlsx",
		Rows: []models.RawRow{
			rawRow(2, map[string]string{"Date": "2024-01-15", "Fund Code": "F1"}),
			rawRow(3, map[string]string{"Date": "2024-01-15", "Fund Code": "F2", "WAM (dly)": "bogus"}),
			rawRow(4, map[string]string{"Date": "2024-01-15", "Fund Code": "F3"}),
		},
	}

	result, err := n.NormalizeDataset(dataset, time.Time{})
	if err != nil {
		t.Fatalf("NormalizeDataset failed: %v", err)
	}
	if len(result.Records) != 2 {
		t.Errorf("Expected 2 records, got %d", len(result.Records))
	}
	if len(result.Rejected) != 1 {
		t.Fatalf("Expected 1 rejected row, got %d", len(result.Rejected))
	}
	if result.Rejected[0].Line != 3 {
		t.Errorf("Expected rejection at line 3, got %d", result.Rejected[0].Line)
	}
	if result.Rejected[0].Reason == "" {
		t.Error("Expected rejection reason to be recorded")
	}
}

func TestNormalizeDatasetPlaceholderDisambiguation(t *testing.T) {
	n := testNormalizer(t)

	dataset := &models.RawDataset{
		Region: models.RegionAMRS,
		Rows: []models.RawRow{
			rawRow(2, map[string]string{"Date": "2024-01-15", "Fund Code": "#MULTIVALUE", "Fund Name": "First"}),
			rawRow(3, map[string]string{"Date": "2024-01-15", "Fund Code": "FUND0001"}),
			rawRow(4, map[string]string{"Date": "2024-01-15", "Fund Code": "#MULTIVALUE", "Fund Name": "Second"}),
			rawRow(5, map[string]string{"Date": "2024-01-16", "Fund Code": "#MULTIVALUE", "Fund Name": "Third"}),
		},
	}

	result, err := n.NormalizeDataset(dataset, time.Time{})
	if err != nil {
		t.Fatalf("NormalizeDataset failed: %v", err)
	}

	codes := make(map[string]string)
	for _, r := range result.Records {
		if strings.HasPrefix(r.FundCode, PlaceholderFundCode) {
			codes[r.FundName] = r.FundCode
		}
	}

	// Suffixes are assigned in stable row order, restarting per date.
	if codes["First"] != "#MULTIVALUE_1" || codes["Second"] != "#MULTIVALUE_2" {
		t.Errorf("Expected stable per-date suffixes, got %v", codes)
	}
	if codes["Third"] != "#MULTIVALUE_1" {
		t.Errorf("Expected counter to restart for the next date, got %q", codes["Third"])
	}

	// No two placeholder records on the same date may share a key.
	seen := make(map[string]bool)
	for _, r := range result.Records {
		if seen[r.Key()] {
			t.Errorf("Duplicate key after disambiguation: %s", r.Key())
		}
		seen[r.Key()] = true
	}
}

func TestNormalizeDatasetRejectsDuplicateKeys(t *testing.T) {
	n := testNormalizer(t)

	dataset := &models.RawDataset{
		Region: models.RegionAMRS,
		Rows: []models.RawRow{
			rawRow(2, map[string]string{"Date": "2024-01-10", "Fund Code": "F1"}),
			rawRow(3, map[string]string{"Date": "2024-01-10", "Fund Code": "F2", "Fund Name": "First"}),
			rawRow(4, map[string]string{"Date": "2024-01-10", "Fund Code": "F2", "Fund Name": "Second"}),
			// The same code on another date is a different key, not a duplicate.
			rawRow(5, map[string]string{"Date": "2024-01-11", "Fund Code": "F2"}),
		},
	}

	result, err := n.NormalizeDataset(dataset, time.Time{})
	if err != nil {
		t.Fatalf("NormalizeDataset failed: %v", err)
	}

	if len(result.Records) != 3 {
		t.Errorf("Expected 3 records after dedupe, got %d", len(result.Records))
	}
	if len(result.Rejected) != 1 {
		t.Fatalf("Expected 1 rejected row, got %d", len(result.Rejected))
	}
	if result.Rejected[0].Line != 4 {
		t.Errorf("Expected the later duplicate rejected (line 4), got %d", result.Rejected[0].Line)
	}
	if !strings.Contains(result.Rejected[0].Reason, "duplicate") {
		t.Errorf("Expected duplicate reason, got %q", result.Rejected[0].Reason)
	}

	// The first occurrence wins.
	for _, r := range result.Records {
		if r.FundCode == "F2" && r.Date.Format(models.DateFormat) == "2024-01-10" && r.FundName != "First" {
			t.Errorf("Expected first occurrence kept, got %q", r.FundName)
		}
	}
}

func TestNormalizeDatasetPlaceholdersSurviveDedupe(t *testing.T) {
	n := testNormalizer(t)

	dataset := &models.RawDataset{
		Region: models.RegionAMRS,
		Rows: []models.RawRow{
			rawRow(2, map[string]string{"Date": "2024-01-10", "Fund Code": "#MULTIVALUE"}),
			rawRow(3, map[string]string{"Date": "2024-01-10", "Fund Code": "#MULTIVALUE"}),
		},
	}

	result, err := n.NormalizeDataset(dataset, time.Time{})
	if err != nil {
		t.Fatalf("NormalizeDataset failed: %v", err)
	}
	// Disambiguation runs first, so placeholder collisions never count as
	// data-quality duplicates.
	if len(result.Records) != 2 || len(result.Rejected) != 0 {
		t.Errorf("Expected both placeholder rows kept, got %d records / %d rejected",
			len(result.Records), len(result.Rejected))
	}
}

func TestNormalizeDatasetNilDataset(t *testing.T) {
	n := testNormalizer(t)
	if _, err := n.NormalizeDataset(nil, time.Time{}); err == nil {
		t.Error("Expected error for nil dataset")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("Expected error for nil config")
	}
	if _, err := New(&Config{Region: "APAC"}); err == nil {
		t.Error("Expected error for invalid region")
	}
}
