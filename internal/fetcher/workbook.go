package fetcher

import (
	"strings"

	"fund-etl-service/internal/models"
	"fund-etl-service/pkg/errors"
	"fund-etl-service/pkg/logger"

	"github.com/xuri/excelize/v2"
)

// headerScanLimit bounds how deep into a sheet the header row is searched.
// Source workbooks carry a variable number of title and disclaimer rows
// above the data.
const headerScanLimit = 20

// DecodeWorkbook reads a downloaded spreadsheet into a raw dataset. The
// header row is located by scanning for the fund code column; rows above it
// are discarded. Line numbers in the result are 1-based sheet rows, so
// rejection reports can be checked against the file directly.
func DecodeWorkbook(path string, region models.Region) (*models.RawDataset, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.ParseError(errors.CodeWorkbookCorrupted, path, 0, "", "", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.ParseError(errors.CodeWorkbookCorrupted, path, 0, "", "", nil).
			WithSuggestion("the workbook contains no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.ParseError(errors.CodeWorkbookCorrupted, path, 0, "", "", err)
	}

	headerIdx, headers := findHeaderRow(rows)
	if headerIdx < 0 {
		return nil, errors.ParseError(errors.CodeMissingColumn, path, 0, "Fund Code", "", nil)
	}

	dataset := &models.RawDataset{Region: region, Source: path}
	for i := headerIdx + 1; i < len(rows); i++ {
		cells := rows[i]
		if isBlankRow(cells) {
			continue
		}

		fields := make(map[string]string, len(headers))
		for j, header := range headers {
			if header == "" {
				continue
			}
			if j < len(cells) {
				fields[header] = cells[j]
			} else {
				fields[header] = ""
			}
		}
		dataset.Rows = append(dataset.Rows, models.RawRow{Line: i + 1, Fields: fields})
	}

	logger.GetGlobalLogger().WithComponent("fetcher").WithFields(logger.Fields{
		"source": path,
		"region": region,
		"rows":   len(dataset.Rows),
	}).Debug("Decoded workbook")

	return dataset, nil
}

// findHeaderRow returns the index and trimmed headers of the first row that
// contains a recognizable fund code column, or -1.
func findHeaderRow(rows [][]string) (int, []string) {
	limit := len(rows)
	if limit > headerScanLimit {
		limit = headerScanLimit
	}

	for i := 0; i < limit; i++ {
		for _, cell := range rows[i] {
			if _, ok := models.FieldByLabel(cell); ok && strings.EqualFold(strings.TrimSpace(cell), "Fund Code") {
				headers := make([]string, len(rows[i]))
				for j, h := range rows[i] {
					headers[j] = strings.TrimSpace(h)
				}
				return i, headers
			}
		}
	}
	return -1, nil
}

func isBlankRow(cells []string) bool {
	for _, cell := range cells {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
