package extract

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"docqa/internal/domain"
)

// CSV renders a comma separated file as one line of "column: value" pairs per row.
type CSV struct{}

// Extract reads the CSV file at path. The first record is the header.
func (CSV) Extract(ctx context.Context, path string) (domain.Extraction, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("%w: %w", domain.ErrExtraction, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.Extraction{}, fmt.Errorf("%w: %w", domain.ErrExtraction, err)
		}
		rows = append(rows, rec)
	}
	var b strings.Builder
	if err := renderTable(ctx, &b, rows); err != nil {
		return domain.Extraction{}, err
	}
	return domain.Extraction{Text: b.String()}, nil
}

// XLSX renders every sheet of a workbook like CSV, each under a "Sheet: name" line.
type XLSX struct{}

// Extract reads the workbook at path.
func (XLSX) Extract(ctx context.Context, path string) (domain.Extraction, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("%w: open workbook: %w", domain.ErrExtraction, err)
	}
	defer f.Close()

	var b strings.Builder
	for i, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return domain.Extraction{}, fmt.Errorf("%w: sheet %q: %w", domain.ErrExtraction, sheet, err)
		}
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Sheet: %s\n", sheet)
		if err := renderTable(ctx, &b, rows); err != nil {
			return domain.Extraction{}, err
		}
	}
	return domain.Extraction{Text: b.String()}, nil
}

// renderTable writes one line per data row. Cells of columns without a header
// are written as "column N".
func renderTable(ctx context.Context, b *strings.Builder, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	header := rows[0]
	for _, row := range rows[1:] {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrExtraction, err)
		}
		parts := make([]string, 0, len(row))
		for j, cell := range row {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			name := fmt.Sprintf("column %d", j+1)
			if j < len(header) && strings.TrimSpace(header[j]) != "" {
				name = strings.TrimSpace(header[j])
			}
			parts = append(parts, name+": "+cell)
		}
		if len(parts) == 0 {
			continue
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString("\n")
	}
	return nil
}
