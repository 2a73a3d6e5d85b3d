package extract

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"docqa/internal/domain"
)

// PDF extracts the plain text of every page. Pages are separated by a newline
// and their start offsets recorded so chunks can carry page numbers.
type PDF struct{}

// Extract reads the PDF at path.
func (PDF) Extract(ctx context.Context, path string) (ext domain.Extraction, err error) {
	// The parser panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			ext = domain.Extraction{}
			err = fmt.Errorf("%w: malformed PDF: %v", domain.ErrExtraction, r)
		}
	}()

	file, reader, err := pdf.Open(path)
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("%w: open PDF: %w", domain.ErrExtraction, err)
	}
	defer file.Close()

	var text strings.Builder
	offset := 0
	n := reader.NumPage()
	starts := make([]int, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return domain.Extraction{}, fmt.Errorf("%w: %w", domain.ErrExtraction, err)
		}
		if i > 1 {
			text.WriteByte('\n')
			offset++
		}
		starts = append(starts, offset)

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return domain.Extraction{}, fmt.Errorf("%w: page %d: %w", domain.ErrExtraction, i, err)
		}
		text.WriteString(pageText)
		offset += utf8.RuneCountInString(pageText)
	}
	return domain.Extraction{Text: text.String(), PageStarts: starts}, nil
}
