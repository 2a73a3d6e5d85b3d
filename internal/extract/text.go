package extract

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"docqa/internal/domain"
)

// Text reads a UTF-8 plain text file.
type Text struct{}

// Extract reads the file at path. Invalid UTF-8 sequences are replaced.
func (Text) Extract(_ context.Context, path string) (domain.Extraction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("%w: %w", domain.ErrExtraction, err)
	}
	s := string(data)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	return domain.Extraction{Text: s}, nil
}
