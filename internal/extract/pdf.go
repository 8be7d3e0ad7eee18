// Package extract turns stored PDF bytes into plain text pages.
package extract

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// Extractor converts one document's raw bytes into ordered per-page text.
// It is a function type so the pipeline can swap in fakes under test.
type Extractor func(data []byte) ([]string, error)

// Pages extracts per-page plain text from a PDF. Pages that cannot be
// decoded (missing fonts, scanned images) come back as empty strings rather
// than errors; only a structurally unreadable document fails. The pdf
// library panics on some malformed inputs, so the whole walk is wrapped in
// a recover.
func Pages(data []byte) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	if len(data) == 0 {
		return nil, fmt.Errorf("empty document")
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	total := reader.NumPage()
	pages = make([]string, 0, total)
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			pages = append(pages, "")
			continue
		}
		pages = append(pages, text)
	}
	return pages, nil
}
