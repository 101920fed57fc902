package extractor

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"refind/internal/util"

	"github.com/ledongthuc/pdf"
)

// LocalText extracts plain text from the PDF without the parsing service.
// It loses all structure, so it is only a fallback when GROBID produced no
// usable body text.
func LocalText(pdfBytes []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(pdfBytes), int64(len(pdfBytes)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, reader); err != nil {
		return "", fmt.Errorf("read extracted text: %w", err)
	}
	text := util.SanitizeText(strings.TrimSpace(buf.String()))
	if text == "" {
		return "", util.ErrNoExtractableText
	}
	return text, nil
}
