package extract

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"code.sajari.com/docconv"
	"github.com/ledongthuc/pdf"
)

// pdfText converts PDF bytes to text. docconv (pdftotext) handles layout far
// better, so it goes first; the pure-Go reader is the fallback for
// environments without poppler installed.
func pdfText(data []byte) (string, error) {
	res, err := docconv.Convert(bytes.NewReader(data), "application/pdf", true)
	if err == nil && strings.TrimSpace(res.Body) != "" {
		return res.Body, nil
	}

	text, fbErr := pdfTextFallback(data)
	if fbErr != nil {
		if err != nil {
			return "", fmt.Errorf("pdf conversion failed: %w", err)
		}
		return "", fmt.Errorf("pdf conversion failed: %w", fbErr)
	}
	return text, nil
}

func pdfTextFallback(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if _, err := io.Copy(&b, plain); err != nil {
		return "", err
	}
	return b.String(), nil
}
