package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

// heavyTimeout bounds CPU-bound extraction (PDF, DOCX, spreadsheets) so a
// pathological file cannot wedge an ingestion worker.
const heavyTimeout = 120 * time.Second

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrTimeout         = errors.New("text extraction timed out")
	ErrNotUTF8         = errors.New("file is not valid UTF-8 text")
)

type format int

const (
	formatUnknown format = iota
	formatPDF
	formatDocx
	formatXlsx
	formatXls
	formatCSV
	formatXML
	formatPlain
)

func detect(contentType, fileName string) format {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "application/pdf":
		return formatPDF
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return formatDocx
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return formatXlsx
	case "application/vnd.ms-excel":
		return formatXls
	case "text/csv":
		return formatCSV
	case "application/xml", "text/xml":
		return formatXML
	case "text/plain", "text/markdown":
		return formatPlain
	}
	// Browsers frequently upload with a generic content type, so fall back to
	// the file extension.
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return formatPDF
	case ".docx":
		return formatDocx
	case ".xlsx":
		return formatXlsx
	case ".xls":
		return formatXls
	case ".csv":
		return formatCSV
	case ".xml":
		return formatXML
	case ".txt", ".md", ".markdown", ".log":
		return formatPlain
	}
	return formatUnknown
}

// IsSupported reports whether Text can handle a file with the given content
// type and name.
func IsSupported(contentType, fileName string) bool {
	return detect(contentType, fileName) != formatUnknown
}

// Text extracts plain text from a file. Heavy binary formats run on their own
// goroutine under a wall-clock deadline.
func Text(ctx context.Context, data []byte, contentType, fileName string) (string, error) {
	switch detect(contentType, fileName) {
	case formatPDF:
		return withTimeout(ctx, data, pdfText)
	case formatDocx:
		return withTimeout(ctx, data, docxText)
	case formatXlsx:
		return withTimeout(ctx, data, xlsxText)
	case formatXls:
		return withTimeout(ctx, data, xlsText)
	case formatCSV:
		return csvText(data)
	case formatXML:
		return xmlText(data)
	case formatPlain:
		if !utf8.Valid(data) {
			return "", ErrNotUTF8
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("%w: %s (%s)", ErrUnsupportedType, fileName, contentType)
	}
}

type result struct {
	text string
	err  error
}

func withTimeout(ctx context.Context, data []byte, fn func([]byte) (string, error)) (string, error) {
	done := make(chan result, 1)
	go func() {
		text, err := fn(data)
		done <- result{text, err}
	}()
	select {
	case r := <-done:
		return r.text, r.err
	case <-time.After(heavyTimeout):
		return "", ErrTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
