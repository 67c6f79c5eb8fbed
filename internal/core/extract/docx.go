package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// docxText reads word/document.xml out of the DOCX archive and walks it,
// emitting a newline per paragraph and a tab between table cells.
func docxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx archive: %w", err)
	}
	var doc io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc, err = f.Open()
			if err != nil {
				return "", fmt.Errorf("open document.xml: %w", err)
			}
			break
		}
	}
	if doc == nil {
		return "", errors.New("docx archive has no word/document.xml")
	}
	defer doc.Close()

	var b strings.Builder
	dec := xml.NewDecoder(doc)
	inCell := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				var s string
				if err := dec.DecodeElement(&s, &t); err != nil {
					return "", fmt.Errorf("parse document.xml: %w", err)
				}
				b.WriteString(s)
			case "tc":
				inCell++
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				// Paragraphs inside table cells stay on the cell's row.
				if inCell == 0 {
					b.WriteString("\n")
				}
			case "tc":
				if inCell > 0 {
					inCell--
				}
				b.WriteString("\t")
			case "tr":
				b.WriteString("\n")
			}
		}
	}
	return b.String(), nil
}
