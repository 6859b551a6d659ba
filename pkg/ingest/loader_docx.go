package ingest

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// DocxLoader extracts text from .docx files, turning heading paragraphs
// into markdown-style "#" lines so the front-matter parser can pick up the
// title.
type DocxLoader struct{}

func NewDocxLoader() *DocxLoader {
	return &DocxLoader{}
}

func (l *DocxLoader) Load(path string) (string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("failed to open docx zip: %w", err)
	}
	defer r.Close()

	var docFile *zip.File
	for _, f := range r.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", fmt.Errorf("invalid docx: word/document.xml not found")
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	return parseDocxXML(rc)
}

// parseDocxXML streams the document XML and flattens paragraphs to text.
func parseDocxXML(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	var result strings.Builder

	var currentParaText strings.Builder
	var currentStyle string
	inParagraph := false
	inTextNode := false

	for {
		t, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch se := t.(type) {
		case xml.StartElement:
			switch se.Name.Local {
			case "p":
				inParagraph = true
				currentParaText.Reset()
				currentStyle = ""
			case "pStyle":
				for _, attr := range se.Attr {
					if attr.Name.Local == "val" {
						currentStyle = attr.Value
					}
				}
			case "t":
				inTextNode = true
			}

		case xml.CharData:
			if inParagraph && inTextNode {
				currentParaText.Write(se)
			}

		case xml.EndElement:
			switch se.Name.Local {
			case "t":
				inTextNode = false
			case "p":
				if inParagraph {
					if text := currentParaText.String(); strings.TrimSpace(text) != "" {
						result.WriteString(headingPrefix(currentStyle) + text + "\n\n")
					}
				}
				inParagraph = false
			}
		}
	}
	return result.String(), nil
}

// headingPrefix maps Word paragraph styles ("Heading1", "Heading 2", ...)
// to markdown markers.
func headingPrefix(style string) string {
	if !strings.Contains(strings.ToLower(style), "heading") {
		return ""
	}
	switch {
	case strings.Contains(style, "1"):
		return "# "
	case strings.Contains(style, "2"):
		return "## "
	case strings.Contains(style, "3"):
		return "### "
	}
	return ""
}
