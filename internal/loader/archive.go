package loader

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	contentTypesPath    = "[Content_Types].xml"
	docxDefaultPath     = "word/document.xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
	openDocumentPath    = "content.xml"
)

var (
	// <w:t> runs of a Word document, with any attributes.
	wordText = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	// <a:t> runs of a slide.
	drawingText = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)
	// text:p, text:h and text:span elements of an OpenDocument body, in document order.
	openDocText = regexp.MustCompile(`<text:(?:p|h|span)[^>]*>([^<]*)</text:(?:p|h|span)>`)
	// The Override element declaring the main document part, in either attribute order.
	mainPart = regexp.MustCompile(`<Override[^>]*(?:PartName="([^"]+)"[^>]*ContentType="` + regexp.QuoteMeta(docxMainContentType) +
		`"|ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]*PartName="([^"]+)")`)
	slideNumber = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
)

func openZip(content []byte, kind string) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open %s: not a zip: %w", kind, err)
	}
	return zr, nil
}

func readEntry(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", f.Name, err)
	}
	return string(data), nil
}

func findEntry(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// joinMatches joins the trimmed first group of every match of re with spaces.
func joinMatches(b *strings.Builder, re *regexp.Regexp, xml string) {
	for _, m := range re.FindAllStringSubmatch(xml, -1) {
		text := strings.TrimSpace(m[1])
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
}

// docxText extracts the <w:t> runs of the main document part named by
// [Content_Types].xml, falling back to word/document.xml.
func docxText(content []byte) (string, error) {
	zr, err := openZip(content, "DOCX")
	if err != nil {
		return "", err
	}
	docPath := docxDefaultPath
	if ct := findEntry(zr, contentTypesPath); ct != nil {
		if xml, err := readEntry(ct); err == nil {
			if m := mainPart.FindStringSubmatch(xml); m != nil {
				docPath = strings.TrimPrefix(m[1]+m[2], "/")
			}
		}
	}
	f := findEntry(zr, docPath)
	if f == nil {
		return "", fmt.Errorf("extract DOCX: %s not found", docPath)
	}
	xml, err := readEntry(f)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	var b strings.Builder
	joinMatches(&b, wordText, xml)
	return b.String(), nil
}

// pptxText extracts the <a:t> runs of every slide in slide-number order.
func pptxText(content []byte) (string, error) {
	zr, err := openZip(content, "PPTX")
	if err != nil {
		return "", err
	}
	type slide struct {
		n int
		f *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		if m := slideNumber.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			slides = append(slides, slide{n: n, f: f})
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	var b strings.Builder
	for _, s := range slides {
		xml, err := readEntry(s.f)
		if err != nil {
			return "", fmt.Errorf("extract PPTX: %w", err)
		}
		joinMatches(&b, drawingText, xml)
	}
	return b.String(), nil
}

// openDocumentText extracts the text elements of content.xml shared by .odt, .odp and .ods.
func openDocumentText(content []byte) (string, error) {
	zr, err := openZip(content, "OpenDocument")
	if err != nil {
		return "", err
	}
	f := findEntry(zr, openDocumentPath)
	if f == nil {
		return "", fmt.Errorf("extract OpenDocument: %s not found", openDocumentPath)
	}
	xml, err := readEntry(f)
	if err != nil {
		return "", fmt.Errorf("extract OpenDocument: %w", err)
	}
	var b strings.Builder
	joinMatches(&b, openDocText, xml)
	return b.String(), nil
}
