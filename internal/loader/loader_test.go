package loader

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

// zipOf builds an archive holding the given name/content pairs in order.
func zipOf(t *testing.T, entries ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for i := 0; i+1 < len(entries); i += 2 {
		fw, err := w.Create(entries[i])
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(entries[i+1])); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func wordXML(text string) string {
	return `<w:document><w:body><w:p w:rsidR="00AB"><w:r><w:t xml:space="preserve">` + text + `</w:t></w:r></w:p></w:body></w:document>`
}

func slideXML(text string) string {
	return `<p:sld><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` + text + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
}

func contentTypes(override string) string {
	return `<?xml version="1.0" encoding="UTF-8"?><Types>` + override + `</Types>`
}

func xlsxBytes(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "Title")
	f.SetCellValue("Sheet1", "A2", "Value 1")
	f.SetCellValue("Sheet1", "B2", "Value 2")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	return buf.Bytes()
}

func TestText(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		ext     string
		want    string
	}{
		{"plain", []byte("Hello world\nLine 2"), ".txt", "Hello world\nLine 2"},
		{"plain utf8", []byte("caf\xc3\xa9"), ".md", "café"},
		{"plain invalid utf8", []byte("hello\x80world"), ".rst", "hello�world"},
		{"unknown extension", []byte("raw content"), ".xyz", "raw content"},
		{"xlsx", xlsxBytes(t), ".xlsx", "Title\nValue 1\tValue 2"},
		{"docx", zipOf(t, "word/document.xml", wordXML("Searchable docx content")), ".docx", "Searchable docx content"},
		{
			"docx main part from content types",
			zipOf(t,
				"[Content_Types].xml", contentTypes(`<Override PartName="/word/document2.xml" ContentType="`+docxMainContentType+`"/>`),
				"word/document2.xml", wordXML("From document2")),
			".docx", "From document2",
		},
		{
			"docx content type before part name",
			zipOf(t,
				"[Content_Types].xml", contentTypes(`<Override ContentType="`+docxMainContentType+`" PartName="/word/document3.xml"/>`),
				"word/document3.xml", wordXML("Reversed order")),
			".docx", "Reversed order",
		},
		{
			"pptx slides in number order",
			zipOf(t,
				"ppt/slides/slide10.xml", slideXML("Tenth"),
				"ppt/slides/slide2.xml", slideXML("Second"),
				"ppt/slides/slide1.xml", slideXML("First"),
				"ppt/slides/_rels/slide1.xml.rels", "<Relationships/>"),
			".pptx", "First Second Tenth",
		},
		{"pptx without text", zipOf(t, "ppt/slides/slide1.xml", "<p:sld/>"), ".pptx", ""},
		{
			"odp in document order",
			zipOf(t, "content.xml", `<office:body><draw:page><text:h>Slide title</text:h><text:p>Body <text:span>bold</text:span></text:p></draw:page></office:body>`),
			".odp", "Slide title bold",
		},
		{
			"ods cells",
			zipOf(t, "content.xml", `<table:table-row><table:table-cell><text:p>Cell 1</text:p></table:table-cell><table:table-cell><text:p>Cell 2</text:p></table:table-cell></table:table-row>`),
			".ods", "Cell 1 Cell 2",
		},
		{"odt", zipOf(t, "content.xml", `<office:text><text:p text:style-name="P1">Writer text</text:p></office:text>`), ".odt", "Writer text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Text(tt.content, tt.ext)
			if err != nil {
				t.Fatalf("Text: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestText_errors(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		ext     string
	}{
		{"pptx not zip", []byte("not a zip"), ".pptx"},
		{"docx missing document", zipOf(t, "other.xml", "<x/>"), ".docx"},
		{"odp missing content", zipOf(t, "meta.xml", "<x/>"), ".odp"},
		{"ods not zip", []byte("plain"), ".ods"},
		{"pdf garbage", []byte("%PDF-garbage"), ".pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Text(tt.content, tt.ext); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoader_Load(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("File content"), 0600); err != nil {
		t.Fatal(err)
	}

	doc, err := New().Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Content != "File content" {
		t.Errorf("Content = %q", doc.Content)
	}
	if doc.Filepath != path {
		t.Errorf("Filepath = %q", doc.Filepath)
	}
	if doc.Metadata["filename"] != "notes.txt" || doc.Metadata["extension"] != ".txt" || doc.Metadata["size"] != "12" {
		t.Errorf("Metadata = %v", doc.Metadata)
	}
	if doc.Metadata["modified_at"] == "" {
		t.Error("missing modified_at")
	}

	xlsx := filepath.Join(dir, "data.xlsx")
	if err := os.WriteFile(xlsx, xlsxBytes(t), 0600); err != nil {
		t.Fatal(err)
	}
	doc, err = New().Load(xlsx)
	if err != nil {
		t.Fatalf("Load xlsx: %v", err)
	}
	if doc.Content != "Title\nValue 1\tValue 2" {
		t.Errorf("xlsx Content = %q", doc.Content)
	}
}

func TestLoader_LoadErrors(t *testing.T) {
	l := New()
	if _, err := l.Load("/nonexistent/path/file.txt"); err == nil {
		t.Error("expected error for nonexistent file")
	}
	if _, err := l.Load(t.TempDir()); err == nil {
		t.Error("expected error for directory")
	}
}

func TestLoader_Supports(t *testing.T) {
	l := New("txt", ".MD")
	for path, want := range map[string]bool{
		"a.txt":     true,
		"b.md":      true,
		"C.TXT":     true,
		"d.pdf":     false,
		"no_suffix": false,
	} {
		if got := l.Supports(path); got != want {
			t.Errorf("Supports(%q) = %v, want %v", path, got, want)
		}
	}
	if !New().Supports("slides.pptx") {
		t.Error("default loader should support .pptx")
	}
}
