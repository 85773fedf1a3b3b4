package render

import (
	"bytes"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/fruitsalade/sdbrowser/pkg/models"
	"github.com/fruitsalade/sdbrowser/pkg/tree"
)

const listing = `{"SD":{"a.txt":{"type":"file","size":10,"lastModified":"t1"},` +
	`"docs":{"notes.md":{"type":"file","size":2048,"lastModified":"t"},"old":{}},` +
	`"b.bin":{"type":"file","size":7,"lastModified":"t"}}}`

func mustTree(t *testing.T) *models.Tree {
	t.Helper()
	tr, err := models.Parse([]byte(listing))
	if err != nil {
		t.Fatalf("parse listing: %v", err)
	}
	return tr
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"", FormatTree, false},
		{"tree", FormatTree, false},
		{"JSON", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"table", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestRenderer_Tree(t *testing.T) {
	var buf bytes.Buffer
	if err := NewRenderer(FormatTree, true, &buf).Render(mustTree(t)); err != nil {
		t.Fatalf("Render: %v", err)
	}

	want := strings.Join([]string{
		"└── SD/",
		"    ├── a.txt  10.00 B  t1",
		"    ├── docs/",
		"    │   ├── notes.md  2.00 KB  t",
		"    │   └── old/",
		"    └── b.bin  7.00 B  t",
		"3 files, 3 folders, 2.02 KB",
		"",
	}, "\n")
	if buf.String() != want {
		t.Errorf("tree output:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestRenderer_TreeEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := NewRenderer(FormatTree, true, &buf).Render(nil); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if buf.String() != "0 files, 0 folders, 0.00 B\n" {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestRenderer_ColorStillListsEntries(t *testing.T) {
	var buf bytes.Buffer
	if err := NewRenderer(FormatTree, false, &buf).Render(mustTree(t)); err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, name := range []string{"SD/", "a.txt", "docs/", "notes.md", "old/", "b.bin"} {
		if !strings.Contains(buf.String(), name) {
			t.Errorf("output missing %q:\n%s", name, buf.String())
		}
	}
}

func TestRenderer_JSONKeepsOrder(t *testing.T) {
	var buf bytes.Buffer
	if err := NewRenderer(FormatJSON, false, &buf).Render(mustTree(t)); err != nil {
		t.Fatalf("Render: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "\n  \"SD\": {") {
		t.Errorf("expected indented output, got:\n%s", out)
	}
	if strings.Index(out, "a.txt") > strings.Index(out, "b.bin") {
		t.Errorf("entry order lost:\n%s", out)
	}

	back, err := models.Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("output does not parse: %v", err)
	}
	if tree.CountNodes(back) != tree.CountNodes(mustTree(t)) {
		t.Errorf("round trip lost entries")
	}
}

func TestRenderer_YAML(t *testing.T) {
	var buf bytes.Buffer
	if err := NewRenderer(FormatYAML, false, &buf).Render(mustTree(t)); err != nil {
		t.Fatalf("Render: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"SD:\n", "  a.txt:\n", "    type: file\n", "      size: 2048\n", "old: {}"} {
		if !strings.Contains(out, want) {
			t.Errorf("yaml missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "a.txt") > strings.Index(out, "docs") || strings.Index(out, "docs") > strings.Index(out, "b.bin") {
		t.Errorf("entry order lost:\n%s", out)
	}

	var decoded map[string]map[string]any
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("yaml does not parse: %v", err)
	}
	file, ok := decoded["SD"]["b.bin"].(map[string]any)
	if !ok || file["size"] != 7 {
		t.Errorf("b.bin decoded as %#v", decoded["SD"]["b.bin"])
	}
}

func TestSummary(t *testing.T) {
	got := Summary(tree.Stats{Files: 1, Dirs: 1, TotalSize: 1536})
	if got != "1 file, 1 folder, 1.50 KB" {
		t.Errorf("Summary = %q", got)
	}
}

func TestFileMeta(t *testing.T) {
	if got := FileMeta(&models.FileInfo{Size: 512}); got != "512.00 B" {
		t.Errorf("FileMeta without date = %q", got)
	}
	if got := FileMeta(&models.FileInfo{Size: 1, LastModified: "2024-1-2 3:4:5"}); got != "1.00 B  2024-1-2 3:4:5" {
		t.Errorf("FileMeta = %q", got)
	}
	if FileMeta(nil) != "" {
		t.Error("FileMeta(nil) should be empty")
	}
}
