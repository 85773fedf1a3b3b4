// Package render prints decoded listings for the non-interactive commands.
//
// Formats:
//   - tree: indented, styled with lipgloss when the output is a terminal
//   - json: the listing in its wire shape, entry order kept
//   - yaml: the same document as YAML, entry order kept
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/fruitsalade/sdbrowser/pkg/models"
	"github.com/fruitsalade/sdbrowser/pkg/tree"
)

// Format represents an output format.
type Format string

const (
	FormatTree Format = "tree"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat parses a format string. The empty string selects tree.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "tree":
		return FormatTree, nil
	case "json":
		return FormatJSON, nil
	case "yaml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("invalid format: %q (must be tree, json, or yaml)", s)
	}
}

// Renderer writes listings in one format.
type Renderer struct {
	format Format
	out    io.Writer
	styles styles
}

type styles struct {
	plain                    bool
	dir, file, meta, summary lipgloss.Style
}

func (s styles) paint(st lipgloss.Style, text string) string {
	if s.plain {
		return text
	}
	return st.Render(text)
}

// NewRenderer creates a renderer writing to out. noColor disables styling of
// the tree format.
func NewRenderer(format Format, noColor bool, out io.Writer) *Renderer {
	r := &Renderer{format: format, out: out}
	if noColor {
		r.styles.plain = true
		return r
	}

	lr := lipgloss.NewRenderer(out)
	r.styles = styles{
		dir:     lr.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		file:    lr.NewStyle(),
		meta:    lr.NewStyle().Foreground(lipgloss.Color("8")),
		summary: lr.NewStyle().Italic(true).Foreground(lipgloss.Color("8")),
	}
	return r
}

// Stdout creates a renderer on standard output.
func Stdout(format Format, noColor bool) *Renderer {
	return NewRenderer(format, noColor, os.Stdout)
}

// Render outputs the listing in the configured format.
func (r *Renderer) Render(t *models.Tree) error {
	if t == nil {
		t = &models.Tree{}
	}
	switch r.format {
	case FormatTree, "":
		return r.renderTree(t)
	case FormatJSON:
		return r.renderJSON(t)
	case FormatYAML:
		return r.renderYAML(t)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

func (r *Renderer) renderJSON(t *models.Tree) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(t)
}

func (r *Renderer) renderYAML(t *models.Tree) error {
	enc := yaml.NewEncoder(r.out)
	enc.SetIndent(2)
	if err := enc.Encode(Node(t)); err != nil {
		return err
	}
	return enc.Close()
}

func (r *Renderer) renderTree(t *models.Tree) error {
	var b strings.Builder
	r.writeLevel(&b, t, "")

	st := tree.Summarize(t)
	b.WriteString(r.styles.paint(r.styles.summary, Summary(st)))
	b.WriteByte('\n')

	_, err := io.WriteString(r.out, b.String())
	return err
}

func (r *Renderer) writeLevel(b *strings.Builder, t *models.Tree, indent string) {
	for i, e := range t.Entries {
		last := i == len(t.Entries)-1
		branch, next := "├── ", "│   "
		if last {
			branch, next = "└── ", "    "
		}

		b.WriteString(indent)
		b.WriteString(branch)
		if e.Dir != nil {
			b.WriteString(r.styles.paint(r.styles.dir, e.Name+"/"))
			b.WriteByte('\n')
			r.writeLevel(b, e.Dir, indent+next)
			continue
		}

		b.WriteString(r.styles.paint(r.styles.file, e.Name))
		b.WriteString("  ")
		b.WriteString(r.styles.paint(r.styles.meta, FileMeta(e.File)))
		b.WriteByte('\n')
	}
}

// FileMeta formats a file's size and modification time.
func FileMeta(fi *models.FileInfo) string {
	if fi == nil {
		return ""
	}
	if fi.LastModified == "" {
		return tree.HumanSize(fi.Size)
	}
	return tree.HumanSize(fi.Size) + "  " + fi.LastModified
}

// Summary describes tree statistics in one line.
func Summary(st tree.Stats) string {
	return fmt.Sprintf("%d %s, %d %s, %s",
		st.Files, plural(st.Files, "file", "files"),
		st.Dirs, plural(st.Dirs, "folder", "folders"),
		tree.HumanSize(st.TotalSize))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// Node converts a listing to an ordered YAML mapping.
func Node(t *models.Tree) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode}
	if t == nil {
		return n
	}
	for _, e := range t.Entries {
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Name}
		var val *yaml.Node
		if e.Dir != nil {
			val = Node(e.Dir)
		} else {
			val = fileNode(e.File)
		}
		n.Content = append(n.Content, key, val)
	}
	return n
}

func fileNode(fi *models.FileInfo) *yaml.Node {
	if fi == nil {
		fi = &models.FileInfo{}
	}
	scalar := func(tag, v string) *yaml.Node {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: v}
	}
	return &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{
		scalar("!!str", "type"), scalar("!!str", models.FileType),
		scalar("!!str", "size"), scalar("!!int", strconv.FormatInt(fi.Size, 10)),
		scalar("!!str", "lastModified"), scalar("!!str", fi.LastModified),
	}}
}
