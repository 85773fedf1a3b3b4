package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/fruitsalade/sdbrowser/internal/logging"
	"github.com/fruitsalade/sdbrowser/internal/render"
	"github.com/fruitsalade/sdbrowser/pkg/client"
	"github.com/fruitsalade/sdbrowser/pkg/models"
	"github.com/fruitsalade/sdbrowser/pkg/tree"
)

// Actions performs file operations against the card. *client.FileClient
// implements it.
type Actions interface {
	DeleteFile(ctx context.Context, path string) (string, error)
	CreateDirectory(ctx context.Context, parent, name string) (string, error)
	RemoveDirectory(ctx context.Context, path string) (string, error)
	Download(ctx context.Context, path string, w io.Writer) (int64, error)
	Upload(ctx context.Context, folder, name string, r io.Reader, size int64, progress client.ProgressFunc) error
}

// TreeMsg delivers a decoded listing. It replaces the view.
type TreeMsg struct {
	Tree *models.Tree
}

// StatusMsg delivers a status line.
type StatusMsg string

type actionDoneMsg struct {
	status string
	err    error
}

type mode int

const (
	modeBrowse mode = iota
	modeConfirm
	modePrompt
)

type row struct {
	path  string
	entry models.Entry
	depth int
}

type actionFunc func(ctx context.Context) (string, error)

// Options configures the browser model.
type Options struct {
	// URL is shown in the header.
	URL string

	Files Actions

	// Refresh asks the server for a new listing.
	Refresh func() error

	// DownloadDir receives downloaded files. Empty means the working directory.
	DownloadDir string

	// Notify delivers messages from running actions, such as upload
	// progress. tea.Program.Send fits.
	Notify func(tea.Msg)
}

// Model is the Bubble Tea model of the browser.
type Model struct {
	ctx  context.Context
	opts Options

	tree     *models.Tree
	rows     []row
	expanded map[string]bool
	cursor   int
	offset   int

	status string
	failed bool

	mode     mode
	question string
	pending  actionFunc
	submit   func(ctx context.Context, value string) (string, error)
	input    textinput.Model

	spinner spinner.Model
	help    help.Model
	busy    bool

	width    int
	height   int
	quitting bool
}

// NewModel creates a browser model. ctx bounds every file action.
func NewModel(ctx context.Context, opts Options) Model {
	input := textinput.New()
	input.Prompt = ""
	input.CharLimit = 256
	input.Cursor.SetMode(cursor.CursorStatic)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = statusStyle

	return Model{
		ctx:      ctx,
		opts:     opts,
		expanded: make(map[string]bool),
		status:   "Connecting...",
		input:    input,
		spinner:  sp,
		help:     help.New(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.scroll()
		return m, nil

	case TreeMsg:
		m.setTree(msg.Tree)
		return m, nil

	case StatusMsg:
		m.setStatus(string(msg))
		return m, nil

	case actionDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.setError(msg.err)
			return m, nil
		}
		m.setStatus(msg.status)
		if m.opts.Refresh != nil {
			if err := m.opts.Refresh(); err != nil {
				logging.Warn("listing refresh after action failed", zap.Error(err))
			}
		}
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch m.mode {
		case modeConfirm:
			return m.updateConfirm(msg)
		case modePrompt:
			return m.updatePrompt(msg)
		}
		return m.updateBrowse(msg)
	}

	return m, nil
}

func (m Model) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
			m.scroll()
		}

	case key.Matches(msg, keys.Down):
		if m.cursor < len(m.rows)-1 {
			m.cursor++
			m.scroll()
		}

	case key.Matches(msg, keys.Toggle):
		if r, ok := m.selected(); ok && r.entry.IsDir() {
			m.expanded[r.path] = !m.expanded[r.path]
			m.rebuild()
		}

	case key.Matches(msg, keys.Refresh):
		m.requestListing()

	case m.busy && isAction(msg):
		m.setError(errors.New("another action is still running"))

	case key.Matches(msg, keys.Delete):
		r, ok := m.selected()
		if !ok || r.entry.IsDir() {
			m.setError(errors.New("select a file to delete"))
			break
		}
		p, files := r.path, m.opts.Files
		m.ask("Delete "+p+"?", func(ctx context.Context) (string, error) {
			return files.DeleteFile(ctx, p)
		})

	case key.Matches(msg, keys.Rmdir):
		r, ok := m.selected()
		switch {
		case !ok || !r.entry.IsDir():
			m.setError(errors.New("select a folder to remove"))
		case r.path == tree.RootPrefix:
			m.setError(errors.New("the card root cannot be removed"))
		case !tree.IsEmptyDir(r.entry):
			m.setError(errors.New("only empty folders can be removed"))
		default:
			p, files := r.path, m.opts.Files
			m.ask("Remove folder "+p+"?", func(ctx context.Context) (string, error) {
				return files.RemoveDirectory(ctx, p)
			})
		}

	case key.Matches(msg, keys.Mkdir):
		folder := m.folder()
		files := m.opts.Files
		return m.prompt("New folder in "+folder+": ", func(ctx context.Context, name string) (string, error) {
			return files.CreateDirectory(ctx, folder, name)
		})

	case key.Matches(msg, keys.Upload):
		folder := m.folder()
		files, notify := m.opts.Files, m.opts.Notify
		return m.prompt("Upload to "+folder+", local file: ", func(ctx context.Context, local string) (string, error) {
			return uploadFile(ctx, files, folder, local, notify)
		})

	case key.Matches(msg, keys.Download):
		r, ok := m.selected()
		if !ok || r.entry.IsDir() {
			m.setError(errors.New("select a file to download"))
			break
		}
		p, dir, files := r.path, m.opts.DownloadDir, m.opts.Files
		return m, m.run(func(ctx context.Context) (string, error) {
			return downloadFile(ctx, files, p, dir)
		})
	}

	return m, nil
}

func (m Model) updateConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Confirm):
		m.mode = modeBrowse
		fn := m.pending
		m.pending = nil
		return m, m.run(fn)
	case key.Matches(msg, keys.Cancel):
		m.mode = modeBrowse
		m.pending = nil
		m.setStatus("Cancelled")
	}
	return m, nil
}

func (m Model) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Submit):
		value := strings.TrimSpace(m.input.Value())
		submit := m.submit
		m.endPrompt()
		if value == "" {
			m.setStatus("Cancelled")
			return m, nil
		}
		return m, m.run(func(ctx context.Context) (string, error) {
			return submit(ctx, value)
		})
	case key.Matches(msg, keys.Escape):
		m.endPrompt()
		m.setStatus("Cancelled")
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func isAction(msg tea.KeyMsg) bool {
	return key.Matches(msg, keys.Delete, keys.Rmdir, keys.Mkdir, keys.Upload, keys.Download)
}

func (m *Model) ask(question string, fn actionFunc) {
	m.mode = modeConfirm
	m.question = question
	m.pending = fn
}

func (m Model) prompt(question string, submit func(context.Context, string) (string, error)) (tea.Model, tea.Cmd) {
	m.mode = modePrompt
	m.question = question
	m.submit = submit
	m.input.Reset()
	return m, m.input.Focus()
}

func (m *Model) endPrompt() {
	m.mode = modeBrowse
	m.submit = nil
	m.input.Blur()
	m.input.Reset()
}

// run starts fn in the background and reports its outcome as an actionDoneMsg.
func (m *Model) run(fn actionFunc) tea.Cmd {
	m.busy = true
	ctx := m.ctx
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		status, err := fn(ctx)
		return actionDoneMsg{status: status, err: err}
	})
}

func (m *Model) requestListing() {
	if m.opts.Refresh == nil {
		return
	}
	if err := m.opts.Refresh(); err != nil {
		m.setError(fmt.Errorf("listing not requested: %w", err))
		return
	}
	m.setStatus("Listing requested...")
}

func (m *Model) setStatus(s string) {
	m.status = s
	m.failed = false
}

func (m *Model) setError(err error) {
	m.status = err.Error()
	m.failed = true
}

// setTree replaces the view with t. Expanded folders that still exist stay
// expanded and the cursor follows the selected path when it survives.
func (m *Model) setTree(t *models.Tree) {
	var selected string
	if r, ok := m.selected(); ok {
		selected = r.path
	}
	first := m.tree == nil
	m.tree = t

	dirs := make(map[string]bool)
	_ = tree.Walk(t, func(p string, e models.Entry) error {
		if e.IsDir() {
			dirs[p] = true
		}
		return nil
	})
	for p := range m.expanded {
		if !dirs[p] {
			delete(m.expanded, p)
		}
	}
	if first {
		for _, e := range t.Entries {
			if e.IsDir() {
				m.expanded[tree.BuildChildPath("", e.Name)] = true
			}
		}
	}

	m.rebuild()
	for i, r := range m.rows {
		if r.path == selected {
			m.cursor = i
			break
		}
	}
	m.scroll()
}

// rebuild lists the visible rows: every entry whose ancestors are expanded.
func (m *Model) rebuild() {
	var rows []row
	_ = tree.Walk(m.tree, func(p string, e models.Entry) error {
		rows = append(rows, row{path: p, entry: e, depth: strings.Count(p, "/") - 1})
		if e.IsDir() && !m.expanded[p] {
			return tree.SkipDir
		}
		return nil
	})
	m.rows = rows
	if m.cursor >= len(m.rows) {
		m.cursor = len(m.rows) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m Model) selected() (row, bool) {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return row{}, false
	}
	return m.rows[m.cursor], true
}

// folder is the target of new folders and uploads: the selected folder, or
// the folder holding the selected file.
func (m Model) folder() string {
	r, ok := m.selected()
	switch {
	case !ok:
		return tree.RootPrefix
	case r.entry.IsDir():
		return r.path
	default:
		return tree.ParentPath(r.path)
	}
}

// visibleRows is how many tree rows fit under the header and above the
// prompt and help lines.
func (m Model) visibleRows() int {
	if m.height <= 0 {
		return len(m.rows)
	}
	return max(1, m.height-7)
}

func (m *Model) scroll() {
	n := m.visibleRows()
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+n {
		m.offset = m.cursor - n + 1
	}
	if m.offset > len(m.rows)-n {
		m.offset = max(0, len(m.rows)-n)
	}
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("SD Browser"))
	if m.opts.URL != "" {
		b.WriteString("  " + urlStyle.Render(m.opts.URL))
	}
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n\n")

	if m.tree == nil {
		b.WriteString(metaStyle.Render("Waiting for listing..."))
		b.WriteString("\n")
	} else {
		end := min(len(m.rows), m.offset+m.visibleRows())
		for i := m.offset; i < end; i++ {
			b.WriteString(m.renderRow(m.rows[i], i == m.cursor))
			b.WriteString("\n")
		}
	}

	switch m.mode {
	case modeConfirm:
		b.WriteString("\n" + promptStyle.Render(m.question+" (y/n)"))
	case modePrompt:
		b.WriteString("\n" + promptStyle.Render(m.question) + m.input.View())
	}

	b.WriteString("\n" + helpStyle.Render(m.help.View(keys)))
	return b.String()
}

func (m Model) statusLine() string {
	var prefix string
	if m.busy {
		prefix = m.spinner.View() + " "
	}
	if m.failed {
		return prefix + errorStyle.Render(m.status)
	}
	return prefix + statusStyle.Render(m.status)
}

func (m Model) renderRow(r row, selected bool) string {
	pointer := "  "
	if selected {
		pointer = cursorStyle.Render(">") + " "
	}
	indent := strings.Repeat("  ", r.depth)

	if r.entry.IsDir() {
		marker := "+"
		if m.expanded[r.path] {
			marker = "-"
		}
		return pointer + indent + marker + " " + dirStyle.Render(r.entry.Name)
	}
	return pointer + indent + "  " + r.entry.Name + "  " + metaStyle.Render(render.FileMeta(r.entry.File))
}
