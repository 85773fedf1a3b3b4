package devserver

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/sdbrowser/pkg/client"
	"github.com/fruitsalade/sdbrowser/pkg/models"
	"github.com/fruitsalade/sdbrowser/pkg/protocol"
	"github.com/fruitsalade/sdbrowser/pkg/stream"
	"github.com/fruitsalade/sdbrowser/pkg/tree"
)

// newCard builds:
//
//	a.txt      "hello"
//	docs/
//	  notes.md "# notes"
//	empty/
//	.hidden
func newCard(t *testing.T) *Card {
	t.Helper()
	root := t.TempDir()
	write := func(rel, content string) {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	write("a.txt", "hello")
	write("docs/notes.md", "# notes")
	write(".hidden", "x")
	require.NoError(t, os.Mkdir(filepath.Join(root, "empty"), 0o755))

	card, err := NewCard(root)
	require.NoError(t, err)
	return card
}

func TestNewCardRejectsFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(f, nil, 0o644))
	_, err := NewCard(f)
	assert.ErrorContains(t, err, "not a directory")

	_, err = NewCard(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestFramesMatchFirmwareShape(t *testing.T) {
	card := newCard(t)
	frames, err := card.Frames()
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(frames), 3)
	assert.Equal(t, `{"SD":{`, frames[0])
	assert.Equal(t, `}}`, frames[len(frames)-1])
	assert.True(t, strings.HasPrefix(frames[1], `"a.txt": {"type": "file", "size": 5, "lastModified": "`), frames[1])
	assert.Equal(t, ",", frames[2])
	assert.Contains(t, frames, `"docs": {`)
	assert.Contains(t, frames, `"empty": {`)
	for _, f := range frames {
		assert.NotContains(t, f, ".hidden")
	}

	tr, err := models.Parse([]byte(strings.Join(frames, "")))
	require.NoError(t, err)
	st := tree.Summarize(tr)
	assert.Equal(t, 2, st.Files)
	assert.Equal(t, 3, st.Dirs) // SD, docs, empty
	assert.Equal(t, int64(12), st.TotalSize)
}

func TestCardStaysInsideRoot(t *testing.T) {
	card := newCard(t)
	assert.Equal(t, card.Root(), card.path("/../../"))
	assert.Equal(t, filepath.Join(card.Root(), "etc"), card.path("../etc"))
}

func TestShape(t *testing.T) {
	frames := []string{`{"SD":{`, `"d": {`, `}`, `}}`}

	assert.Equal(t, frames, Shape(frames, FramingFragments, 0, 0))
	assert.Equal(t, []string{`{"SD":{`, `"d": {`, `}`, `}`}, Shape(frames, FramingFragments, 0, 1))
	assert.Equal(t, []string{`{"SD":{`, `"d": {`}, Shape(frames, FramingFragments, 0, 3))

	chunks := Shape(frames, FramingChunks, 5, 0)
	assert.Equal(t, `{"SD":{"d": {}}}`, strings.Join(chunks, ""))
	for _, c := range chunks[:len(chunks)-1] {
		assert.Len(t, c, 5)
	}
	assert.Equal(t, frames, []string{`{"SD":{`, `"d": {`, `}`, `}}`}, "input modified")
}

func TestParseFraming(t *testing.T) {
	f, err := ParseFraming("")
	require.NoError(t, err)
	assert.Equal(t, FramingFragments, f)
	f, err = ParseFraming("chunks")
	require.NoError(t, err)
	assert.Equal(t, FramingChunks, f)
	_, err = ParseFraming("lines")
	assert.Error(t, err)
}

func get(t *testing.T, ts *httptest.Server, route string, q url.Values) (int, string) {
	t.Helper()
	resp, err := http.Get(ts.URL + route + "?" + q.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, strings.TrimSpace(string(body))
}

func TestFileRouteErrors(t *testing.T) {
	card := newCard(t)
	ts := httptest.NewServer(New(card, Options{}).HTTPHandler())
	defer ts.Close()

	tests := []struct {
		name   string
		route  string
		q      url.Values
		status int
		body   string
	}{
		{"missing action", protocol.FileRoute, url.Values{"name": {"/a.txt"}}, 400, protocol.ErrMissingParams},
		{"long name", protocol.FileRoute, url.Values{"name": {"/" + strings.Repeat("n", 50)}, "action": {"delete"}}, 400, protocol.ErrInvalidName},
		{"dotdot", protocol.DirRoute, url.Values{"name": {"/../x"}, "action": {"create"}}, 400, protocol.ErrInvalidName},
		{"not found", protocol.FileRoute, url.Values{"name": {"/nope"}, "action": {"delete"}}, 404, protocol.ErrFileNotFound},
		{"bad action", protocol.FileRoute, url.Values{"name": {"/a.txt"}, "action": {"rename"}}, 400, protocol.ErrInvalidAction},
		{"bad dir action", protocol.DirRoute, url.Values{"name": {"/docs"}, "action": {"rename"}}, 400, protocol.ErrInvalidAction},
		{"rmdir not empty", protocol.DirRoute, url.Values{"name": {"/docs"}, "action": {"delete"}}, 500, protocol.ErrDeleteDir},
		{"mkdir no parent", protocol.DirRoute, url.Values{"name": {"/x/y"}, "action": {"create"}}, 500, protocol.ErrCreateDir},
		{"delete dir as file", protocol.FileRoute, url.Values{"name": {"/docs"}, "action": {"delete"}}, 500, protocol.ErrDeleteFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := get(t, ts, tt.route, tt.q)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.body, body)
		})
	}
}

func TestNameWithoutLeadingSlash(t *testing.T) {
	card := newCard(t)
	ts := httptest.NewServer(New(card, Options{}).HTTPHandler())
	defer ts.Close()

	status, body := get(t, ts, protocol.FileRoute, url.Values{"name": {"a.txt"}, "action": {"DELETE"}})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Deleted File: /a.txt", body)
	assert.False(t, card.Exists("/a.txt"))
}

// TestFileClientAgainstServer drives every file action through the client.
func TestFileClientAgainstServer(t *testing.T) {
	card := newCard(t)
	ts := httptest.NewServer(New(card, Options{}).HTTPHandler())
	defer ts.Close()

	fc := client.NewFileClient(client.Config{BaseURL: ts.URL})
	ctx := context.Background()

	var buf bytes.Buffer
	n, err := fc.Download(ctx, "/SD/docs/notes.md", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, "# notes", buf.String())

	msg, err := fc.CreateDirectory(ctx, "/SD/docs", "pics")
	require.NoError(t, err)
	assert.Equal(t, "Dir Created: /docs/pics", msg)

	require.NoError(t, fc.Upload(ctx, "/SD/docs/pics", "cat.jpg", strings.NewReader("meow"), 4, nil))
	data, err := os.ReadFile(filepath.Join(card.Root(), "docs", "pics", "cat.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "meow", string(data))

	msg, err = fc.DeleteFile(ctx, "/SD/docs/pics/cat.jpg")
	require.NoError(t, err)
	assert.Equal(t, "Deleted File: /docs/pics/cat.jpg", msg)

	msg, err = fc.RemoveDirectory(ctx, "/SD/docs/pics")
	require.NoError(t, err)
	assert.Equal(t, "Deleted Dir: /docs/pics", msg)
	assert.False(t, card.Exists("/docs/pics"))

	_, err = fc.DeleteFile(ctx, "/SD/missing.txt")
	ae, ok := client.AsActionError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, http.StatusNotFound, ae.Status)
}

func socketConfig(t *testing.T, ts *httptest.Server) client.SessionConfig {
	t.Helper()
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return client.SessionConfig{Origin: ts.URL, Port: port, Settle: 200 * time.Millisecond}
}

func TestListingOverSocket(t *testing.T) {
	card := newCard(t)
	frames, err := card.Frames()
	require.NoError(t, err)
	want, err := models.Parse([]byte(strings.Join(frames, "")))
	require.NoError(t, err)

	tests := []struct {
		name string
		opts Options
	}{
		{"fragments", Options{Framing: FramingFragments}},
		{"chunks", Options{Framing: FramingChunks, ChunkSize: 7}},
		{"truncated", Options{Framing: FramingFragments, DropBraces: 1}},
		{"truncated chunks", Options{Framing: FramingChunks, ChunkSize: 16, DropBraces: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(New(card, tt.opts).WSHandler())
			defer ts.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			got, err := client.ListOnce(ctx, socketConfig(t, ts), nil)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestListingTokensRepair(t *testing.T) {
	card := newCard(t)
	ts := httptest.NewServer(New(card, Options{DropBraces: 3}).WSHandler())
	defer ts.Close()

	cfg := socketConfig(t, ts)
	cfg.Stream = stream.Config{Repair: stream.RepairTokens}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := client.ListOnce(ctx, cfg, nil)
	require.NoError(t, err)
	_, ok := tree.FindByPath(got, "/SD/docs/notes.md")
	assert.True(t, ok)
}

func TestServeAndShutdown(t *testing.T) {
	card := newCard(t)
	s := New(card, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0", "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestEnsureCard(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sd")
	require.NoError(t, EnsureCard(dir))
	assert.FileExists(t, filepath.Join(dir, "hello.txt"))

	// An existing directory is left alone.
	require.NoError(t, os.Remove(filepath.Join(dir, "hello.txt")))
	require.NoError(t, EnsureCard(dir))
	assert.NoFileExists(t, filepath.Join(dir, "hello.txt"))
}
