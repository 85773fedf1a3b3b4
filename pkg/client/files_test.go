package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/fruitsalade/sdbrowser/pkg/protocol"
)

func testFileClient(handler http.Handler) (*FileClient, *httptest.Server) {
	ts := httptest.NewServer(handler)
	return NewFileClient(Config{BaseURL: ts.URL + "/"}), ts
}

func TestDeleteFile_StripsRootPrefix(t *testing.T) {
	var gotRoute, gotName, gotAction string
	c, ts := testFileClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRoute = r.URL.Path
		gotName = r.URL.Query().Get(protocol.ParamName)
		gotAction = r.URL.Query().Get(protocol.ParamAction)
		io.WriteString(w, protocol.DeletedFilePrefix+gotName)
	}))
	defer ts.Close()

	msg, err := c.DeleteFile(context.Background(), "/SD/docs/a.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotRoute != protocol.FileRoute {
		t.Errorf("expected route %s, got %s", protocol.FileRoute, gotRoute)
	}
	if gotName != "/docs/a.txt" {
		t.Errorf("expected name /docs/a.txt, got %q", gotName)
	}
	if gotAction != protocol.ActionDelete {
		t.Errorf("expected action delete, got %q", gotAction)
	}
	if msg != "Deleted File: /docs/a.txt" {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestCreateDirectory_AtRoot(t *testing.T) {
	var gotRoute, gotName, gotAction string
	c, ts := testFileClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRoute = r.URL.Path
		gotName = r.URL.Query().Get(protocol.ParamName)
		gotAction = r.URL.Query().Get(protocol.ParamAction)
		io.WriteString(w, protocol.CreatedDirPrefix+gotName)
	}))
	defer ts.Close()

	msg, err := c.CreateDirectory(context.Background(), "/SD", " photos ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotRoute != protocol.DirRoute || gotAction != protocol.ActionCreate {
		t.Errorf("expected %s?action=create, got %s?action=%s", protocol.DirRoute, gotRoute, gotAction)
	}
	if gotName != "/photos" {
		t.Errorf("expected name /photos, got %q", gotName)
	}
	if msg != "Dir Created: /photos" {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestCreateDirectory_RejectsNestedName(t *testing.T) {
	c := NewFileClient(Config{BaseURL: "http://127.0.0.1:1"})
	for _, name := range []string{"", "  ", "a/b"} {
		if _, err := c.CreateDirectory(context.Background(), "/SD", name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("name %q: expected ErrInvalidName, got %v", name, err)
		}
	}
}

func TestRemoveDirectory(t *testing.T) {
	var gotName, gotAction string
	c, ts := testFileClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotName = r.URL.Query().Get(protocol.ParamName)
		gotAction = r.URL.Query().Get(protocol.ParamAction)
		io.WriteString(w, protocol.DeletedDirPrefix+gotName)
	}))
	defer ts.Close()

	if _, err := c.RemoveDirectory(context.Background(), "/SD/old"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotName != "/old" || gotAction != protocol.ActionDelete {
		t.Errorf("expected name=/old action=delete, got name=%q action=%q", gotName, gotAction)
	}
}

func TestInvalidNameNeverReachesServer(t *testing.T) {
	var hits atomic.Int32
	c, ts := testFileClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer ts.Close()

	long := "/SD/" + strings.Repeat("x", protocol.MaxNameLength+1)
	if _, err := c.DeleteFile(context.Background(), long); !errors.Is(err, ErrInvalidName) {
		t.Errorf("long name: expected ErrInvalidName, got %v", err)
	}
	if _, err := c.RemoveDirectory(context.Background(), "/SD/../etc"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("dotdot: expected ErrInvalidName, got %v", err)
	}
	if hits.Load() != 0 {
		t.Errorf("expected no requests, got %d", hits.Load())
	}
}

func TestActionError(t *testing.T) {
	c, ts := testFileClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, protocol.ErrFileNotFound, http.StatusBadRequest)
	}))
	defer ts.Close()

	_, err := c.DeleteFile(context.Background(), "/SD/missing.txt")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	ae, ok := AsActionError(err)
	if !ok {
		t.Fatalf("expected ActionError, got %T: %v", err, err)
	}
	if ae.Status != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", ae.Status)
	}
	if ae.Message != protocol.ErrFileNotFound {
		t.Errorf("expected message %q, got %q", protocol.ErrFileNotFound, ae.Message)
	}
	if ae.Path != "/missing.txt" {
		t.Errorf("expected path /missing.txt, got %q", ae.Path)
	}
}

func TestDownload(t *testing.T) {
	c, ts := testFileClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get(protocol.ParamAction) != protocol.ActionDownload {
			http.Error(w, protocol.ErrInvalidAction, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		io.WriteString(w, "file body")
	}))
	defer ts.Close()

	var buf bytes.Buffer
	n, err := c.Download(context.Background(), "/SD/a.txt", &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 9 || buf.String() != "file body" {
		t.Errorf("expected 9 bytes %q, got %d %q", "file body", n, buf.String())
	}
}

func TestUpload(t *testing.T) {
	var gotURL, gotPath, gotFile, gotContent string
	c, ts := testFileClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusOK)
			return
		}
		gotURL = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotPath = r.FormValue(protocol.FormPath)
		f, hdr, err := r.FormFile(protocol.FormFile)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		gotFile, gotContent = hdr.Filename, string(b)
		http.Redirect(w, r, "/", http.StatusFound)
	}))
	defer ts.Close()

	var lastSent, lastTotal int64
	err := c.Upload(context.Background(), "/SD/docs", "hello.txt", strings.NewReader("hello"), 5,
		func(sent, total int64) { lastSent, lastTotal = sent, total })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotURL != "/docs/hello.txt" {
		t.Errorf("expected POST /docs/hello.txt, got %q", gotURL)
	}
	if gotPath != "/SD/docs" {
		t.Errorf("expected path field /SD/docs, got %q", gotPath)
	}
	if gotFile != "hello.txt" || gotContent != "hello" {
		t.Errorf("expected hello.txt=hello, got %s=%q", gotFile, gotContent)
	}
	if lastSent != 5 || lastTotal != 5 {
		t.Errorf("expected progress 5/5, got %d/%d", lastSent, lastTotal)
	}
}

func TestUpload_RejectsBadName(t *testing.T) {
	c := NewFileClient(Config{BaseURL: "http://127.0.0.1:1"})
	for _, name := range []string{"", "a/b", "..x"} {
		err := c.Upload(context.Background(), "/SD", name, strings.NewReader("x"), 1, nil)
		if !errors.Is(err, ErrInvalidName) {
			t.Errorf("name %q: expected ErrInvalidName, got %v", name, err)
		}
	}
}
