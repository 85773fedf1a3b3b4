// Package protocol defines the wire constants shared by the client and the dev server.
package protocol

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/fruitsalade/sdbrowser/pkg/tree"
)

// WebSocket transport.
const (
	// WebSocketPort is the fixed listing socket port, independent of the HTTP port.
	WebSocketPort = 1337

	// CommandListFiles asks the server to push a directory listing.
	CommandListFiles = "listFiles"
)

// HTTP file action routes.
const (
	FileRoute = "/file"
	DirRoute  = "/dir"

	ParamName   = "name"
	ParamAction = "action"

	ActionDownload = "download"
	ActionDelete   = "delete"
	ActionCreate   = "create"

	// FormFile and FormPath are the multipart fields of an upload.
	FormFile = "file"
	FormPath = "path"

	// MaxNameLength is the longest path the server accepts in a name parameter.
	MaxNameLength = 50
)

// Server response texts.
const (
	ErrMissingParams = "ERROR: 'name' and 'action' parameters are required"
	ErrInvalidName   = "ERROR: Invalid file name"
	ErrFileNotFound  = "ERROR: File does not exist"
	ErrInvalidAction = "ERROR: Invalid action parameter"
	ErrDeleteFile    = "ERROR: Unable to delete file"
	ErrCreateDir     = "ERROR: Unable to create Dir"
	ErrDeleteDir     = "ERROR: Unable to delete Dir"

	DeletedFilePrefix = "Deleted File: "
	CreatedDirPrefix  = "Dir Created: "
	DeletedDirPrefix  = "Deleted Dir: "
)

// Status lines reported to the UI.
const (
	StatusConnected    = "Connected to WebSocket server..."
	StatusDisconnected = "Disconnected from WebSocket server... Reconnecting..."
)

// StatusDecoded describes a successful decode of n bytes.
func StatusDecoded(n int) string {
	return "Data Length: " + tree.HumanSize(int64(n))
}

// StatusWaiting describes an unresolved wait with n bytes accumulated.
func StatusWaiting(n int) string {
	return "Waiting for more data... Accumulated Data Length: " + tree.HumanSize(int64(n))
}

// StatusOverflow describes an accumulation buffer discarded for exceeding its cap.
func StatusOverflow(n int) string {
	return "Buffer overflow: discarded " + tree.HumanSize(int64(n))
}

// ValidName reports whether the server will accept name as a path parameter.
func ValidName(name string) bool {
	return len(name) <= MaxNameLength && !strings.Contains(name, "..")
}

// WebSocketURL derives the listing socket endpoint from the page origin:
// wss for https origins, ws otherwise, same host, fixed port.
func WebSocketURL(origin string, port int) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("parse origin: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("origin %q has no host", origin)
	}

	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	if port <= 0 {
		port = WebSocketPort
	}
	host := u.Hostname()
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port), nil
}
