package protocol

import (
	"strings"
	"testing"
)

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		origin string
		port   int
		want   string
	}{
		{"http://192.168.1.1", 0, "ws://192.168.1.1:1337"},
		{"https://sd.local", 1337, "wss://sd.local:1337"},
		{"http://localhost:8080", 9000, "ws://localhost:9000"},
		{"http://[::1]:80", 1337, "ws://[::1]:1337"},
	}
	for _, tt := range tests {
		got, err := WebSocketURL(tt.origin, tt.port)
		if err != nil {
			t.Fatalf("WebSocketURL(%q): %v", tt.origin, err)
		}
		if got != tt.want {
			t.Errorf("WebSocketURL(%q, %d) = %q, want %q", tt.origin, tt.port, got, tt.want)
		}
	}

	if _, err := WebSocketURL("not a url", 0); err == nil {
		t.Error("expected error for origin without host")
	}
}

func TestValidName(t *testing.T) {
	if !ValidName("/dir/file.txt") {
		t.Error("plain path should be valid")
	}
	if ValidName("/dir/../etc") {
		t.Error("dot-dot path should be invalid")
	}
	if ValidName("/" + strings.Repeat("a", MaxNameLength)) {
		t.Error("over-long path should be invalid")
	}
}

func TestStatusLines(t *testing.T) {
	if got := StatusDecoded(2048); got != "Data Length: 2.00 KB" {
		t.Errorf("StatusDecoded = %q", got)
	}
	if got := StatusWaiting(10); got != "Waiting for more data... Accumulated Data Length: 10.00 B" {
		t.Errorf("StatusWaiting = %q", got)
	}
}
