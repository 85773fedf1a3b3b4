package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBraceRepairer(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{`{"a":{`, `{"a":{}}`, true},
		{`{"a":{}`, `{"a":{}}`, true},
		{`{"a":{}}`, "", false},
		{`}}{`, "", false},
		{`{"x{":1`, `{"x{":1}}`, true},
	}
	for _, tt := range tests {
		got, ok := BraceRepairer{}.Repair([]byte(tt.in))
		assert.Equal(t, tt.ok, ok, tt.in)
		if ok {
			assert.Equal(t, tt.want, string(got), tt.in)
		}
	}
}

func TestTokenRepairer(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{`{"a":{`, `{"a":{}}`, true},
		{`{"x{":1`, `{"x{":1}`, true},
		{`{"a}":{}`, `{"a}":{}}`, true},
		{`{"esc\"{":{`, `{"esc\"{":{}}`, true},
		{`{"slash\\":{`, `{"slash\\":{}}`, true},
		{`{"open`, "", false},
		{`{"a":{}}`, "", false},
		{`{}}`, "", false},
	}
	for _, tt := range tests {
		got, ok := TokenRepairer{}.Repair([]byte(tt.in))
		assert.Equal(t, tt.ok, ok, tt.in)
		if ok {
			assert.Equal(t, tt.want, string(got), tt.in)
		}
	}
}

func TestRepairDoesNotTouchInput(t *testing.T) {
	buf := make([]byte, 0, 64)
	buf = append(buf, `{"a":{`...)
	before := string(buf)

	BraceRepairer{}.Repair(buf)
	TokenRepairer{}.Repair(buf)

	assert.Equal(t, before, string(buf))
	assert.Equal(t, []byte{0, 0}, buf[len(buf):len(buf)+2], "spare capacity written")
}
