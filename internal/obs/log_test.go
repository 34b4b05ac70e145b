package obs

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func TestInfoWritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	Info("pair.start", Fields{"pair": "abc", "remote": "127.0.0.1:5000"})

	line := strings.TrimSpace(buf.String())
	var m map[string]any
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Fatalf("Expected JSON log line, got %q: %v", line, err)
	}
	if m["message"] != "pair.start" {
		t.Errorf("Expected message pair.start, got %v", m["message"])
	}
	if m["level"] != "info" {
		t.Errorf("Expected level info, got %v", m["level"])
	}
	if m["pair"] != "abc" {
		t.Errorf("Expected pair field abc, got %v", m["pair"])
	}
	if _, ok := m["time"]; !ok {
		t.Error("Expected timestamp field")
	}
}

func TestDebugGated(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)
	defer EnableDebug(false)

	EnableDebug(false)
	Debug("frame", nil)
	if buf.Len() != 0 {
		t.Fatalf("Expected no output with debug disabled, got %q", buf.String())
	}

	EnableDebug(true)
	Debug("frame", Fields{"n": 1})
	if !strings.Contains(buf.String(), `"level":"debug"`) {
		t.Errorf("Expected debug line once enabled, got %q", buf.String())
	}
}

func TestErrorNilFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	Error("upstream.connect", nil)
	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Errorf("Expected error line, got %q", buf.String())
	}
}
