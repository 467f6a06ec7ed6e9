package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		level, format string
		wantErr       bool
		wantDebug     bool
		prefix        string
	}{
		{"info", "text", false, false, "time="},
		{"debug", "json", false, true, "{"},
		{"WARN", "", false, false, ""},
		{"loud", "text", true, false, ""},
		{"info", "xml", true, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := New(&buf, tt.level, tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			logger.Debug("check")
			if got := buf.Len() > 0; got != tt.wantDebug {
				t.Errorf("debug emitted = %v, want %v", got, tt.wantDebug)
			}
			logger.Error("check")
			if !strings.HasPrefix(buf.String(), tt.prefix) {
				t.Errorf("output %q lacks prefix %q", buf.String(), tt.prefix)
			}
		})
	}
}
