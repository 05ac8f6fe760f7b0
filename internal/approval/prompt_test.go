package approval

import (
	"bytes"
	"strings"
	"testing"
)

func TestAskWith(t *testing.T) {
	tests := []struct {
		input    string
		approved bool
		action   string
	}{
		{"a\n", true, "approve_once"},
		{"YES\n", true, "approve_once"},
		{"d\n", false, "deny"},
		{"maybe\nn\n", false, "deny"},
		{"", false, "error_reading_input"},
		{"y", true, "approve_once"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var out bytes.Buffer
			got := AskWith(strings.NewReader(tt.input), &out, Prompt{
				Payload: "rm -rf build",
				Rules:   []string{"deletion/rm"},
				Reasons: []string{"recursive delete"},
			})
			if got.Approved != tt.approved || got.UserAction != tt.action {
				t.Errorf("got %+v", got)
			}
			if !strings.Contains(out.String(), "rm -rf build") {
				t.Errorf("prompt did not show the request:\n%s", out.String())
			}
		})
	}
}
