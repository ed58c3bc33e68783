package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/urfave/cli/v2"
)

func TestReport(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantOut  string
	}{
		{"exit code only", cli.Exit("", 3), 3, ""},
		{"exit with message", cli.Exit("upstream error: unexpected status 502", 3), 3, "upstream error: unexpected status 502\n"},
		{"canceled", cli.Exit("context canceled", 130), 130, "context canceled\n"},
		{"wrapped exit coder", errors.Join(errors.New("context"), cli.Exit("inner", 4)), 4, "inner\n"},
		{"regular error", errors.New("flag provided but not defined: -x"), 1, "Error: flag provided but not defined: -x\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if got := report(&buf, tt.err); got != tt.wantCode {
				t.Errorf("code = %d, want %d", got, tt.wantCode)
			}
			if buf.String() != tt.wantOut {
				t.Errorf("output = %q, want %q", buf.String(), tt.wantOut)
			}
		})
	}
}

func TestExitErrHandler_NilError(_ *testing.T) {
	// Must return without exiting.
	exitErrHandler(nil, nil)
}
