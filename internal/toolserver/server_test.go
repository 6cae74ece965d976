package toolserver

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"reflect"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestEnvPairsSortedByKey(t *testing.T) {
	got := envPairs(map[string]string{"ZED": "1", "ALPHA": "2", "MID": "3"})
	want := []string{"ALPHA=2", "MID=3", "ZED=1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("envPairs = %v, want %v", got, want)
	}
}

func TestEnvPairsEmpty(t *testing.T) {
	if got := envPairs(nil); got != nil {
		t.Errorf("envPairs(nil) = %v, want nil", got)
	}
	if got := envPairs(map[string]string{}); got != nil {
		t.Errorf("envPairs(empty) = %v, want nil", got)
	}
}

func TestClassifyStartErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "missing binary",
			err:  &exec.Error{Name: "nonexistent", Err: exec.ErrNotFound},
			want: ErrSpawn,
		},
		{
			name: "wrapped fork failure",
			err:  fmt.Errorf("connect: %w", &fs.PathError{Op: "fork/exec", Path: "/missing", Err: fs.ErrNotExist}),
			want: ErrSpawn,
		},
		{
			name: "protocol failure",
			err:  errors.New("unexpected EOF"),
			want: ErrHandshake,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyStartErr(tt.err); got != tt.want {
				t.Errorf("classifyStartErr(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestJoinTextBlocks(t *testing.T) {
	content := []mcp.Content{
		&mcp.TextContent{Text: "first"},
		&mcp.TextContent{Text: "second"},
	}
	if got, want := joinTextBlocks(content), "first\nsecond"; got != want {
		t.Errorf("joinTextBlocks = %q, want %q", got, want)
	}
	if got := joinTextBlocks(nil); got != "" {
		t.Errorf("joinTextBlocks(nil) = %q, want empty", got)
	}
}
