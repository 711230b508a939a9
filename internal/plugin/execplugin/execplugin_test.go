package execplugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func script(t *testing.T, body string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plugin.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), mode); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestCall_Result(t *testing.T) {
	// Echo the request kind back inside the result.
	path := script(t, `read req
case "$req" in
  *'"kind":"fetch"'*) echo '{"result":["u1","u2"]}' ;;
  *) echo '{"error":"unexpected kind"}' ;;
esac`, 0o755)

	p, err := Load(path, time.Second)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	raw, err := p.Call(context.Background(), KindFetch, map[string]string{"search_string": "owl"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(raw) != `["u1","u2"]` {
		t.Errorf("unexpected result %s", raw)
	}

	_, err = p.Call(context.Background(), KindClassify, nil)
	if err == nil || !strings.Contains(err.Error(), "unexpected kind") {
		t.Errorf("expected plugin-reported error, got %v", err)
	}
}

func TestCall_NullResult(t *testing.T) {
	p, err := Load(script(t, `cat >/dev/null; echo '{"result":null}'`, 0o755), time.Second)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	raw, err := p.Call(context.Background(), KindPostProcess, nil)
	if err != nil || raw != nil {
		t.Fatalf("expected nil result, got %s (%v)", raw, err)
	}
}

func TestCall_Failures(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"exit status", `echo boom >&2; exit 3`, "boom"},
		{"bad json", `echo not-json`, "decode response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Load(script(t, tt.body, 0o755), time.Second)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			_, err = p.Call(context.Background(), KindClassify, nil)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestCall_Timeout(t *testing.T) {
	p, err := Load(script(t, `sleep 5`, 0o755), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	start := time.Now()
	_, err = p.Call(context.Background(), KindClassify, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("call was not cut short: %s", time.Since(start))
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing"), 0); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(script(t, `true`, 0o644), 0); !errors.Is(err, ErrNotExecutable) {
		t.Errorf("expected ErrNotExecutable, got %v", err)
	}
	if _, err := Load(t.TempDir(), 0); err == nil {
		t.Error("expected error for a directory")
	}
}
