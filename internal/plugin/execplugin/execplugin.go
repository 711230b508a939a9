// Package execplugin runs plugins shipped as standalone executables.
//
// Each call starts the executable, writes one JSON request to its stdin and
// reads one JSON response from its stdout:
//
//	request:  {"kind": "fetch", "args": {...}}
//	response: {"result": <any>, "error": "message"}
//
// A non-empty "error", a non-zero exit status or unparsable output fail the
// call. The process is killed when the call's context or timeout expires.
package execplugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a single call when none is configured.
const DefaultTimeout = 60 * time.Second

// Entry point names sent as the request kind.
const (
	KindFetch       = "fetch"
	KindPostProcess = "post_process"
	KindFilter      = "filter"
	KindClassify    = "classify"
)

// ErrNotExecutable is returned by Load for files without an execute bit.
var ErrNotExecutable = errors.New("execplugin: file is not executable")

type request struct {
	Kind string `json:"kind"`
	Args any    `json:"args"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// Plugin is a loaded executable.
type Plugin struct {
	Path    string
	Timeout time.Duration
	// Env is appended to the parent environment.
	Env []string
}

// Load checks that path is an executable regular file.
func Load(path string, timeout time.Duration) (*Plugin, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNotExecutable)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Plugin{Path: path, Timeout: timeout}, nil
}

// Call invokes the entry point kind with args and returns the raw result.
func (p *Plugin) Call(ctx context.Context, kind string, args any) (json.RawMessage, error) {
	payload, err := json.Marshal(request{Kind: kind, Args: args})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.Path)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Env = append(os.Environ(), p.Env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s timed out after %s: %w", kind, p.Timeout, ctx.Err())
		}
		return nil, fmt.Errorf("%s: %w: %s", kind, err, tail(stderr.String(), 512))
	}

	var resp response
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", kind, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s: %s", kind, resp.Error)
	}
	if string(resp.Result) == "null" {
		return nil, nil
	}
	return resp.Result, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return "..." + s[len(s)-n:]
	}
	return s
}
