// Package stagelog writes the human-readable progress trail of each stage
// run. A run's first line replaces whatever an earlier run left behind.
package stagelog

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/FranksOps/maestro/internal/blobstore"
	"github.com/FranksOps/maestro/internal/lifecycle"
)

const timeLayout = "02-01-2006 15:04:05"

// Log is the operator log of one stage run.
type Log struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	started bool
}

// Open returns the log of stage for the context at scope. Nothing is written
// until the first Printf.
func Open(blobs *blobstore.Store, scope blobstore.Scope, stage lifecycle.Stage, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	p, err := blobs.Path(scope, fileName(stage))
	if err != nil {
		// Stage names are fixed, so this only happens with a bad scope.
		logger.Error("stage log path", "stage", stage, "err", err)
	}
	return &Log{
		path:   p,
		logger: logger.With("stage", string(stage)),
		now:    time.Now,
	}
}

func fileName(stage lifecycle.Stage) string {
	return path.Join(blobstore.DirLogs, string(stage)+".log")
}

// Printf appends a timestamped line and mirrors it to the structured logger.
func (l *Log) Printf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.logger.Info(msg)

	if l.path == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if !l.started {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		l.logger.Warn("stage log dir", "err", err)
		return
	}
	f, err := os.OpenFile(l.path, flags, 0o644)
	if err != nil {
		l.logger.Warn("stage log open", "err", err)
		return
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] %s\n", l.now().Format(timeLayout), msg)
	if _, err := f.WriteString(line); err != nil {
		l.logger.Warn("stage log write", "err", err)
		return
	}
	l.started = true
}

// Read returns the lines of the last run of stage. A stage that never ran
// has an empty log.
func Read(blobs *blobstore.Store, scope blobstore.Scope, stage lifecycle.Stage) ([]string, error) {
	data, err := blobs.ReadFile(scope, fileName(stage))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s log: %w", stage, err)
	}

	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s log: %w", stage, err)
	}
	return lines, nil
}
