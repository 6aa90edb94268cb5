package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// dailyFile is the rotating log file shared by a handler and its derivatives.
type dailyFile struct {
	mu       sync.Mutex
	dir      string
	prefix   string
	now      func() time.Time
	file     *os.File
	fileName string
}

// DailyFileHandler writes one line per record to <dir>/<prefix>-YYYY-MM-DD.log
// and forwards every record to a text handler on stdout.
type DailyFileHandler struct {
	out            *dailyFile
	attrs          string
	defaultHandler slog.Handler
}

func NewDailyFileHandler(logDir, prefix string, stdout io.Writer, opts *slog.HandlerOptions) (*DailyFileHandler, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if stdout == nil {
		stdout = os.Stdout
	}

	h := &DailyFileHandler{
		out:            &dailyFile{dir: logDir, prefix: prefix, now: time.Now},
		defaultHandler: slog.NewTextHandler(stdout, opts),
	}

	if err := h.out.rotateIfNeeded(); err != nil {
		return nil, err
	}

	return h, nil
}

// rotateIfNeeded must be called with mu held, except during construction.
func (d *dailyFile) rotateIfNeeded() error {
	fileName := fmt.Sprintf("%s-%s.log", d.prefix, d.now().Format("2006-01-02"))
	if fileName == d.fileName {
		return nil
	}

	if d.file != nil {
		d.file.Close()
	}

	f, err := os.OpenFile(filepath.Join(d.dir, fileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	d.file = f
	d.fileName = fileName
	return nil
}

func (d *dailyFile) write(line string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.rotateIfNeeded(); err != nil {
		return err
	}
	_, err := d.file.WriteString(line)
	return err
}

func (d *dailyFile) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	d.fileName = ""
	return err
}

func (h *DailyFileHandler) Handle(ctx context.Context, r slog.Record) error {
	timeStr := r.Time.Format("2006/01/02 15:04:05.000")

	attrs := h.attrs
	r.Attrs(func(a slog.Attr) bool {
		attrs += fmt.Sprintf(" %s=%v", a.Key, a.Value)
		return true
	})

	logLine := fmt.Sprintf("[%s] %-5s %s%s\n", timeStr, r.Level.String(), r.Message, attrs)
	err := h.out.write(logLine)

	if err2 := h.defaultHandler.Handle(ctx, r); err2 != nil && err == nil {
		err = err2
	}
	return err
}

func (h *DailyFileHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	extra := h.attrs
	for _, a := range attrs {
		extra += fmt.Sprintf(" %s=%v", a.Key, a.Value)
	}
	return &DailyFileHandler{
		out:            h.out,
		attrs:          extra,
		defaultHandler: h.defaultHandler.WithAttrs(attrs),
	}
}

// WithGroup only affects the stdout handler; file lines stay flat.
func (h *DailyFileHandler) WithGroup(name string) slog.Handler {
	return &DailyFileHandler{
		out:            h.out,
		attrs:          h.attrs,
		defaultHandler: h.defaultHandler.WithGroup(name),
	}
}

func (h *DailyFileHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.defaultHandler.Enabled(ctx, level)
}

// Close closes the current log file.
func (h *DailyFileHandler) Close() error {
	return h.out.close()
}
