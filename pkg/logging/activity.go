package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ActivityLogger records what the relay is doing, one line per step. Indent
// nests a line under the preceding top-level line; blankLinesBefore separates
// sections in the human-readable output.
type ActivityLogger interface {
	Log(message string, indent int, blankLinesBefore int)
}

// ZerologActivityLogger writes activity lines as zerolog events. Top-level lines
// carry the event timestamp, nested lines are prefixed with tabs and ">> ".
type ZerologActivityLogger struct {
	mu     sync.Mutex
	logger zerolog.Logger
	raw    io.Writer
}

// NewZerologActivityLogger creates an activity logger. raw receives the blank
// separator lines and is normally the console; it may be nil to drop them.
func NewZerologActivityLogger(logger zerolog.Logger, raw io.Writer) *ZerologActivityLogger {
	if raw == nil {
		raw = io.Discard
	}
	return &ZerologActivityLogger{
		logger: logger.With().Str("component", "Activity").Logger(),
		raw:    raw,
	}
}

// Log writes one activity line.
func (a *ZerologActivityLogger) Log(message string, indent int, blankLinesBefore int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if blankLinesBefore > 0 {
		_, _ = io.WriteString(a.raw, strings.Repeat("\n", blankLinesBefore))
	}

	event := a.logger.Info()
	if indent > 0 {
		event = event.Int("indent", indent)
		message = strings.Repeat("\t", indent) + ">> " + message
	}
	event.Msg(message)
}

// Nop is an ActivityLogger that discards everything.
type Nop struct{}

// Log does nothing.
func (Nop) Log(string, int, int) {}

// OpenDailyLogFile opens (appending) dir/<prefix>_YYYYMMDD.log, creating dir if needed.
func OpenDailyLogFile(dir, prefix string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	name := filepath.Join(dir, fmt.Sprintf("%s_%s.log", prefix, now.UTC().Format("20060102")))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", name, err)
	}
	return f, nil
}

// NewLogger builds the process logger: a console writer on stdout plus, when
// file is non-nil, JSON lines in file. The returned writer is the console only,
// so blank separators passed to NewZerologActivityLogger never break the JSON
// lines of file.
func NewLogger(level string, console io.Writer, file io.Writer) (zerolog.Logger, io.Writer) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	cw := zerolog.ConsoleWriter{Out: console, TimeFormat: "2006-01-02 15:04:05"}
	writers := []io.Writer{cw}
	if file != nil {
		writers = append(writers, file)
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(lvl).With().Timestamp().Logger()
	return logger, console
}
