package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	galleryLogFile = "gallery.log"
	txLogFile      = "tx.log"
	decryptLogFile = "decrypt.log"
	indexLogFile   = "index.log"
)

var (
	logDirMu sync.RWMutex
	logDir   = "."
)

// SetLogDir sets the directory the log files are written to.
func SetLogDir(dir string) {
	logDirMu.Lock()
	defer logDirMu.Unlock()
	if dir == "" {
		dir = "."
	}
	logDir = dir
}

func logPath(filename string) string {
	logDirMu.RLock()
	defer logDirMu.RUnlock()
	return filepath.Join(logDir, filename)
}

// logToFile appends a message to a log file
func logToFile(filename, message string) {
	path := logPath(filename)
	if dir := filepath.Dir(path); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	timestamp := time.Now().Format(time.RFC3339)
	f.WriteString(fmt.Sprintf("[%s] %s\n", timestamp, message))
}

// logRequestWarning logs a slow request warning
func logRequestWarning(method, path string, duration time.Duration) {
	message := fmt.Sprintf("⚠️  SLOW REQUEST: %s %s took %dms (threshold: 500ms)", method, path, duration.Milliseconds())
	fmt.Println(message)
	logToFile(galleryLogFile, fmt.Sprintf("[WARNING] %s", message))
}

// logIndexWarning logs a slow index block
func logIndexWarning(blockNumber uint64, artworkCount int, duration time.Duration) {
	message := fmt.Sprintf("⚠️  SLOW INDEX BLOCK: block %d with %d artworks took %.2fms (threshold: 1000ms)", blockNumber, artworkCount, duration.Seconds()*1000)
	fmt.Println(message)
	logToFile(galleryLogFile, fmt.Sprintf("[WARNING] %s", message))
}

// CustomSlogHandler is a slog handler that prints to stdout and routes
// records to the gallery, transaction, decryption and index log files.
type CustomSlogHandler struct {
	level slog.Leveler
	attrs []boundAttr
	group string
}

// boundAttr is an attribute added with WithAttrs, qualified by the group
// that was open at the time.
type boundAttr struct {
	key  string
	attr slog.Attr
}

func NewCustomSlogHandler(level slog.Leveler) *CustomSlogHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &CustomSlogHandler{level: level}
}

func (h *CustomSlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *CustomSlogHandler) Handle(ctx context.Context, r slog.Record) error {
	var msg strings.Builder
	var keys []string

	msg.WriteString(r.Time.Format(time.RFC3339))
	msg.WriteString(" [")
	msg.WriteString(r.Level.String())
	msg.WriteString("] ")
	msg.WriteString(r.Message)

	write := func(key string, a slog.Attr) {
		keys = append(keys, a.Key)
		msg.WriteString(" ")
		msg.WriteString(key)
		msg.WriteString("=")
		msg.WriteString(fmt.Sprintf("%v", a.Value.Any()))
	}
	for _, b := range h.attrs {
		write(b.key, b.attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		write(qualify(h.group, a.Key), a)
		return true
	})

	message := msg.String()
	fmt.Println(message)

	switch r.Level {
	case slog.LevelError:
		logToFile(galleryLogFile, fmt.Sprintf("[ERROR] %s", message))
	case slog.LevelWarn:
		logToFile(galleryLogFile, fmt.Sprintf("[WARNING] %s", message))
	default:
		logToFile(routeFor(r.Message, keys), message)
	}

	// Errors about transactions or decryption also go to their own file.
	if r.Level >= slog.LevelWarn {
		if file := routeFor(r.Message, keys); file != galleryLogFile {
			logToFile(file, message)
		}
	}
	return nil
}

// routeFor picks the log file for a record from its message and attribute keys.
func routeFor(message string, keys []string) string {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "transaction") || hasKey(keys, "tx"):
		return txLogFile
	case strings.Contains(lower, "decrypt"):
		return decryptLogFile
	case strings.Contains(lower, "index") || strings.Contains(lower, "block") ||
		strings.Contains(lower, "follow") || strings.Contains(lower, "query"):
		return indexLogFile
	}
	return galleryLogFile
}

func hasKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func (h *CustomSlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append([]boundAttr{}, h.attrs...)
	for _, a := range attrs {
		next.attrs = append(next.attrs, boundAttr{key: qualify(h.group, a.Key), attr: a})
	}
	return &next
}

func qualify(group, key string) string {
	if group == "" {
		return key
	}
	return group + "." + key
}

func (h *CustomSlogHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.group = qualify(h.group, name)
	return &next
}

// NewLogger returns the process logger. The sqlite-bitmap-store, the
// controller and every package logger share it.
func NewLogger(level slog.Leveler) *slog.Logger {
	return slog.New(NewCustomSlogHandler(level))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
