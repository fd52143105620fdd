package logger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var logLevelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

func (l LogLevel) String() string {
	if name, ok := logLevelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel maps a config value such as "debug" or "WARN" to a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG, nil
	case "", "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "FATAL":
		return FATAL, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

type LogEntry struct {
	Level     string                 `json:"level"`
	Timestamp string                 `json:"timestamp"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
}

var (
	mu           sync.RWMutex
	currentLevel = INFO
	sink         *fileSink
)

func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
}

func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// EnableFileLogging mirrors every entry as a JSON line into filePath.
// Rotation happens when the file grows past maxSizeMB or the day changes;
// rotated files older than maxAgeDays are removed.
func EnableFileLogging(filePath string, rotationEnabled bool, maxSizeMB, maxAgeDays int) error {
	s, err := openFileSink(expandHome(filePath), rotationEnabled, maxSizeMB, maxAgeDays)
	if err != nil {
		return err
	}

	mu.Lock()
	old := sink
	sink = s
	mu.Unlock()

	if old != nil {
		old.close()
	}
	log.Println("File logging enabled:", s.path)
	return nil
}

func DisableFileLogging() {
	mu.Lock()
	old := sink
	sink = nil
	mu.Unlock()

	if old != nil {
		old.close()
	}
}

type fileSink struct {
	mu          sync.Mutex
	path        string
	file        *os.File
	rotate      bool
	maxBytes    int64
	maxAgeDays  int
	size        int64
	openedOnDay int
}

func openFileSink(path string, rotate bool, maxSizeMB, maxAgeDays int) (*fileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	s := &fileSink{
		path:       path,
		rotate:     rotate,
		maxBytes:   int64(maxSizeMB) * 1024 * 1024,
		maxAgeDays: maxAgeDays,
	}
	if err := s.reopen(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileSink) reopen() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	s.file = f
	s.size = 0
	if st, err := f.Stat(); err == nil {
		s.size = st.Size()
	}
	s.openedOnDay = dayStamp(time.Now())
	return nil
}

func (s *fileSink) write(line []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return
	}
	if s.needsRotation() {
		if err := s.rotateLocked(); err != nil {
			log.Printf("Failed to rotate log file: %v", err)
		}
	}
	n, err := s.file.Write(line)
	if err == nil {
		s.size += int64(n)
	}
}

func (s *fileSink) needsRotation() bool {
	if !s.rotate {
		return false
	}
	if s.maxBytes > 0 && s.size >= s.maxBytes {
		return true
	}
	return s.maxAgeDays > 0 && dayStamp(time.Now()) != s.openedOnDay
}

func (s *fileSink) rotateLocked() error {
	s.file.Close()
	s.file = nil

	rotated := fmt.Sprintf("%s.%s", s.path, time.Now().Format("20060102-150405"))
	renameErr := os.Rename(s.path, rotated)
	if err := s.reopen(); err != nil {
		return err
	}
	if renameErr != nil {
		return fmt.Errorf("failed to rotate log file: %w", renameErr)
	}
	go pruneRotated(s.path, s.maxAgeDays)
	return nil
}

func (s *fileSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
}

func pruneRotated(path string, maxAgeDays int) {
	if maxAgeDays <= 0 {
		return
	}
	dir := filepath.Dir(path)
	prefix := filepath.Base(path) + "."
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
}

func dayStamp(t time.Time) int {
	return t.Year()*1000 + t.YearDay()
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func logMessage(level LogLevel, component string, message string, fields map[string]interface{}) {
	mu.RLock()
	threshold := currentLevel
	s := sink
	mu.RUnlock()

	if level < threshold {
		return
	}

	entry := LogEntry{
		Level:     level.String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Component: component,
		Message:   message,
		Fields:    fields,
	}
	if pc, file, line, ok := runtime.Caller(2); ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			entry.Caller = fmt.Sprintf("%s:%d (%s)", file, line, fn.Name())
		}
	}

	if s != nil {
		if data, err := json.Marshal(entry); err == nil {
			s.write(append(data, '\n'))
		}
	}

	log.Println(formatLine(entry))

	if level == FATAL {
		os.Exit(1)
	}
}

func formatLine(entry LogEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s]", entry.Timestamp, entry.Level)
	if entry.Component != "" {
		fmt.Fprintf(&b, " %s:", entry.Component)
	}
	b.WriteString(" ")
	b.WriteString(entry.Message)
	if len(entry.Fields) > 0 {
		b.WriteString(" ")
		b.WriteString(formatFields(entry.Fields))
	}
	return b.String()
}

// formatFields renders fields sorted by key so lines are stable across runs.
func formatFields(fields map[string]interface{}) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func DebugC(component string, message string) {
	logMessage(DEBUG, component, message, nil)
}

func DebugCF(component string, message string, fields map[string]interface{}) {
	logMessage(DEBUG, component, message, fields)
}

func InfoC(component string, message string) {
	logMessage(INFO, component, message, nil)
}

func InfoCF(component string, message string, fields map[string]interface{}) {
	logMessage(INFO, component, message, fields)
}

func WarnC(component string, message string) {
	logMessage(WARN, component, message, nil)
}

func WarnCF(component string, message string, fields map[string]interface{}) {
	logMessage(WARN, component, message, fields)
}

func ErrorC(component string, message string) {
	logMessage(ERROR, component, message, nil)
}

func ErrorCF(component string, message string, fields map[string]interface{}) {
	logMessage(ERROR, component, message, fields)
}

func FatalCF(component string, message string, fields map[string]interface{}) {
	logMessage(FATAL, component, message, fields)
}
