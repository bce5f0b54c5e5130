package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// LogLevel is a message severity. Messages below the current level are
// dropped.
type LogLevel int32

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"debug", "info", "warn", "error"}

func (l LogLevel) String() string {
	if l >= 0 && int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("unknown(%d)", l)
}

func (l LogLevel) tag() string {
	return "[" + strings.ToUpper(l.String()) + "] "
}

// ParseLevel maps a level name to a LogLevel. "warning" is accepted for
// warn; unknown names map to info.
func ParseLevel(s string) LogLevel {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return LevelWarn
	}
	for i, name := range levelNames {
		if name == s {
			return LogLevel(i)
		}
	}
	return LevelInfo
}

var (
	level     atomic.Int32
	levelInit sync.Once
)

// levelFromEnv honours DEBUG before LOG_LEVEL.
func levelFromEnv() LogLevel {
	switch strings.ToLower(os.Getenv("DEBUG")) {
	case "1", "true", "yes", "on":
		return LevelDebug
	}
	return ParseLevel(os.Getenv("LOG_LEVEL"))
}

func GetLevel() LogLevel {
	levelInit.Do(func() { level.Store(int32(levelFromEnv())) })
	return LogLevel(level.Load())
}

// SetLevel overrides the level read from the environment.
func SetLevel(l LogLevel) {
	GetLevel()
	level.Store(int32(l))
}

func IsDebugEnabled() bool {
	return GetLevel() <= LevelDebug
}

func emit(l LogLevel, prefix, format string, args []any) {
	if l < GetLevel() {
		return
	}
	log.Print(l.tag() + prefix + fmt.Sprintf(format, args...))
}

func Debug(format string, args ...any) { emit(LevelDebug, "", format, args) }
func Info(format string, args ...any)  { emit(LevelInfo, "", format, args) }
func Warn(format string, args ...any)  { emit(LevelWarn, "", format, args) }
func Error(format string, args ...any) { emit(LevelError, "", format, args) }

// Fatal logs regardless of level and exits with status 1.
func Fatal(format string, args ...any) {
	log.Fatal("[FATAL] " + fmt.Sprintf(format, args...))
}

// Logger tags messages with a component name.
type Logger struct {
	prefix string
}

// Component returns a Logger whose messages start with "name: ".
func Component(name string) *Logger {
	return &Logger{prefix: name + ": "}
}

func (l *Logger) Debug(format string, args ...any) { emit(LevelDebug, l.prefix, format, args) }
func (l *Logger) Info(format string, args ...any)  { emit(LevelInfo, l.prefix, format, args) }
func (l *Logger) Warn(format string, args ...any)  { emit(LevelWarn, l.prefix, format, args) }
func (l *Logger) Error(format string, args ...any) { emit(LevelError, l.prefix, format, args) }
