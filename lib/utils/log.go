package utils

import (
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
)

type LogLevel int

var STARTED = time.Now()

const (
	DEBUG LogLevel = 0
	INFO  LogLevel = 1
	WARN  LogLevel = 2
	ERROR LogLevel = 3
)

// Bright colors for task differentiation
var taskColors = []lipgloss.Color{
	"6",  // Cyan
	"3",  // Yellow
	"5",  // Magenta
	"2",  // Green
	"4",  // Blue
	"9",  // Bright Red
	"10", // Bright Green
	"11", // Bright Yellow
	"12", // Bright Blue
	"13", // Bright Magenta
	"14", // Bright Cyan
}

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	commandStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

var (
	mu           sync.Mutex
	output       io.Writer = os.Stdout
	colorEnabled           = false
	level                  = INFO
	base                   = newLogger("", "")
	taskLoggers            = make(map[string]*log.Logger)
)

// SetColorEnabled enables or disables color output
func SetColorEnabled(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	colorEnabled = enabled
	reset()
}

// IsColorEnabled returns whether color output is enabled
func IsColorEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return colorEnabled
}

// SetLevel sets the minimum level written by every logger.
func SetLevel(l LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	level = l
	reset()
}

// SetOutput redirects every logger to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	reset()
}

// Logger returns the logger used for messages not tied to a function.
func Logger() *log.Logger {
	mu.Lock()
	defer mu.Unlock()
	return base
}

// TaskLogger returns the logger prefixed with the task id, colored
// consistently for that id.
func TaskLogger(id string) *log.Logger {
	mu.Lock()
	defer mu.Unlock()

	if l, exists := taskLoggers[id]; exists {
		return l
	}

	// Use hash to get consistent color for same task ID
	h := fnv.New32a()
	h.Write([]byte(id))
	color := taskColors[int(h.Sum32()%uint32(len(taskColors)))]

	l := newLogger("["+id+"]", color)
	taskLoggers[id] = l
	return l
}

// reset rebuilds loggers after a setting change. Callers hold mu.
func reset() {
	base = newLogger("", "")
	taskLoggers = make(map[string]*log.Logger)
}

func newLogger(prefix string, color lipgloss.Color) *log.Logger {
	l := log.NewWithOptions(output, log.Options{
		Prefix: prefix,
		Level:  toCharmLevel(level),
	})

	styles := log.DefaultStyles()
	if color != "" {
		styles.Prefix = lipgloss.NewStyle().Bold(true).Foreground(color)
	}
	l.SetStyles(styles)

	if !colorEnabled {
		l.SetColorProfile(termenv.Ascii)
	}
	return l
}

func toCharmLevel(l LogLevel) log.Level {
	switch l {
	case DEBUG:
		return log.DebugLevel
	case WARN:
		return log.WarnLevel
	case ERROR:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

func LogWithTaskId(id string, msg string, level LogLevel, keyvals ...interface{}) {
	TaskLogger(id).Log(toCharmLevel(level), msg, keyvals...)
}

// LogStatus logs a status message with appropriate color
func LogStatus(id string, status string, isSuccess bool) {
	since := fmt.Sprintf("%.1fs", time.Since(STARTED).Seconds())
	if isSuccess {
		TaskLogger(id).Info(render(successStyle, status), "elapsed", since)
		return
	}
	TaskLogger(id).Error(render(failureStyle, status), "elapsed", since)
}

// LogTaskStart logs when a task starts with highlighted command
func LogTaskStart(id string, cmd string) {
	TaskLogger(id).Info("▶ Run " + render(commandStyle, cmd))
}

func render(style lipgloss.Style, s string) string {
	if !IsColorEnabled() {
		return s
	}
	return style.Render(s)
}
