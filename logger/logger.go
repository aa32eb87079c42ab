package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	// Logger is the debug-level sink; engine.go's per-operation trace
	// lines (begin/commit/abort/alloc) all go through it.
	Logger *logrus.Logger
	// InfoLogger carries operational messages (region/engine lifecycle).
	InfoLogger *logrus.Logger
	// ErrorLogger carries messages about conditions an operator should
	// look at — anything Error/Errorf report. Warn/Warnf and Component
	// entries (such as the config fallback warning) go through Logger.
	ErrorLogger *logrus.Logger
)

func init() {
	// sane defaults so packages can log before Init is called explicitly
	Init(Config{LogLevel: "info"})
}

// Config controls the three package-level loggers' output paths and
// shared level.
type Config struct {
	ErrorLogPath string
	InfoLogPath  string
	LogLevel     string
}

// componentField is the logrus field key a Component logger tags its
// entries with; CustomFormatter looks for it to render the subsystem
// tag distinguishing an engine trace line from a region or config one.
const componentField = "component"

// Component returns a logger scoped to a named subsystem (e.g.
// "engine", "region", "config"). Its entries carry the subsystem name
// in the formatted line so a transaction's begin/write/commit trace
// can be told apart from a region's structural changes or a config
// load warning at a glance, without grepping file names.
func Component(name string) *logrus.Entry {
	return Logger.WithField(componentField, name)
}

// CustomFormatter renders one log line per entry: timestamp, a
// 4-character level tag, the caller that issued the call, an optional
// component tag, and the message.
type CustomFormatter struct {
	TimestampFormat string
}

func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	timestamp := entry.Time.Format(f.TimestampFormat)

	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}

	caller := getCaller()

	var tag string
	if component, ok := entry.Data[componentField]; ok {
		tag = fmt.Sprintf("[%v] ", component)
	}

	logMsg := fmt.Sprintf("[%s] [%s] (%s) %s%s\n", timestamp, level, caller, tag, entry.Message)
	return []byte(logMsg), nil
}

// getCaller walks the call stack past logrus's own frames and this
// package's wrapper functions to find the line that actually issued
// the log call — an engine.Write abort, a config fallback, and so on.
func getCaller() string {
	for i := 2; i < 20; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		if strings.Contains(file, "/logrus/") ||
			strings.HasSuffix(file, "/logger/logger.go") ||
			strings.Contains(file, "sirupsen") ||
			strings.Contains(file, "/entry.go") {
			continue
		}

		funcName := runtime.FuncForPC(pc).Name()
		fileName := filepath.Base(file)
		return fmt.Sprintf("%s:%s:%d", fileName, funcName, line)
	}

	return "unknown:unknown:0"
}

func parseLogLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.InfoLevel
	}
}

// Init (re)initializes the three package-level loggers from config.
// Debug-level engine traces go through Logger, which writes wherever
// InfoLogger does (stdout, plus the info log file when one is set);
// error gets its own optional file sink on top of stderr, so an
// operator can split "what the engine did" from "what needs a look"
// without running two binaries. A repeated Init reconfigures the
// existing loggers in place, so Component entries created earlier
// follow the new settings.
func Init(config Config) error {
	formatter := &CustomFormatter{TimestampFormat: "15:04:05 MST 2006/01/02"}
	level := parseLogLevel(config.LogLevel)

	if Logger == nil {
		Logger = logrus.New()
	}
	Logger.SetFormatter(formatter)
	Logger.SetLevel(level)

	if InfoLogger == nil {
		InfoLogger = logrus.New()
	}
	InfoLogger.SetFormatter(formatter)
	InfoLogger.SetLevel(level)

	if ErrorLogger == nil {
		ErrorLogger = logrus.New()
	}
	ErrorLogger.SetFormatter(formatter)
	ErrorLogger.SetLevel(level)

	if config.InfoLogPath != "" {
		if f, err := openLogFile(config.InfoLogPath); err == nil {
			InfoLogger.SetOutput(io.MultiWriter(os.Stdout, f))
		} else {
			InfoLogger.SetOutput(os.Stdout)
			InfoLogger.Warnf("failed to open info log file %s, falling back to stdout: %v", config.InfoLogPath, err)
		}
	} else {
		InfoLogger.SetOutput(os.Stdout)
	}

	if config.ErrorLogPath != "" {
		if f, err := openLogFile(config.ErrorLogPath); err == nil {
			ErrorLogger.SetOutput(io.MultiWriter(os.Stderr, f))
		} else {
			ErrorLogger.SetOutput(os.Stderr)
			ErrorLogger.Warnf("failed to open error log file %s, falling back to stderr: %v", config.ErrorLogPath, err)
		}
	} else {
		ErrorLogger.SetOutput(os.Stderr)
	}

	Logger.SetOutput(InfoLogger.Out)
	return nil
}

func openLogFile(logPath string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
}

func Info(args ...interface{})                 { InfoLogger.Info(args...) }
func Infof(format string, args ...interface{})  { InfoLogger.Infof(format, args...) }
func Debug(args ...interface{})                 { Logger.Debug(args...) }
func Debugf(format string, args ...interface{}) { Logger.Debugf(format, args...) }
func Warn(args ...interface{})                  { Logger.Warn(args...) }
func Warnf(format string, args ...interface{})  { Logger.Warnf(format, args...) }
func Error(args ...interface{})                 { ErrorLogger.Error(args...) }
func Errorf(format string, args ...interface{}) { ErrorLogger.Errorf(format, args...) }
