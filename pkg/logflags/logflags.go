package logflags

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var walker = false
var native = false
var symbols = false
var tracer = false

var logOut io.WriteCloser

// Logger is what the walker layers log through. The level methods follow
// logrus, so a *logrus.Entry wrapped by WithFields satisfies it.
type Logger interface {
	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
}

// Fields are key/value pairs attached to every entry of a Logger.
type Fields map[string]interface{}

// LoggerFactory builds the Logger of a layer. fields and out may be nil.
type LoggerFactory func(level logrus.Level, fields Fields, out io.Writer) Logger

var loggerFactory LoggerFactory

// SetLoggerFactory replaces the logrus loggers handed out by this package
// with the ones built by lf. A nil lf restores the default.
func SetLoggerFactory(lf LoggerFactory) {
	loggerFactory = lf
}

type logrusLogger struct {
	*logrus.Entry
}

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{l.Entry.WithField(key, value)}
}

func (l *logrusLogger) WithFields(fields Fields) Logger {
	return &logrusLogger{l.Entry.WithFields(logrus.Fields(fields))}
}

func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{l.Entry.WithError(err)}
}

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if !flag {
		return makeLogger(logrus.ErrorLevel, fields)
	}
	return makeLogger(logrus.DebugLevel, fields)
}

// Walker returns true if the unwinding engine should log.
func Walker() bool {
	return walker
}

// WalkerLogger returns a logger for the proc package.
func WalkerLogger() Logger {
	return makeFlaggableLogger(walker, Fields{"layer": "proc"})
}

// Native returns true if calls into the operating system should be logged.
func Native() bool {
	return native
}

// NativeLogger returns a logger for the native backend.
func NativeLogger() Logger {
	return makeFlaggableLogger(native, Fields{"layer": "native"})
}

// Symbols returns true if module loading and symbol resolution should be
// logged.
func Symbols() bool {
	return symbols
}

// SymbolsLogger returns a logger for module loading and symbol resolution.
func SymbolsLogger() Logger {
	return makeFlaggableLogger(symbols, Fields{"layer": "symbols"})
}

// Tracer returns true if the tracer service should log.
func Tracer() bool {
	return tracer
}

// TracerLogger returns a logger for the tracer service.
func TracerLogger() Logger {
	return makeFlaggableLogger(tracer, Fields{"layer": "tracer"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the logging flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "pwalk-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "walker"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch strings.TrimSpace(logcmd) {
		case "walker":
			walker = true
		case "native":
			native = true
		case "symbols":
			symbols = true
		case "tracer":
			tracer = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q, run 'pwalk help log' for usage.\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

type textFormatter struct{}

var textFormatterInstance = &textFormatter{}

// Format formats a log entry as a single line: time, level, sorted fields
// then the message.
func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteString(entry.Time.Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(entry.Level.String())
	b.WriteByte(' ')
	for i, key := range keys {
		b.WriteString(key)
		b.WriteByte('=')
		stringVal, ok := entry.Data[key].(string)
		if !ok {
			stringVal = fmt.Sprint(entry.Data[key])
		}
		if f.needsQuoting(stringVal) {
			fmt.Fprintf(b, "%q", stringVal)
		} else {
			b.WriteString(stringVal)
		}
		if i != len(keys)-1 {
			b.WriteByte(',')
		} else {
			b.WriteByte(' ')
		}
	}
	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func (f *textFormatter) needsQuoting(text string) bool {
	for _, ch := range text {
		if !((ch >= 'a' && ch <= 'z') ||
			(ch >= 'A' && ch <= 'Z') ||
			(ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '/' || ch == '@' || ch == '^' || ch == '+') {
			return true
		}
	}
	return false
}
