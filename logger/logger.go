package logger

import (
	"bufio"
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"git.sr.ht/~kvo/go-std/errors"
)

var buf bytes.Buffer

var (
	useLogFile   = false
	logFileName  string
	logFailCount = 0
	logFailLimit = 20
)

var (
	infoLogger  = log.New(&buf, "INFO: ", log.Ldate|log.Ltime)
	debugLogger = log.New(&buf, "DEBUG: ", log.Ldate|log.Ltime)
	warnLogger  = log.New(&buf, "WARN: ", log.Ldate|log.Ltime)
	errorLogger = log.New(&buf, "ERROR: ", log.Ldate|log.Ltime)
	fatalLogger = log.New(&buf, "FATAL: ", log.Ldate|log.Ltime)
)

// UseLogFile starts mirroring all log output to a timestamped file in
// logPath, in addition to the console. logPath is created if missing.
func UseLogFile(logPath string) error {
	err := os.MkdirAll(logPath, os.ModePerm)
	if err != nil {
		return errors.New(err, "cannot create log folder")
	}

	logFileName = filepath.Join(logPath, time.Now().Format("2006-01-02_150405")+".log")
	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		return errors.New(err, "could not open log file")
	}
	defer logFile.Close()

	useLogFile = true
	return nil
}

// Flush the shared buffer to console, and to the log file if one is set up.
func write() {
	if logFailCount > logFailLimit {
		useLogFile = false
		Warn("Log file failed to open too many times. Logging to file has been disabled to prevent further errors")
	}

	if useLogFile {
		logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
		if err != nil {
			logFailCount++
			fmt.Print(buf.String())
			buf.Reset()
			return
		}
		defer logFile.Close()

		f := bufio.NewWriter(logFile)
		f.WriteString(buf.String())
		f.Flush()
	}

	fmt.Print(buf.String())
	buf.Reset()
}

// Each level accepts either a format string or an error as its first
// argument, since log sites pass both interchangeably.
func emit(l *log.Logger, format any, v ...any) {
	switch a := format.(type) {
	case string:
		l.Printf(a, v...)
	case error:
		l.Printf("%v", a)
	default:
		l.Printf("%+v", a)
	}
	write()
}

func Info(format any, v ...any) {
	emit(infoLogger, format, v...)
}

func Debug(format any, v ...any) {
	emit(debugLogger, format, v...)
}

func Warn(format any, v ...any) {
	emit(warnLogger, format, v...)
}

func Error(format any, v ...any) {
	emit(errorLogger, format, v...)
}

// Fatal logs like Error, then calls os.Exit(1).
func Fatal(format any, v ...any) {
	emit(fatalLogger, format, v...)
	os.Exit(1)
}
