// Package log provides the process logger: zerolog events written to the
// console, to an SQLite database, or both.
package log

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/neo7530/systerfun/pkg/appdir"
)

var (
	writeSinceStart        atomic.Int64
	pkgLogger              = zerolog.Nop()
	console                io.Writer
	level                  = zerolog.InfoLevel
	dbWriterInstance       *sqliteWriter
	dbHandle               *sql.DB
	mu                     sync.RWMutex
	zerologTimeFieldFormat = time.RFC3339Nano

	ErrNotInitialized = errors.New("log: logger not initialized, call log.Init() first")
)

// rebuild must be called with mu held.
func rebuild() {
	var writers []io.Writer
	if console != nil {
		writers = append(writers, console)
	}
	if dbWriterInstance != nil {
		writers = append(writers, dbWriterInstance)
	}
	switch len(writers) {
	case 0:
		pkgLogger = zerolog.Nop()
		return
	case 1:
		pkgLogger = zerolog.New(writers[0])
	default:
		pkgLogger = zerolog.New(zerolog.MultiLevelWriter(writers...))
	}
	pkgLogger = pkgLogger.Level(level).With().Timestamp().Logger()
}

// SetStd logs to stdout in console format.
func SetStd() {
	SetOutput(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
}

// SetOutput sets the console writer; nil disables console output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	console = w
	rebuild()
}

func SetDebug(debug bool) {
	mu.Lock()
	defer mu.Unlock()
	level = zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	rebuild()
}

// Init adds the SQLite sink. A relative dbFile is placed in the app directory.
func Init(dbFile string) error {
	if dbFile == "" {
		return fmt.Errorf("logger need an explicit dbFile")
	}
	dbPath := appdir.Path(dbFile)

	mu.Lock()
	defer mu.Unlock()
	if dbWriterInstance != nil {
		return fmt.Errorf("logger already initialized")
	}

	writer, db, err := newSQLiteWriter(dbPath)
	if err != nil {
		return fmt.Errorf("failed to create SQLite writer: %w", err)
	}
	dbWriterInstance = writer
	dbHandle = db
	zerolog.TimeFieldFormat = zerologTimeFieldFormat
	rebuild()
	return nil
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if dbWriterInstance == nil {
		return nil
	}
	w := dbWriterInstance
	closeLogger := zerolog.New(w).With().Timestamp().Logger()
	closeLogger.Log().Msg("closing log database")

	dbHandle = nil
	dbWriterInstance = nil
	rebuild()

	if err := w.close(); err != nil {
		return fmt.Errorf("error closing SQLite logger: %w", err)
	}
	return nil
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return pkgLogger
}

// With starts a child logger context, e.g. for a card session.
func With() zerolog.Context { l := current(); return l.With() }

func Debug() *zerolog.Event { l := current(); return l.Debug() }
func Info() *zerolog.Event  { l := current(); return l.Info() }
func Warn() *zerolog.Event  { l := current(); return l.Warn() }
func Error() *zerolog.Event { l := current(); return l.Error() }
func Fatal() *zerolog.Event { l := current(); return l.Fatal() }

// Printf sends an info event. Arguments are handled in the manner of fmt.Printf.
func Printf(format string, v ...interface{}) {
	l := current()
	l.Info().CallerSkipFrame(1).Msgf(format, v...)
}

func Fatalf(format string, v ...any) {
	l := current()
	l.Fatal().Msgf(format, v...)
}
