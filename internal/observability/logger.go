package observability

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	mu           sync.Mutex
	globalLogger zerolog.Logger
	initialized  bool
)

// InitLogger initializes the global structured logger
func InitLogger(level string, pretty bool) {
	initLogger(os.Stdout, level, pretty)
}

func initLogger(out io.Writer, level string, pretty bool) {
	mu.Lock()
	defer mu.Unlock()

	logLevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	globalLogger = zerolog.New(out).With().Timestamp().Logger()

	log.Logger = globalLogger
	initialized = true
}

// GetLogger returns the global logger
func GetLogger() zerolog.Logger {
	mu.Lock()
	ready := initialized
	mu.Unlock()
	if !ready {
		InitLogger("info", false)
	}
	mu.Lock()
	defer mu.Unlock()
	return globalLogger
}

// Component returns a child logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return GetLogger().With().Str("component", name).Logger()
}

// NewSessionID returns an id used to correlate every log line of one turn.
func NewSessionID() string {
	return uuid.NewString()
}
