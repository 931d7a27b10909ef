package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"turing-study/internal/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	writerMu sync.RWMutex
	writer   io.Writer = os.Stdout
	rotator  *lumberjack.Logger
)

// Init configures the global zerolog logger. The same sink is shared with
// the HTTP access log through Writer.
func Init(cfg config.LogConfig) {
	level := zerolog.InfoLevel
	if v := strings.TrimSpace(cfg.Level); v != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(v)); err == nil {
			level = parsed
		}
	}

	var sink io.Writer = os.Stdout
	var fileSink *lumberjack.Logger
	if path := strings.TrimSpace(cfg.File); path != "" {
		fileSink = newRotator(path, cfg)
		sink = io.MultiWriter(os.Stdout, fileSink)
	}

	output := sink
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: sink}
	}

	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(output).With().Timestamp().Logger()
	if cfg.SampleEvery > 1 {
		logger = logger.Sample(&zerolog.BasicSampler{N: uint32(cfg.SampleEvery)})
	}
	log.Logger = logger

	writerMu.Lock()
	if rotator != nil {
		_ = rotator.Close()
	}
	rotator = fileSink
	writer = sink
	writerMu.Unlock()
}

// Writer returns the raw sink configured by Init.
func Writer() io.Writer {
	writerMu.RLock()
	defer writerMu.RUnlock()
	return writer
}

// Close flushes and closes the rotating file sink, if any.
func Close() error {
	writerMu.Lock()
	defer writerMu.Unlock()
	if rotator == nil {
		return nil
	}
	err := rotator.Close()
	rotator = nil
	writer = os.Stdout
	return err
}

func newRotator(path string, cfg config.LogConfig) *lumberjack.Logger {
	maxMB := cfg.MaxMB
	if maxMB <= 0 {
		maxMB = 10
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}
