// Package logging provides slog loggers with a global level, per-module
// overrides and optional systemd journal output.
//
//	logging.Initialize(logging.Config{Level: "info", Modules: map[string]string{"wifi": "debug"}})
//	logger := logging.GetLogger("wifi")
//	logger.Info("Connected", "address", addr)
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config represents logging configuration.
type Config struct {
	Level   string
	Format  string
	Modules map[string]string
	Journal bool      // Also send records to the systemd journal when it is available
	Output  io.Writer // Defaults to os.Stdout
}

var (
	mutex           sync.RWMutex
	globalConfig    = Config{Level: "info", Format: "text"}
	globalLevel     = &slog.LevelVar{}
	outputs         = createOutputs(globalConfig)
	moduleLoggers   = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
)

// Initialize sets up the logging system. Loggers created earlier keep working
// and pick up the new levels and outputs.
func Initialize(config Config) {
	mutex.Lock()
	defer mutex.Unlock()

	globalConfig = config
	outputs = createOutputs(config)

	for module, levelVar := range moduleLevelVars {
		levelVar.Set(moduleLevel(config, module))
	}

	globalLevel.Set(parseLevel(config.Level, slog.LevelInfo))
	slog.SetDefault(slog.New(&moduleHandler{level: globalLevel}))
}

// GetLogger returns a logger for the specified module, creating it if needed.
func GetLogger(module string) *slog.Logger {
	mutex.RLock()
	if logger, ok := moduleLoggers[module]; ok {
		mutex.RUnlock()
		return logger
	}
	mutex.RUnlock()

	mutex.Lock()
	defer mutex.Unlock()

	if logger, ok := moduleLoggers[module]; ok {
		return logger
	}

	levelVar := &slog.LevelVar{}
	levelVar.Set(moduleLevel(globalConfig, module))

	logger := slog.New(&moduleHandler{level: levelVar}).With("module", module)
	moduleLoggers[module] = logger
	moduleLevelVars[module] = levelVar
	return logger
}

func moduleLevel(config Config, module string) slog.Level {
	level := parseLevel(config.Level, slog.LevelInfo)
	if override, ok := config.Modules[module]; ok {
		level = parseLevel(override, level)
	}
	return level
}

// createOutputs builds the handlers records are written to. Levels are
// checked by the module handlers in front of them.
func createOutputs(config Config) []slog.Handler {
	out := config.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: slog.LevelDebug}

	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	if config.Journal && IsJournalAvailable() {
		return []slog.Handler{handler, NewJournalHandler(slog.LevelDebug)}
	}
	return []slog.Handler{handler}
}

func currentOutputs() []slog.Handler {
	mutex.RLock()
	defer mutex.RUnlock()
	return outputs
}

// parseLevel converts a level name, returning def for unknown names.
func parseLevel(level string, def slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return def
	}
}
