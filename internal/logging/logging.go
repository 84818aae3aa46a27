package logging

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	sugar *zap.SugaredLogger
	once  sync.Once
)

// Init builds the global sugared logger from LOG_LEVEL (debug, info, warn,
// error), installs it as the zap global, and redirects the standard library
// logger into it. Safe to call multiple times.
func Init() *zap.SugaredLogger {
	once.Do(func() {
		cfg := zap.NewProductionConfig()
		switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
		case "debug":
			cfg = zap.NewDevelopmentConfig()
		case "warn":
			cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
		case "error":
			cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
		}
		logger, err := cfg.Build()
		if err != nil {
			logger = zap.NewNop()
		}
		zap.ReplaceGlobals(logger)
		// Redirect standard library logs into zap so all logs are unified.
		_ = zap.RedirectStdLog(logger)
		sugar = logger.Sugar()
	})
	return sugar
}

// Sugar returns the initialized sugared logger. Call Init first.
func Sugar() *zap.SugaredLogger { return sugar }

func init() {
	Init()
}

// Package-level wrappers so callers can write logging.Infow(...) without
// holding a logger reference.

func Debugw(msg string, kv ...interface{}) { sugar.Debugw(msg, kv...) }
func Infow(msg string, kv ...interface{})  { sugar.Infow(msg, kv...) }
func Warnw(msg string, kv ...interface{})  { sugar.Warnw(msg, kv...) }
func Errorw(msg string, kv ...interface{}) { sugar.Errorw(msg, kv...) }
