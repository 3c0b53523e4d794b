package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"freespace_cleaner/internal/config"
)

// EnterpriseLogger is a leveled key/value logger backed by zap.
// Log file entries are JSON; verbose console output is human readable.
type EnterpriseLogger struct {
	level   zapcore.Level
	zap     *zap.Logger
	file    *os.File
	verbose bool
}

func NewEnterpriseLogger(cfg *config.Config, verbose bool) (*EnterpriseLogger, error) {
	l := &EnterpriseLogger{
		level:   parseLevel(cfg.Logging.Level),
		verbose: verbose || cfg.Logging.Verbose,
	}

	var cores []zapcore.Core
	enabler := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool { return lvl >= l.level })

	if cfg.Logging.File != "" {
		logDir := filepath.Dir(cfg.Logging.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			// Without a file, logs go to the console only.
			fmt.Fprintf(os.Stderr, "[WARN] cannot create log directory %s: %v\n", logDir, err)
		} else if f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] cannot open log file %s: %v\n", cfg.Logging.File, err)
		} else {
			l.file = f
			cores = append(cores, zapcore.NewCore(
				zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
				zapcore.AddSync(f),
				enabler,
			))
		}
	}

	// Errors always reach the console, everything else only in verbose mode.
	consoleEnabler := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		if !enabler(lvl) {
			return false
		}
		return l.verbose || lvl >= zapcore.ErrorLevel
	})
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	cores = append(cores, zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		consoleEnabler,
	))

	l.zap = zap.New(zapcore.NewTee(cores...))
	return l, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *EnterpriseLogger {
	return &EnterpriseLogger{level: zapcore.DebugLevel, zap: zap.NewNop()}
}

// NewWithZap wraps an existing zap logger.
func NewWithZap(z *zap.Logger) *EnterpriseLogger {
	return &EnterpriseLogger{level: zapcore.DebugLevel, zap: z}
}

// Log writes message at level with alternating key/value fields.
func (l *EnterpriseLogger) Log(level, message string, fields ...interface{}) {
	if l == nil || l.zap == nil {
		return
	}
	lvl := parseLevel(level)
	if lvl < l.level {
		return
	}

	zf := toFields(fields)
	switch lvl {
	case zapcore.DebugLevel:
		l.zap.Debug(message, zf...)
	case zapcore.InfoLevel:
		l.zap.Info(message, zf...)
	case zapcore.WarnLevel:
		l.zap.Warn(message, zf...)
	default:
		// FATAL is logged as error: a worker must never exit the process
		// before its filler files are removed.
		l.zap.Error(message, zf...)
	}
}

// Zap exposes the underlying logger.
func (l *EnterpriseLogger) Zap() *zap.Logger {
	return l.zap
}

func (l *EnterpriseLogger) Close() error {
	if l == nil || l.zap == nil {
		return nil
	}
	_ = l.zap.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func toFields(kv []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(kv)/2+1)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprintf("arg%d", i)
		}
		if i+1 >= len(kv) {
			out = append(out, zap.String(key, "(missing)"))
			break
		}
		if err, isErr := kv[i+1].(error); isErr {
			out = append(out, zap.NamedError(key, err))
			continue
		}
		out = append(out, zap.Any(key, kv[i+1]))
	}
	return out
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN":
		return zapcore.WarnLevel
	case "ERROR", "FATAL":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
