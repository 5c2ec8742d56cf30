package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Setup は環境変数に応じた構造化ロガーを生成し、デフォルトに設定します。
func Setup() *slog.Logger {
	logger := slog.New(handler())
	slog.SetDefault(logger)
	return logger
}

func handler() slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     level(),
		AddSource: os.Getenv("LOG_SOURCE") == "true",
	}

	switch format() {
	case "json":
		return slog.NewJSONHandler(os.Stderr, opts)
	case "pretty":
		opts.ReplaceAttr = func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("15:04:05.000"))
			}
			return a
		}
		return slog.NewTextHandler(os.Stderr, opts)
	default:
		return slog.NewTextHandler(os.Stderr, opts)
	}
}

func level() slog.Level {
	lvl := os.Getenv("LOG_LEVEL")
	if lvl == "" {
		if isProduction() {
			return slog.LevelInfo
		}
		return slog.LevelDebug
	}
	switch strings.ToUpper(lvl) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func format() string {
	if f := os.Getenv("LOG_FORMAT"); f != "" {
		return strings.ToLower(f)
	}
	if isProduction() {
		return "json"
	}
	return "pretty"
}

func isProduction() bool {
	for _, key := range []string{"ENV", "GO_ENV", "APP_ENV"} {
		if v := strings.ToLower(os.Getenv(key)); v != "" {
			return strings.HasPrefix(v, "prod")
		}
	}
	return false
}
