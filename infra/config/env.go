package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config はターミナル全体の実行時設定です。
type Config struct {
	HTTPBaseURL string
	WSBaseURL   string
	Username    string
	Password    string
	HTTPTimeout time.Duration

	PingInterval time.Duration
	PongTimeout  time.Duration
	BackoffMax   time.Duration

	TradeTapeSize int
	EventLogSize  int
	ListenAddr    string
}

// LoadEnv は .env ファイルから環境変数を読み込みます。読み込めたかどうかを返します。
// ロガーの設定より前に呼ばれるため、ここではログを出しません。
func LoadEnv() bool {
	return godotenv.Load() == nil
}

// GetEnv は指定されたキーの環境変数を取得します。
func GetEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// Load は環境変数とデフォルト値から Config を組み立てます。
// VITE_ 接頭辞の旧キーも受け付けます。
func Load() Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("HTTP_BASE_URL", GetEnv("VITE_HTTP_BASE_URL", "http://localhost:80"))
	v.SetDefault("WS_BASE_URL", GetEnv("VITE_WS_BASE_URL", "ws://localhost:80"))
	v.SetDefault("SPECTUEL_USERNAME", "")
	v.SetDefault("SPECTUEL_PASSWORD", "")
	v.SetDefault("HTTP_TIMEOUT", 30*time.Second)
	v.SetDefault("WS_PING_INTERVAL", time.Second)
	v.SetDefault("WS_PONG_TIMEOUT", 15*time.Second)
	v.SetDefault("WS_BACKOFF_MAX", 30*time.Second)
	v.SetDefault("TRADE_TAPE_SIZE", 10)
	v.SetDefault("EVENT_LOG_SIZE", 100)
	v.SetDefault("LISTEN_ADDR", "127.0.0.1:8089")

	return Config{
		HTTPBaseURL:   v.GetString("HTTP_BASE_URL"),
		WSBaseURL:     v.GetString("WS_BASE_URL"),
		Username:      v.GetString("SPECTUEL_USERNAME"),
		Password:      v.GetString("SPECTUEL_PASSWORD"),
		HTTPTimeout:   v.GetDuration("HTTP_TIMEOUT"),
		PingInterval:  v.GetDuration("WS_PING_INTERVAL"),
		PongTimeout:   v.GetDuration("WS_PONG_TIMEOUT"),
		BackoffMax:    v.GetDuration("WS_BACKOFF_MAX"),
		TradeTapeSize: v.GetInt("TRADE_TAPE_SIZE"),
		EventLogSize:  v.GetInt("EVENT_LOG_SIZE"),
		ListenAddr:    v.GetString("LISTEN_ADDR"),
	}
}
