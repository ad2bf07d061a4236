package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config carries the environment-sourced defaults. Command line flags
// may still override any of these.
type Config struct {
	APIListenAddr    string
	WSListenAddr     string
	LogLevel         string
	VSCountdownSec   int
	ChatHistoryLimit int
}

// Load reads an optional .env file, then the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		APIListenAddr:    getEnv("API_LISTEN_ADDR", ":8080"),
		WSListenAddr:     getEnv("WS_LISTEN_ADDR", ":8888"),
		LogLevel:         getEnv("LOG_LEVEL", "debug"),
		VSCountdownSec:   getEnvInt("VS_COUNTDOWN_SEC", 90),
		ChatHistoryLimit: getEnvInt("CHAT_HISTORY_LIMIT", 100),
	}
}

func getEnv(key, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}
