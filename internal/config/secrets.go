package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Environment variables that override secrets from the YAML file.
const (
	EnvTelegramToken  = "TELEGRAM_BOT_TOKEN"
	EnvTelegramChatID = "TELEGRAM_CHAT_ID"
	EnvRedisAddr      = "REDIS_ADDR"
	EnvRedisPassword  = "REDIS_PASSWORD"
)

// LoadSecrets reads optional .env files and copies any secret found in the environment
// over the file values.
func (c *Config) LoadSecrets(envFiles ...string) {
	_ = godotenv.Load(envFiles...) // best-effort
	override(&c.Notify.Telegram.Token, EnvTelegramToken)
	override(&c.Notify.Telegram.ChatID, EnvTelegramChatID)
	override(&c.Notify.Redis.Addr, EnvRedisAddr)
	override(&c.Notify.Redis.Password, EnvRedisPassword)
}

func override(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
