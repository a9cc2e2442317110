package config

import (
	"github.com/spf13/viper"
	"sync"
	"time"
)

var once sync.Once

func InitConfig() {
	once.Do(func() {
		viper.AutomaticEnv()

		viper.BindEnv("metrics_port", "METRICS_PORT")
		viper.BindEnv("telegram_bot_token", "TELEGRAM_BOT_TOKEN")
		viper.BindEnv("api_pro_key", "API_PRO_KEY")
		viper.BindEnv("redis_url", "REDIS_URL")
		viper.BindEnv("db_path", "DB_PATH")
		viper.BindEnv("poll_interval", "POLL_INTERVAL")
		viper.BindEnv("relay_source_chat_id", "RELAY_SOURCE_CHAT_ID")
		viper.BindEnv("relay_target_chat_id", "RELAY_TARGET_CHAT_ID")
		viper.BindEnv("debug", "DEBUG")
		viper.BindEnv("lang", "LANG")

		viper.SetDefault("metrics_port", 9090)
		viper.SetDefault("db_path", "data/bot.db")
		viper.SetDefault("poll_interval", "2s")
		viper.SetDefault("debug", false)
		viper.SetDefault("lang", "en")
	})
}

func GetString(key string) string {
	InitConfig()
	return viper.GetString(key)
}

func GetInt(key string) int {
	InitConfig()
	return viper.GetInt(key)
}

func GetInt64(key string) int64 {
	InitConfig()
	return viper.GetInt64(key)
}

func GetBool(key string) bool {
	InitConfig()
	return viper.GetBool(key)
}

func GetDuration(key string) time.Duration {
	InitConfig()
	return viper.GetDuration(key)
}
