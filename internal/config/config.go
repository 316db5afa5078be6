package config

import (
	"errors"
	"os"
	"strconv"
)

// 广播后端的可选实现。
const (
	BrokerRedis = "redis"
	BrokerMem   = "mem"
)

type Config struct {
	Port        string
	DatabaseDSN string
	RedisAddr   string
	Broker      string
	Env         string
	HistoryPage int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, ""))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func Load() Config {
	return Config{
		Port:        getenv("APP_PORT", "8080"),
		DatabaseDSN: getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=chat port=5432 sslmode=disable TimeZone=UTC"),
		RedisAddr:   getenv("REDIS_ADDR", "localhost:6379"),
		Broker:      getenv("BROKER", BrokerRedis),
		Env:         getenv("APP_ENV", "dev"),
		HistoryPage: getenvInt("HISTORY_PAGE_LIMIT", 50),
	}
}

// Validate 在启动前检查配置，失败时应当直接退出而不是带病运行。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: port is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("config: database dsn is required")
	}
	switch cfg.Broker {
	case BrokerRedis:
		if cfg.RedisAddr == "" {
			return errors.New("config: redis addr is required for redis broker")
		}
	case BrokerMem:
	default:
		return errors.New("config: broker must be redis or mem")
	}
	return nil
}
