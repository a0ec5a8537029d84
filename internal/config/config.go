package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode            string        `mapstructure:"mode"`
	Port            int           `mapstructure:"port"`
	RoomID          string        `mapstructure:"room_id"`
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	Provider        string        `mapstructure:"provider"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	StaleThreshold  time.Duration `mapstructure:"stale_threshold"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxRoomSize     int           `mapstructure:"max_room_size"`
	WorkerBasePort  int           `mapstructure:"worker_base_port"`
	RoomImage       string        `mapstructure:"room_image"`
	Namespace       string        `mapstructure:"namespace"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("room_id", "")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("provider", "cluster")
	v.SetDefault("cleanup_interval", "30s")
	v.SetDefault("stale_threshold", "30s")
	v.SetDefault("max_connections", 2000)
	v.SetDefault("max_room_size", 60)
	v.SetDefault("worker_base_port", 9100)
	v.SetDefault("room_image", "evaluetonsavoir/roomserver:latest")
	v.SetDefault("namespace", "default")

	// QUIZ_REDIS_ADDR, QUIZ_PROVIDER, QUIZ_ROOM_ID, ...
	v.SetEnvPrefix("QUIZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
