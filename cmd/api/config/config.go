package config

import "time"

type Config struct {
	TurnTTL      time.Duration
	ToolTimeout  time.Duration
	PingInterval time.Duration
}

func NewConfig() *Config {
	return &Config{
		TurnTTL:      5 * time.Minute,
		ToolTimeout:  30 * time.Second,
		PingInterval: 30 * time.Second,
	}
}
