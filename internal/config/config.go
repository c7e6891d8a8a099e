/**
 * @description
 * This file handles configuration management for the membership bot.
 * It loads settings from environment variables, providing defaults for the
 * enforcement timings and the reminder schedule.
 */
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the membership bot.
type Config struct {
	BotToken            string        `mapstructure:"BOT_TOKEN"`
	DatabaseURL         string        `mapstructure:"DATABASE_URL"`
	ServerPort          string        `mapstructure:"SERVER_PORT"`
	EnforcementInterval time.Duration `mapstructure:"ENFORCEMENT_INTERVAL"`
	SettleDelay         time.Duration `mapstructure:"SETTLE_DELAY"`
	NotifyDelay         time.Duration `mapstructure:"NOTIFY_DELAY"`
	ReminderJobSchedule string        `mapstructure:"REMINDER_JOB_SCHEDULE"`
	ReminderDays        int           `mapstructure:"REMINDER_DAYS"`
	SessionTimeout      time.Duration `mapstructure:"SESSION_TIMEOUT"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("ENFORCEMENT_INTERVAL", "5m") // Fixed delay between completed runs.
	viper.SetDefault("SETTLE_DELAY", "2m")         // Debounce against last-moment renewals.
	viper.SetDefault("NOTIFY_DELAY", "5s")
	viper.SetDefault("REMINDER_JOB_SCHEDULE", "0 9 * * *") // Daily at 09:00.
	viper.SetDefault("REMINDER_DAYS", 5)
	viper.SetDefault("SESSION_TIMEOUT", "10m")
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("BOT_TOKEN")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("ENFORCEMENT_INTERVAL")
	_ = viper.BindEnv("SETTLE_DELAY")
	_ = viper.BindEnv("NOTIFY_DELAY")
	_ = viper.BindEnv("REMINDER_JOB_SCHEDULE")
	_ = viper.BindEnv("REMINDER_DAYS")
	_ = viper.BindEnv("SESSION_TIMEOUT")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.BotToken == "" {
		return nil, fmt.Errorf("BOT_TOKEN must be set")
	}
	if config.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set")
	}

	return &config, nil
}
