package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURI     string
	TelegramToken   string
	DeliveryRetries int
	DeliveryTimeout time.Duration
	DeliveryBackoff time.Duration
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env file is optional in production
	}

	retries, err := getIntOrDefault("DELIVERY_RETRIES", 3)
	if err != nil {
		return nil, err
	}
	timeout, err := getDurationOrDefault("DELIVERY_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	backoff, err := getDurationOrDefault("DELIVERY_BACKOFF", 2*time.Second)
	if err != nil {
		return nil, err
	}

	return &Config{
		DatabaseURI:     os.Getenv("DATABASE_URI"),
		TelegramToken:   os.Getenv("TELEGRAM_TOKEN"),
		DeliveryRetries: retries,
		DeliveryTimeout: timeout,
		DeliveryBackoff: backoff,
	}, nil
}

func getIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
