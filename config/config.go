// Package config loads server settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	DefaultHostPort        = 8080
	DefaultAllowedOrigin   = "http://localhost:3000"
	DefaultLogLevel        = "info"
	DefaultRoomCapacity    = 5
	DefaultDynamoDBTable   = "Holoboard"
	DefaultRoomClosedQueue = "RoomClosedQueue"

	ticketSecretBytes = 32
)

type Config struct {
	DevMode       bool
	HostPort      int
	AllowedOrigin string
	LogLevel      logrus.Level
	RoomCapacity  int

	// RedisEndpoint empty means broadcasts stay in process.
	RedisEndpoint string

	StatsEnabled     bool
	DynamoDBEndpoint string
	DynamoDBTable    string
	SQSEndpoint      string
	RoomClosedQueue  string

	TicketSecret  []byte
	MDNSAdvertise bool
}

// Load reads .env when present and then the process environment. Variables
// already set in the environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		AllowedOrigin:    DefaultAllowedOrigin,
		RedisEndpoint:    getenv("REDIS_ENDPOINT"),
		DynamoDBEndpoint: getenv("DYNAMODB_ENDPOINT"),
		DynamoDBTable:    DefaultDynamoDBTable,
		SQSEndpoint:      getenv("SQS_ENDPOINT"),
		RoomClosedQueue:  DefaultRoomClosedQueue,
	}

	var err error
	if cfg.DevMode, err = parseBool(getenv, "DEV_MODE"); err != nil {
		return nil, err
	}
	if cfg.StatsEnabled, err = parseBool(getenv, "STATS_ENABLED"); err != nil {
		return nil, err
	}
	if cfg.MDNSAdvertise, err = parseBool(getenv, "MDNS_ADVERTISE"); err != nil {
		return nil, err
	}
	if cfg.HostPort, err = parseInt(getenv, "HOST_PORT", DefaultHostPort); err != nil {
		return nil, err
	}
	if cfg.HostPort <= 0 || cfg.HostPort > 65535 {
		return nil, fmt.Errorf("HOST_PORT out of range: %d", cfg.HostPort)
	}
	if cfg.RoomCapacity, err = parseInt(getenv, "ROOM_CAPACITY", DefaultRoomCapacity); err != nil {
		return nil, err
	}
	if cfg.RoomCapacity <= 0 {
		return nil, fmt.Errorf("ROOM_CAPACITY must be positive, got %d", cfg.RoomCapacity)
	}

	if v := getenv("ALLOWED_ORIGIN"); v != "" {
		cfg.AllowedOrigin = v
	}
	if v := getenv("DYNAMODB_TABLE"); v != "" {
		cfg.DynamoDBTable = v
	}
	if v := getenv("SQS_ROOM_CLOSED_QUEUE"); v != "" {
		cfg.RoomClosedQueue = v
	}

	level := getenv("LOG_LEVEL")
	if level == "" {
		level = DefaultLogLevel
	}
	if cfg.LogLevel, err = logrus.ParseLevel(level); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	if v := getenv("TICKET_SECRET"); v != "" {
		cfg.TicketSecret, err = base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 TICKET_SECRET: %w", err)
		}
	} else {
		// Tickets then only survive as long as this process.
		cfg.TicketSecret = make([]byte, ticketSecretBytes)
		if _, err := rand.Read(cfg.TicketSecret); err != nil {
			return nil, fmt.Errorf("failed to generate ticket secret: %w", err)
		}
	}

	return cfg, nil
}

func parseBool(getenv func(string) string, key string) (bool, error) {
	v := getenv(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func parseInt(getenv func(string) string, key string, def int) (int, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
