/*
Package config loads server settings from the environment.

SOURCES (later wins):
  1. Defaults below
  2. .env file in the working directory, if present
  3. Process environment
  4. Command-line flags (applied by cmd/server)

VARIABLES:
  PORT                 HTTP port (8080)
  DB_PATH              SQLite path, ":memory:" for a throwaway store (collection.db)
  LOG_LEVEL            zerolog level: debug, info, warn, error (info)
  LOG_FORMAT           "console" for human-readable output, else JSON
  COLLECTION_TIMEZONE  IANA zone that defines "today" (Asia/Kolkata)
  CORS_ORIGINS         Comma-separated dashboard origins
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type Config struct {
	Port        int
	DBPath      string
	LogLevel    string
	LogFormat   string
	Timezone    string
	CORSOrigins []string
}

func Defaults() Config {
	return Config{
		Port:      8080,
		DBPath:    "collection.db",
		LogLevel:  "info",
		LogFormat: "json",
		Timezone:  "Asia/Kolkata",
	}
}

// Load reads an optional .env file and then the environment. A missing .env
// is not an error; a malformed one is.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from a lookup function, starting from Defaults.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Defaults()

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return cfg, fmt.Errorf("PORT must be a port number, got %q", v)
		}
		cfg.Port = port
	}
	if v, ok := lookup("DB_PATH"); ok && v != "" {
		cfg.DBPath = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v, ok := lookup("LOG_FORMAT"); ok && v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}
	if v, ok := lookup("COLLECTION_TIMEZONE"); ok && v != "" {
		cfg.Timezone = v
	}
	if v, ok := lookup("CORS_ORIGINS"); ok && v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	return cfg, cfg.Validate()
}

// Validate checks the values that would otherwise fail late.
func (c Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("COLLECTION_TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Level resolves LogLevel.
func (c Config) Level() (zerolog.Level, error) {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}
