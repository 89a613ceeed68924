package main

import (
	"fmt"
	"log/slog"

	"github.com/smartdocai/smartdoc-web-ui/internal/api"
)

type config struct {
	Port       string `yaml:"port"`
	BackendURL string `yaml:"backendURL"`

	// AccessToken is the bearer token for the backend. AccessTokenFile points
	// at a credentials file instead, which wins when both are set.
	AccessToken     string `yaml:"accessToken"`
	AccessTokenFile string `yaml:"accessTokenFile"`

	// CachePath overrides the default location of the local recent-chats
	// cache. Set to "off" to disable caching.
	CachePath string `yaml:"cachePath"`

	LogLevel string `yaml:"logLevel"`
}

func (c config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.BackendURL == "" {
		return fmt.Errorf("backendURL is required")
	}
	return nil
}

func (c config) tokenSource() api.TokenSource {
	if c.AccessTokenFile != "" {
		return api.FileToken(c.AccessTokenFile)
	}
	return api.StaticToken(c.AccessToken)
}

func (c config) logLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
