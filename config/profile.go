package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Board configures the board CLI. Values come from an optional YAML profile,
// then BOARD_* environment variables, then flags.
type Board struct {
	APIURL    string        `yaml:"api_url" env:"BOARD_API_URL"`
	StreamURL string        `yaml:"stream_url" env:"BOARD_STREAM_URL"`
	Token     string        `yaml:"token" env:"BOARD_TOKEN"`
	ClientID  string        `yaml:"client_id" env:"BOARD_CLIENT_ID"`
	Timeout   time.Duration `yaml:"timeout" env:"BOARD_TIMEOUT"`
	Debug     bool          `yaml:"debug" env:"DEBUG"`
}

const (
	defaultAPIURL      = "http://localhost:8080"
	defaultStreamURL   = "http://localhost:9000"
	defaultBoardTimeout = 10 * time.Second
)

// LoadBoard reads the profile at path, if any, and applies the environment on
// top. A missing profile is not an error.
func LoadBoard(path string) (Board, error) {
	var b Board
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Board{}, fmt.Errorf("read profile: %w", err)
		default:
			if err := yaml.Unmarshal(raw, &b); err != nil {
				return Board{}, fmt.Errorf("parse profile %s: %w", path, err)
			}
		}
	}
	if err := ParseEnv(&b); err != nil {
		return Board{}, err
	}
	if b.APIURL == "" {
		b.APIURL = defaultAPIURL
	}
	if b.StreamURL == "" {
		b.StreamURL = defaultStreamURL
	}
	if b.Timeout <= 0 {
		b.Timeout = defaultBoardTimeout
	}
	return b, nil
}
