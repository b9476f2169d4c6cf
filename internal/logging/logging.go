// Package logging builds the process slog logger from configuration.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"invoicely/internal/domain"
)

// ParseLevel maps "debug", "info", "warn" or "error" (any case) to a level.
// An empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return level, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("logging: level %q: %w", s, err)
	}
	return level, nil
}

// New returns a logger writing to w in the configured format ("json" or
// "text"). The returned LevelVar controls the level and may be changed while
// the logger is in use.
func New(cfg domain.InfraConfig, w io.Writer) (*slog.Logger, *slog.LevelVar, error) {
	level, err := ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	lv := new(slog.LevelVar)
	lv.Set(level)
	opts := &slog.HandlerOptions{Level: lv}
	switch strings.ToLower(cfg.LogFormat) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), lv, nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), lv, nil
	default:
		return nil, nil, fmt.Errorf("logging: unknown format %q", cfg.LogFormat)
	}
}
