package driver

import (
	"strconv"
	"strings"
	"time"
)

// settings is the flat per-channel driver configuration.
type settings map[string]string

func (s settings) str(key, fallback string) string {
	if v := strings.TrimSpace(s[key]); v != "" {
		return v
	}
	return fallback
}

func (s settings) int(key string, fallback int) int {
	v := strings.TrimSpace(s[key])
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func (s settings) bool(key string, fallback bool) bool {
	v := strings.TrimSpace(s[key])
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// duration accepts Go durations ("10s") or plain seconds ("10").
func (s settings) duration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(s[key])
	if v == "" {
		return fallback
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
