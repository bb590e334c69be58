package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Load reads and decodes path (config.toml) over the hardcoded defaults,
// then applies the documented environment overrides (SERVER_HOST,
// SERVER_PORT, MAX_FILE_SIZE, RATE_LIMIT, RATE_PERIOD_HOURS,
// IP_WHITELIST, IP_BLACKLIST). A missing file is not an error; the
// defaults (plus any env overrides) are used as-is.
func Load(path string) (Settings, error) {
	s := defaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&s)
			return s, nil
		}
		return s, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(&s)
	return s, nil
}

// applyEnvOverrides layers SERVER_HOST, SERVER_PORT, MAX_FILE_SIZE,
// RATE_LIMIT, RATE_PERIOD_HOURS, IP_WHITELIST, and IP_BLACKLIST on top of
// the file-loaded Settings. IP_WHITELIST/IP_BLACKLIST are CSV lists of
// CIDRs appended to the configured security lists, not replacements.
func applyEnvOverrides(s *Settings) {
	env := New()

	s.Server.Host = env.MayString("SERVER_HOST", s.Server.Host)
	s.Server.Port = env.MayInt("SERVER_PORT", s.Server.Port)
	if v := os.Getenv("MAX_FILE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			s.Server.FileSize = n
		}
	}

	s.RateLimit.RequestLimit = env.MayInt("RATE_LIMIT", s.RateLimit.RequestLimit)
	s.RateLimit.PeriodHours = env.MayFloat64("RATE_PERIOD_HOURS", s.RateLimit.PeriodHours)

	s.Security.WhiteList = append(s.Security.WhiteList, csvEnv("IP_WHITELIST")...)
	s.Security.BlackList = append(s.Security.BlackList, csvEnv("IP_BLACKLIST")...)
}

func csvEnv(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
