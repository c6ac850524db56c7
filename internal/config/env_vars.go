package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	portEnvVar         = "PORT"
	appNameVar         = "APP_NAME"
	logLevelVar        = "LOG_LEVEL"
	accountsFileVar    = "ACCOUNTS_FILE"
	sessionStoreVar    = "SESSION_STORE"
	reaperIntervalVar  = "REAPER_INTERVAL"
	dbPingIntervalVar  = "DB_PING_INTERVAL"
	defaultReaperEvery = 60 * time.Minute
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, "8080")
	if !strings.HasPrefix(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Middle Layer")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

func (EnvVars) GetLogLevel() string {
	return GetEnv(logLevelVar, "info")
}

func (EnvVars) GetAccountsFile() string {
	return GetEnv(accountsFileVar, "./accounts.yaml")
}

// GetSessionStore selects the session backend, "memory" or "redis".
func (EnvVars) GetSessionStore() string {
	return strings.ToLower(GetEnv(sessionStoreVar, "memory"))
}

func (EnvVars) GetReaperInterval() time.Duration {
	return GetDuration(reaperIntervalVar, defaultReaperEvery)
}

// GetDBPingInterval returns 0 when the keep-alive ping is disabled.
func (EnvVars) GetDBPingInterval() time.Duration {
	return GetDuration(dbPingIntervalVar, 0)
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetDuration parses a Go duration ("90s", "5m"). A bare integer is read as minutes.
func GetDuration(envVar string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Warn().Err(err).Str("var", envVar).Msg("invalid duration, using default")
		return defaultValue
	}
	return d
}

func GetInt(envVar string, defaultValue int) int {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		log.Warn().Err(err).Str("var", envVar).Msg("invalid integer, using default")
		return defaultValue
	}
	return i
}

// GetList splits a comma separated variable, dropping empty entries.
func GetList(envVar string, defaultValue []string) []string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
