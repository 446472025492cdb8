package config

import (
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sagan/genmeta/constants"
)

// GetCatalogUrl returns the Civitai base url without trailing slash.
// It checks the GENMETA_CATALOG_URL environment variable first, then falls back to constants.DEFAULT_CATALOG_URL.
func GetCatalogUrl() string {
	url := os.Getenv(constants.ENV_CATALOG_URL)
	if url == "" {
		url = constants.DEFAULT_CATALOG_URL
	}
	return strings.TrimSuffix(url, "/")
}

// GetApiKey returns the CIVITAI_API_KEY env value, which may be empty.
func GetApiKey() string {
	return os.Getenv(constants.ENV_CIVITAI_API_KEY)
}

func GetLookupDelay() time.Duration {
	return getDuration(constants.ENV_LOOKUP_DELAY, constants.DEFAULT_LOOKUP_DELAY)
}

func GetTimeout() time.Duration {
	return getDuration(constants.ENV_TIMEOUT, constants.DEFAULT_TIMEOUT)
}

func getDuration(env string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(env)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		log.Warnf("invalid %s env %q, use default %v", env, value, defaultValue)
		return defaultValue
	}
	return d
}
