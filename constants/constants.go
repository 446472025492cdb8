package constants

import "time"

const (
	// Env variable names

	ENV_CIVITAI_API_KEY = "CIVITAI_API_KEY"
	ENV_CATALOG_URL     = "GENMETA_CATALOG_URL"
	ENV_LOOKUP_DELAY    = "GENMETA_LOOKUP_DELAY" // Go duration string, e.g. "500ms"
	ENV_TIMEOUT         = "GENMETA_TIMEOUT"      // Go duration string, e.g. "30s"

	DEFAULT_CATALOG_URL = "https://civitai.com"

	// Civitai does not publish its rate limit; half a second between lookups has been safe.
	DEFAULT_LOOKUP_DELAY = 500 * time.Millisecond

	DEFAULT_TIMEOUT = 30 * time.Second

	// Max tries of one catalog request (including the first one).
	CATALOG_MAX_TRIES = 3

	REPORT_EXT = ".txt"

	FORMAT_TEXT = "text"
	FORMAT_JSON = "json"
	FORMAT_YAML = "yaml"
	FORMAT_TOML = "toml"
)

// Image file extensions (lower case, with leading dot) that may carry generation metadata.
var ImageExts = []string{".jpg", ".jpeg", ".png", ".webp"}

const HELP_TEMPLATE_FLAG = `The Go text template string. If the value starts with "@", ` +
	`it (the rest part after @) is treated as a filename, ` +
	`which contents will be used as template. ` +
	`All sprout functions are supported, see https://github.com/go-sprout/sprout`

const HELP_API_KEY = `Civitai API key. If not set, it reads from ` + ENV_CIVITAI_API_KEY + ` env. ` +
	`Most public model versions can be looked up without a key`

const HELP_CATALOG_URL = `Civitai base url. If not set, it reads from ` + ENV_CATALOG_URL +
	` env, then fallbacks to "` + DEFAULT_CATALOG_URL + `"`

const HELP_DELAY = `Minimum delay between two catalog requests. Cached lookups are not delayed. ` +
	`If not set, it reads from ` + ENV_LOOKUP_DELAY + ` env, then fallbacks to 500ms`

const HELP_FORMAT = `Output format. Any of: "` + FORMAT_TEXT + `", "` + FORMAT_JSON + `", "` +
	FORMAT_YAML + `", "` + FORMAT_TOML + `"`
