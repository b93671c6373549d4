// Package config loads the coven-approve YAML configuration. Values may
// reference environment variables as ${VAR_NAME}; durations are written as
// Go duration strings ("5m", "90s"). Validation applies defaults for
// optional fields and rejects unknown auto-allow category names.
package config
