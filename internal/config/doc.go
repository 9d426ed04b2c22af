// Package config defines the tokengate configuration, loads it from YAML with
// ${VAR} and ${VAR:-default} environment substitution, validates it and
// watches the file for runtime changes.
//
// Only some settings apply without a restart: the certificate refresh
// interval and the log level. Everything else is read once at startup.
package config
