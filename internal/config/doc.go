// Package config loads the ExoLab Agents runtime configuration from JSON or
// YAML files, a .env file and process environment variables, then fills in
// defaults for every section.
package config
