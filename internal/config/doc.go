// Package config builds the single configuration value object shared by the
// supervisor and every agent process. Settings come from one YAML file, an
// optional .env file and a small set of environment overrides; missing
// required settings surface as CONFIGURATION_ERROR from ResolveAgent, before
// any side effect.
package config
