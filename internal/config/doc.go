// Package config loads feedwatch configuration from YAML.
//
// ${VAR} references are expanded from the process environment, falling back
// to a .env file next to the config file. Defaults fill optional fields;
// Validate rejects incomplete or inconsistent settings.
package config
