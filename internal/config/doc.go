// Package config loads and validates analysis settings.
//
// Settings come from a flat JSON or YAML document. Every field is optional
// and falls back to a default through its Get* accessor.
package config
