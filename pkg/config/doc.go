// Package config loads the claimd YAML configuration. Files are applied in
// order over Default and the result is validated with struct tags.
package config
