// Package assets serves the static pages and icons returned by each route.
//
// Asset locations are an explicit Paths value built once at startup and
// handed to the request handler, rather than process-wide constants.
package assets

import (
	"context"
	"errors"
)

// ErrAssetNotFound is returned when the named asset does not exist in a source.
var ErrAssetNotFound = errors.New("asset not found")

// Source reads named assets.
//
// Implementations must be safe for concurrent use: every connection reads
// through the same source.
type Source interface {
	// Read returns the full contents of the named asset.
	//
	// Returns ErrAssetNotFound (possibly wrapped) when name is missing.
	Read(ctx context.Context, name string) ([]byte, error)

	// Close releases any resources held by the source.
	Close() error
}

// Paths names the asset used by each route, relative to the source root.
type Paths struct {
	Home         string `mapstructure:"home" yaml:"home" validate:"required"`
	NotFound     string `mapstructure:"not_found" yaml:"not_found" validate:"required"`
	Unauthorized string `mapstructure:"unauthorized" yaml:"unauthorized" validate:"required"`
	Login        string `mapstructure:"login" yaml:"login" validate:"required"`
	Favicon      string `mapstructure:"favicon" yaml:"favicon" validate:"required"`
}

// DefaultPaths returns the layout shipped under resources/html.
func DefaultPaths() Paths {
	return Paths{
		Home:         "home.html",
		NotFound:     "404.html",
		Unauthorized: "401.html",
		Login:        "login.html",
		Favicon:      "favicon.ico",
	}
}
