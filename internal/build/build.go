// Package build carries the binary identity stamped at link time.
package build

import "strings"

var (
	// Version is overridden by the release pipeline via ldflags.
	Version = "dev"
	AppName = "Reflux"
	Slug    = ""
)

func init() {
	if Slug == "" {
		Slug = strings.ToLower(AppName)
	}
}
