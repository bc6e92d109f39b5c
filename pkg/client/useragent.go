package client

import (
	_ "embed" // Used to embed version for use with user agent
	"fmt"
	"runtime/debug"
	"strings"
)

var (
	//go:embed version.txt
	libraryVersion string
)

// UserAgent builds the User-Agent string sent on every request. An empty app derives the
// application name from build info.
func UserAgent(app string) string {
	library := strings.TrimSpace("course-client/" + libraryVersion)
	build, ok := debug.ReadBuildInfo()
	if !ok {
		return library
	}
	path := strings.Split(build.Path, "/")
	if len(path) == 0 {
		return library
	}

	if app == "" {
		app = path[len(path)-1]
		var version string
		if build.Main.Version != "(devel)" && build.Main.Version != "" {
			version = build.Main.Version
		} else {
			for _, info := range build.Settings {
				if info.Key == "vcs.revision" {
					if len(info.Value) > 8 {
						version = info.Value[0:8]
					}
					break
				}
			}
		}

		if version != "" {
			app = fmt.Sprintf("%s/%s", app, version)
		}
	}

	return fmt.Sprintf("%s %s", app, library)
}
