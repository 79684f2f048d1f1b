// Progress lines on stdout while a compilation runs.
package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/mattn/go-runewidth"
)

// progressOut receives one line per fetched article. It is os.Stdout for
// interactive runs and io.Discard under --silent.
var progressOut io.Writer = io.Discard

const shortURLWidth = 60

// pprintf writes a formatted progress line to progressOut.
func pprintf(format string, args ...any) {
	fmt.Fprintf(progressOut, format, args...)
}

// shortURL returns a compact display form of a URL: host + trimmed path,
// no scheme, truncated to 60 terminal columns.
func shortURL(rawURL string) string {
	display := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		display = strings.TrimSuffix(u.Host+u.Path, "/")
	}
	return runewidth.Truncate(display, shortURLWidth, "...")
}
