package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const maxFilenameRunes = 100

var unsafeFilenameRe = regexp.MustCompile(`[<>:"/\\|?*]`)

// sanitizeFilename converts a title into a token safe to use as a file name:
// reserved characters become underscores, the result is capped at 100
// characters and stripped of leading/trailing dots and spaces.
func sanitizeFilename(title string) string {
	safe := unsafeFilenameRe.ReplaceAllString(title, "_")
	if r := []rune(safe); len(r) > maxFilenameRunes {
		safe = string(r[:maxFilenameRunes])
	}
	return strings.Trim(safe, ". ")
}

// uniquePath joins dir, base and ext, appending _1, _2, ... to base until
// exists reports the path as free.
func uniquePath(dir, base, ext string, exists func(string) bool) string {
	p := filepath.Join(dir, base+ext)
	for n := 1; exists(p); n++ {
		p = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, n, ext))
	}
	return p
}

// fileExists is the os-backed existence check used by uniquePath.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
