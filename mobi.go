package main

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// mobiConverter is the external command used for MOBI output. Tests swap it
// for a stand-in.
var mobiConverter = "ebook-convert"

// convertToMobi converts the epub at epubPath with Calibre and returns the
// path of the .mobi written next to it.
func convertToMobi(ctx context.Context, epubPath string) (string, error) {
	bin, err := exec.LookPath(mobiConverter)
	if err != nil {
		return "", fmt.Errorf("MOBI conversion needs %s on PATH: %w", mobiConverter, err)
	}

	mobiPath := strings.TrimSuffix(epubPath, ".epub") + ".mobi"
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, epubPath, mobiPath)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s: %w: %s", mobiConverter, err, msg)
		}
		return "", fmt.Errorf("%s: %w", mobiConverter, err)
	}
	return mobiPath, nil
}
