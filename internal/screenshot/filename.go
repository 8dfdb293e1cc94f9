package screenshot

import (
	"crypto/rand"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const filenameAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Filename builds a collision-resistant image name for a URL:
// <host>_<path>_<unix-ms>_<suffix>.<ext>. Dots in the host and slashes in the
// path are replaced by underscores; an empty path becomes "index".
func Filename(rawURL, ext string, now time.Time) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if parsed.Hostname() == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	host := strings.ReplaceAll(parsed.Hostname(), ".", "_")
	path := strings.Trim(strings.ReplaceAll(parsed.Path, "/", "_"), "_")
	if path == "" {
		path = "index"
	}
	suffix, err := randomSuffix(7)
	if err != nil {
		return "", err
	}
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "png"
	}
	return fmt.Sprintf("%s_%s_%d_%s.%s", host, path, now.UnixMilli(), suffix, ext), nil
}

func randomSuffix(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random suffix: %w", err)
	}
	for i, b := range buf {
		buf[i] = filenameAlphabet[int(b)%len(filenameAlphabet)]
	}
	return string(buf), nil
}
