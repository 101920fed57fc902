package util

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	return nil
}

func SafeJoin(root, name string) string {
	return filepath.Join(root, filepath.Base(name))
}

var unsafeNameChars = regexp.MustCompile(`[^\w\s-]`)

// SafeName turns an arbitrary identifier (DOI, paper title) into a filename
// component. Length is capped so long titles stay below filesystem limits.
func SafeName(id string) string {
	s := unsafeNameChars.ReplaceAllString(id, "_")
	s = strings.TrimSpace(s)
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}
