package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// OutputName returns the name a fetched file is saved under: the base name
// of filename followed by a dot and the Unix time in seconds.
func OutputName(filename string, now time.Time) string {
	return filepath.Base(filepath.FromSlash(filename)) + "." + strconv.FormatInt(now.Unix(), 10)
}

// SaveResponse writes data into dir under OutputName(filename, now) and
// returns the full path.
//
// The file is written to a uniquely named temporary file first and renamed
// into place, so a partial write never leaves a truncated output file.
func SaveResponse(dir, filename string, data []byte, now time.Time) (string, error) {
	name := OutputName(filename, now)
	if name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("invalid output name for %q", filename)
	}

	target := filepath.Join(dir, name)
	tmp := filepath.Join(dir, ".tmp-"+uuid.NewString())

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("rename to %s: %w", target, err)
	}

	return target, nil
}
