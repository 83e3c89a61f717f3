package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/sweepstation/internal/security"
)

// NextLocation returns a fresh dataset directory of the form
//
//	<dataDir>/<YYYY-MM-DD>/#NNN_<name>_<HH-MM-SS>
//
// where NNN is a per-day counter starting at 001, chosen one above the
// highest existing counter in that day's folder. The directory itself is not
// created; the sink does that on Open.
func NextLocation(dataDir, name string, t time.Time) (string, error) {
	day := filepath.Join(dataDir, t.Format("2006-01-02"))
	counter := 1

	entries, err := os.ReadDir(day)
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to scan data dir: %w", err)
	}
	for _, e := range entries {
		var n int
		if _, err := fmt.Sscanf(e.Name(), "#%d_", &n); err == nil && n >= counter {
			counter = n + 1
		}
	}

	base := security.SanitizeFilename(name)
	dir := fmt.Sprintf("#%03d_%s_%s", counter, base, t.Format("15-04-05"))
	return filepath.Join(day, dir), nil
}
