package pagecache

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Sweep removes temporary page artifacts under root that are older than olderThan.
// They are left behind only by writers that died between create and rename; a young
// temp file may still belong to a live Put, so it is kept. Returns the number removed.
func Sweep(root string, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	removed := 0

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), tmpSuffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			// Renamed or removed since the directory was read
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger().Warn("Failed to remove abandoned page artifact", "path", path, "error", err)
			return nil
		}
		removed++
		return nil
	})

	return removed, err
}
