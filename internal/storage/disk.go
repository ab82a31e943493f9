package storage

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hyperjump/ragchain/internal/config"
	"github.com/hyperjump/ragchain/internal/models"
)

// sqliteSidecars are the files SQLite keeps next to a database in WAL mode.
var sqliteSidecars = []string{"-wal", "-shm", "-journal"}

// MeasureDiskUsage sums the files behind cfg. A Postgres database lives on the
// server and counts as zero. Paths that do not exist yet count as zero.
func MeasureDiskUsage(cfg config.StorageConfig) (*models.DiskUsage, error) {
	u := &models.DiskUsage{}
	if Driver(cfg.Driver) != DriverPostgres && cfg.DatabasePath != "" && cfg.DatabasePath != ":memory:" {
		paths := []string{cfg.DatabasePath}
		for _, suffix := range sqliteSidecars {
			paths = append(paths, cfg.DatabasePath+suffix)
		}
		n, err := pathSize(paths...)
		if err != nil {
			return nil, err
		}
		u.Database = n
	}
	var err error
	if u.KeywordIndex, err = pathSize(cfg.KeywordIndexPath); err != nil {
		return nil, err
	}
	if u.VectorIndex, err = pathSize(cfg.VectorIndexPath); err != nil {
		return nil, err
	}
	u.Total = u.Database + u.KeywordIndex + u.VectorIndex
	return u, nil
}

// pathSize returns the size of files and directory trees at paths.
func pathSize(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
			continue
		}
		err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
