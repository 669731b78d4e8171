package storage

import (
	"strings"
	"time"

	"codeberg.org/mutker/pilewatch/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm   = 0o755
	defaultDBPath    = "/var/lib/pilewatch/pilewatch.db"
	defaultBackupDir = "/var/lib/pilewatch/backups"
)

type Config struct {
	Driver    string
	DSN       string
	BackupDir string
	Location  *time.Location
}

func DefaultConfig() Config {
	return Config{
		Driver:    "sqlite",
		DSN:       defaultDBPath,
		BackupDir: defaultBackupDir,
		Location:  time.Local,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if strings.TrimSpace(c.DSN) == "" {
		return errFactory.New(ErrInvalidDSN)
	}
	if _, err := dialectFor(c.Driver); err != nil {
		return err
	}
	return nil
}

func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}
