package progress

import (
	"context"
	"fmt"
	"strings"
)

const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendFirebase = "firebase"

	defaultFilePath   = "progress.json"
	defaultSQLitePath = "progress.db"
)

// Config selects and configures a backend.
type Config struct {
	Backend  string
	File     string
	SQLite   string
	Firebase FirebaseConfig
	// Lock overrides the lock file path.
	Lock string
}

// Open builds the backend selected by cfg. The file backend is the default.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendFile:
		path := strings.TrimSpace(cfg.File)
		if path == "" {
			path = defaultFilePath
		}
		return NewFile(path), nil
	case BackendSQLite:
		path := strings.TrimSpace(cfg.SQLite)
		if path == "" {
			path = defaultSQLitePath
		}
		return OpenSQLite(path)
	case BackendFirebase:
		return NewFirebase(ctx, cfg.Firebase)
	default:
		return nil, fmt.Errorf("unsupported progress backend: %s", cfg.Backend)
	}
}
