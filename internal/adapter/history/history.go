package history

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"chatstream/internal/domain"
	"chatstream/internal/infra/config"
)

// Open returns the store selected by cfg.
func Open(cfg config.HistoryConfig) (domain.HistoryStore, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "":
		return NewSQLiteStore(expandHome(cfg.Path))
	default:
		return nil, fmt.Errorf("%w: unknown history backend %q", domain.ErrInvalidInput, cfg.Backend)
	}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
