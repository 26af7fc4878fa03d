// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/flowmend/flowmend/pkg/persistence"
	"github.com/flowmend/flowmend/pkg/persistence/file"
	"github.com/flowmend/flowmend/pkg/persistence/postgresql"
)

// NewPersistence selects the backend from the database URL scheme. Anything
// that is not postgres is treated as a file path.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string, historyCap int) (persistence.Persistence, error) {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL, historyCap)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres persistence: %w", err)
		}

		return store, nil
	default:
		return file.NewPersistence(databaseURL, historyCap), nil
	}
}

func parseProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return scheme
}
