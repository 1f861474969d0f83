// Package tasks implements the agent's scheduled background tasks:
// retention purge and database maintenance.
package tasks

import (
	"log/slog"

	"newsagent/internal/config"
	"newsagent/internal/database"
)

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	Store  database.Store
	Config *config.Config
}
