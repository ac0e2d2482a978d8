package httpapi

import (
	"context"
	"database/sql"
	"sync/atomic"

	"allotment-engine/internal/config"
	"allotment-engine/internal/events"
	"allotment-engine/internal/queue"
	"allotment-engine/internal/resolve"
)

type Deps struct {
	DB *sql.DB

	Hub *events.Hub

	Resolver *resolve.Resolver
	Queue    *queue.Queue

	// Atomic stores
	CfgVal      *atomic.Value // stores config.Config
	SweepStatus *atomic.Value // stores httpapi.SweepStatus

	// Config persistence
	UserCfgPath string
	LoadCfg     func() (config.Config, error)

	// Sweep entrypoints (injected for testability)
	RunSweepOnce func(ctx context.Context) error
	SweepBacklog func(ctx context.Context) (int, error)
}
