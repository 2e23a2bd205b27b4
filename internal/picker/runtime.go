package picker

import (
	"context"
	"fmt"

	"picking-sync-backend/config"
	"picking-sync-backend/internal/connectivity"
	"picking-sync-backend/internal/db"
	"picking-sync-backend/internal/device"
	"picking-sync-backend/internal/remote"
	"picking-sync-backend/internal/store"
	"picking-sync-backend/internal/syncer"
)

// Runtime bundles the long-running device-side components: the durable
// local store, the coordination client, the sync engine and the
// connectivity monitor, with a Service facade on top.
type Runtime struct {
	Store   store.Store
	Client  *remote.Client
	Engine  *syncer.Engine
	Monitor *connectivity.Monitor
	Service *Service
}

// NewRuntime assembles the device stack for one worker. The device id is
// derived on first run and persisted; a regained connection triggers a
// queue drain.
func NewRuntime(ctx context.Context, cfg *config.Config, workerID string) (*Runtime, error) {
	local, err := db.InitLocal(&cfg.LocalStore)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	s := store.NewGormStore(local)

	deviceID, err := device.EnsureStored(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("failed to establish device identity: %w", err)
	}

	client := remote.NewClient(&cfg.Remote, deviceID)
	engine := syncer.NewEngine(s, client, &cfg.Sync, deviceID)
	monitor := connectivity.NewMonitor(client.Ping, cfg.Sync.ProbeInterval, engine.TriggerDrain)

	return &Runtime{
		Store:   s,
		Client:  client,
		Engine:  engine,
		Monitor: monitor,
		Service: NewService(s, client, engine, workerID, deviceID),
	}, nil
}

// Start launches the drain loop and the connectivity monitor. Both stop
// when the context is cancelled.
func (r *Runtime) Start(ctx context.Context) {
	go r.Engine.Run(ctx)
	go r.Monitor.Run(ctx)
}
