package client

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/RedRiverCN/SyncTrayzor/internal/config"
	"github.com/RedRiverCN/SyncTrayzor/internal/conflicts"
	"github.com/RedRiverCN/SyncTrayzor/internal/syncthing"
	"github.com/RedRiverCN/SyncTrayzor/internal/utils"
)

// App wires the Syncthing client and the conflict monitor together and runs
// them for the lifetime of the process.
type App struct {
	cfg     *config.Config
	st      *syncthing.Client
	monitor *conflicts.Monitor
}

func New(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st := syncthing.NewClient(cfg.Address, cfg.APIKey)
	monitor := conflicts.NewMonitor(&engineBridge{st: st}, conflicts.Options{
		DebounceInterval:    cfg.DebounceInterval(),
		FolderCheckInterval: cfg.FolderCheckInterval(),
	})

	return &App{
		cfg:     cfg,
		st:      st,
		monitor: monitor,
	}, nil
}

// Monitor exposes the conflict monitor, e.g. for a future control surface.
func (a *App) Monitor() *conflicts.Monitor {
	return a.monitor
}

func (a *App) Start(ctx context.Context) error {
	slog.Info("synctray start", "syncthing", a.cfg.Address)

	// Stand-in for the tray surface: report every recomputation of the list.
	a.monitor.OnConflictsChanged(func() {
		paths := a.monitor.Conflicts()
		slog.Info("conflict list changed", "count", len(paths))
		for _, p := range paths {
			slog.Info("unresolved conflict", "file", p)
		}
	})

	a.st.OnStateChanged(func(running bool) {
		slog.Info("syncthing state changed", "running", running)
		a.resetMonitor()
	})
	a.st.OnFoldersChanged(func() {
		slog.Info("syncthing folder collection changed")
		a.resetMonitor()
	})

	if err := a.monitor.Start(ctx); err != nil {
		return err
	}
	if err := a.monitor.SetEnabled(a.cfg.WatchConflicts); err != nil {
		slog.Error("conflict monitor enable failed", "error", err)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return a.st.Run(egCtx)
	})
	eg.Go(func() error {
		<-egCtx.Done()
		a.Stop()
		return nil
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	slog.Info("synctray stopped")
	return nil
}

func (a *App) Stop() {
	a.monitor.Stop()
}

func (a *App) resetMonitor() {
	if err := a.monitor.Reset(); err != nil {
		slog.Error("conflict monitor reset failed", "error", err)
	}
}

// engineBridge adapts the Syncthing client to the monitor's engine view.
type engineBridge struct {
	st *syncthing.Client
}

func (b *engineBridge) IsRunning() bool {
	return b.st.IsRunning()
}

func (b *engineBridge) Folders(ctx context.Context) ([]conflicts.Folder, error) {
	stFolders, err := b.st.Folders(ctx)
	if err != nil {
		return nil, err
	}
	folders := make([]conflicts.Folder, 0, len(stFolders))
	for _, f := range stFolders {
		// Syncthing allows ~-prefixed and unclean folder roots.
		path := f.Path
		if resolved, err := utils.ResolvePath(path); err == nil {
			path = resolved
		}
		folders = append(folders, conflicts.Folder{ID: f.ID, Path: path})
	}
	return folders, nil
}
