package app

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"coldbackup/internal/applog"
	"coldbackup/internal/blobstore"
	"coldbackup/internal/config"
	"coldbackup/internal/engine"
	"coldbackup/internal/localindex"
	"coldbackup/internal/model"
	"coldbackup/internal/remoteindex"
)

// App is the application layer between the CLI and engine.Engine. It
// constructs every driver from config, exposes high-level operations,
// and manages the LocalIndex's connection lifecycle on Close.
type App struct {
	cfg      *config.Config
	local    *localindex.Store
	eng      *engine.Engine
	walker   *engine.Walker
	closeLog func() error
}

// New builds a fully wired App from the given config. The caller must
// call Close when done.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	local, err := localindex.New(localindex.Config{
		Engine:   cfg.LocalIndex.Engine,
		Path:     cfg.LocalIndex.Path,
		User:     cfg.LocalIndex.User,
		Password: cfg.LocalIndex.Password,
		Host:     cfg.LocalIndex.Host,
		DB:       cfg.LocalIndex.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("opening local index: %w", err)
	}

	remote, err := remoteindex.NewDynamo(ctx, remoteindex.DynamoConfig{
		Table:  cfg.DynamoTable,
		Region: cfg.AWSRegion,
	})
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("connecting to remote index: %w", err)
	}

	blobs, err := blobstore.NewS3(ctx, blobstore.S3Config{
		Bucket: cfg.BucketName,
		Region: cfg.AWSRegion,
	})
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("connecting to blob store: %w", err)
	}

	filters, err := compileFilters(cfg.Filters)
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("compiling filters: %w", err)
	}

	slogger, closeLog, err := applog.New(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("building logger: %w", err)
	}
	logger := &applog.Adapter{L: slogger}

	eng := engine.NewEngine(local, remote, blobs, engine.RealClock{}, engine.UUIDGenerator{}, logger, engine.Options{
		RemotePoolSize: cfg.RemotePoolSize,
		Retention:      time.Duration(cfg.MinStorageDuration) * 24 * time.Hour,
		Filters:        filters,
		DryRun:         cfg.DryRun,
	})

	return &App{cfg: cfg, local: local, eng: eng, walker: engine.NewWalker(filters), closeLog: closeLog}, nil
}

// Backup reconciles the configured target directory against RemoteIndex
// and BlobStore.
func (a *App) Backup(ctx context.Context) (model.RunSummary, error) {
	return a.eng.Backup(ctx, a.cfg.TargetDir)
}

// Restore rebuilds the configured target directory from RemoteIndex and
// BlobStore alone.
func (a *App) Restore(ctx context.Context) (int, error) {
	return a.eng.Restore(ctx, a.cfg.TargetDir)
}

// Clean sweeps expired, emptied RemoteHashRecords and their blobs.
func (a *App) Clean(ctx context.Context) (int, error) {
	return a.eng.Clean(ctx)
}

// RebuildLocalIndex repopulates LocalIndex from RemoteIndex, for a fresh
// machine or an operator-triggered rebuild.
func (a *App) RebuildLocalIndex(ctx context.Context) (int, error) {
	return a.eng.RebuildLocalIndex(ctx)
}

// DestroyAll empties RemoteIndex and permanently deletes every blob it
// referenced. Callers are expected to have already confirmed the action
// interactively.
func (a *App) DestroyAll(ctx context.Context) (int, error) {
	return a.eng.DestroyAll(ctx)
}

// Status walks the configured target directory and diffs it against
// LocalIndex without mutating anything, for `status`'s read-only preview.
func (a *App) Status(ctx context.Context) (model.ChangeSet, error) {
	files, err := a.walker.Walk(a.cfg.TargetDir)
	if err != nil {
		return model.ChangeSet{}, fmt.Errorf("walking target: %w", err)
	}

	live := make(map[string]time.Time, len(files))
	for _, f := range files {
		live[f.Path] = f.ModifiedAt
	}

	return a.local.Diff(ctx, live)
}

// Close releases the LocalIndex's underlying connection and flushes the
// file log sink, if one is open.
func (a *App) Close() error {
	localErr := a.local.Close()
	logErr := a.closeLog()
	if localErr != nil {
		return localErr
	}
	return logErr
}

func compileFilters(patterns []string) ([]*regexp.Regexp, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid filter %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
