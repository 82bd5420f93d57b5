package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/animus-labs/swapval/internal/config"
	"github.com/animus-labs/swapval/internal/lineage"
	"github.com/animus-labs/swapval/internal/platform/auditlog"
	"github.com/animus-labs/swapval/internal/platform/httpserver"
	platformobjectstore "github.com/animus-labs/swapval/internal/platform/objectstore"
	platformpostgres "github.com/animus-labs/swapval/internal/platform/postgres"
	"github.com/animus-labs/swapval/internal/repo"
	"github.com/animus-labs/swapval/internal/repo/memory"
	repopostgres "github.com/animus-labs/swapval/internal/repo/postgres"
	"github.com/animus-labs/swapval/internal/service/runs"
	"github.com/animus-labs/swapval/internal/storage/objectstore"
)

const readinessTimeout = 750 * time.Millisecond

type backends struct {
	runs      repo.RunRepository
	snapshots repo.SnapshotRepository
	artifacts lineage.ArtifactStore
	auditor   runs.TransitionAuditor
	checks    []httpserver.ReadinessCheck
	db        *sql.DB
}

func (b *backends) close() {
	if b.db != nil {
		_ = b.db.Close()
	}
}

func openBackends(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backends, error) {
	b := &backends{}

	switch cfg.Store {
	case config.StorePostgres:
		dbCfg, err := platformpostgres.ConfigFromEnv()
		if err != nil {
			return nil, fmt.Errorf("database config: %w", err)
		}
		db, err := platformpostgres.Open(ctx, dbCfg)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		b.db = db
		if err := repopostgres.EnsureSchema(ctx, db); err != nil {
			b.close()
			return nil, err
		}
		b.runs = repopostgres.NewRunStore(db)
		b.snapshots = repopostgres.NewSnapshotStore(db)
		b.auditor = auditlog.NewRunAuditor(db, cfg.Service)
		b.checks = append(b.checks, httpserver.ReadinessCheck{
			Name:  "postgres",
			Check: platformpostgres.ReadinessCheck(db, readinessTimeout),
		})
		logger.Info("postgres stores ready")
	default:
		b.runs = memory.NewRunStore()
		b.snapshots = memory.NewSnapshotStore()
	}

	switch cfg.Artifacts {
	case config.ArtifactsMinIO:
		osCfg, err := platformobjectstore.ConfigFromEnv()
		if err != nil {
			b.close()
			return nil, fmt.Errorf("object store config: %w", err)
		}
		client, err := platformobjectstore.NewMinIOClient(osCfg)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("object store: %w", err)
		}
		if err := platformobjectstore.EnsureBuckets(ctx, client, osCfg); err != nil {
			b.close()
			return nil, err
		}
		store, err := objectstore.NewArtifactStore(client, osCfg.BucketLineage, osCfg.LineagePrefix)
		if err != nil {
			b.close()
			return nil, err
		}
		b.artifacts = store
		b.checks = append(b.checks, httpserver.ReadinessCheck{
			Name: "objectstore",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, readinessTimeout)
				defer cancel()
				return platformobjectstore.CheckBuckets(checkCtx, client, osCfg)
			},
		})
		logger.Info("minio artifact store ready", "bucket", osCfg.BucketLineage)
	default:
		b.artifacts = lineage.NewMemoryStore()
	}
	return b, nil
}
