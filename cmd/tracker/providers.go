package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/your-org/dwell/internal/cognitive"
	"github.com/your-org/dwell/internal/config"
	"github.com/your-org/dwell/internal/storage"
	"github.com/your-org/dwell/internal/tracking"
	"github.com/your-org/dwell/internal/vision"
)

// providers holds the recognition collaborators picked by configuration and
// whatever must be released on shutdown.
type providers struct {
	deps    tracking.Dependencies
	db      *storage.PostgresStore // set when face samples live in postgres
	closers []func()
}

func (p *providers) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

func buildProviders(ctx context.Context, cfg *config.Config) (*providers, error) {
	p := &providers{}

	switch cfg.Providers.Face.Kind {
	case config.ProviderCloud:
		fc := cognitive.NewFaceClient(cfg.Providers.Face.Endpoint, cfg.Providers.Face.Key, cfg.Providers.Timeout)
		p.deps.Detector = fc
		p.deps.Oracle = fc
		slog.Info("face provider: cloud", "endpoint", cfg.Providers.Face.Endpoint)

	case config.ProviderLocal:
		if err := vision.InitRuntime(cfg.Vision.LibraryPath); err != nil {
			return nil, err
		}
		p.closers = append(p.closers, vision.DestroyRuntime)

		var index vision.EmbeddingIndex
		if cfg.Database.Enabled() {
			db, err := storage.NewPostgresStore(ctx, cfg.Database)
			if err != nil {
				p.Close()
				return nil, err
			}
			p.closers = append(p.closers, db.Close)
			if err := db.Migrate(ctx); err != nil {
				p.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			p.db = db
			index = db
			slog.Info("face samples stored in postgres")
		} else {
			index = vision.NewMemoryIndex(0)
			slog.Info("face samples kept in memory")
		}

		lp, err := vision.NewLocalProvider(cfg.Vision, index)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.closers = append(p.closers, lp.Close)
		p.deps.Detector = lp
		p.deps.Oracle = lp

	default:
		return nil, fmt.Errorf("unknown face provider %q", cfg.Providers.Face.Kind)
	}

	switch cfg.Providers.Emotion.Kind {
	case config.ProviderCloud:
		p.deps.Emotions = cognitive.NewEmotionClient(cfg.Providers.Emotion.Endpoint, cfg.Providers.Emotion.Key, cfg.Providers.Timeout)
		slog.Info("emotion provider: cloud", "endpoint", cfg.Providers.Emotion.Endpoint)
	case config.ProviderNone, "":
		slog.Info("emotion provider disabled, persons will carry no emotion")
	default:
		p.Close()
		return nil, fmt.Errorf("unknown emotion provider %q", cfg.Providers.Emotion.Kind)
	}

	return p, nil
}
