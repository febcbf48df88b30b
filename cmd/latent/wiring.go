// cmd/latent/wiring.go

package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"

	"latent/internal/adapter/storage"
	"latent/internal/adapter/textgen"
	"latent/internal/adapter/wikipedia"
	"latent/internal/clock"
	"latent/internal/config"
	"latent/internal/domain/geo"
	"latent/internal/domain/transmission"
	"latent/internal/service/engine"
	geoService "latent/internal/service/geo"
	"latent/internal/service/phantom"
	transmissionService "latent/internal/service/transmission"
)

// store is everything the engine and the anchor registry need persisted
type store interface {
	engine.Store
	geo.AnchorCache
}

// initStore opens the configured store and returns a close function
func initStore(ctx context.Context, cfg config.DatabaseConfig) (store, func(), error) {
	switch cfg.Driver {
	case "postgres":
		db, err := initDatabase(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		pg := storage.NewPostgresStore(db)
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				db.Close()
				return nil, nil, err
			}
		}
		return pg, db.Close, nil

	default:
		sqlite, err := storage.NewSQLiteStore(cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return sqlite, func() { _ = sqlite.Close() }, nil
	}
}

// Initialize database connection
func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MaxConnLifetime = cfg.MaxLifetime

	db, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	// Test connection
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return db, nil
}

// initGenerator builds the text generation collaborator
func initGenerator(ctx context.Context, cfg config.TextGenConfig) (transmission.TextGenerator, error) {
	if cfg.APIKey == "" {
		logger.Warn("GEMINI_API_KEY not set; generation requests will fail")
		return textgen.Unconfigured{}, nil
	}
	return textgen.NewGenAIGenerator(ctx, cfg.APIKey, cfg.Model)
}

// initRegistry builds the anchor registry over the Wikipedia source
func initRegistry(cfg config.AnchorsConfig, cache geo.AnchorCache) *geoService.AnchorRegistry {
	registry := geoService.NewAnchorRegistry(cache, geoService.AnchorRegistryConfig{
		TilePrecision: cfg.TilePrecision,
		CacheTTL:      cfg.CacheTTL,
		Limit:         cfg.Limit,
	}, logger.Named("anchors"))

	registry.AddSource(wikipedia.NewClient(cfg.WikipediaURL, cfg.Limit, cfg.RequestTimeout, logger.Named("wikipedia")))
	return registry
}

// initAssembler builds the assembler; seed 0 draws from the wall clock
func initAssembler(generator transmission.TextGenerator, cfg config.Config) *transmissionService.Assembler {
	seed := cfg.Engine.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	params := transmission.GenerationParams{
		Temperature:       cfg.TextGen.Temperature,
		MaxOutputTokens:   cfg.TextGen.MaxOutputTokens,
		TopP:              cfg.TextGen.TopP,
		RepetitionPenalty: cfg.TextGen.RepetitionPenalty,
	}

	synthesizer := phantom.NewSeededSynthesizer(seed, phantom.DefaultConfig())
	return transmissionService.NewAssembler(
		synthesizer,
		generator,
		clock.Real(),
		rand.New(rand.NewSource(seed+1)),
		params,
	)
}

func fields(cfg config.Config) []zap.Field {
	return []zap.Field{
		zap.String("env", cfg.Environment),
		zap.String("db", cfg.Database.Driver),
		zap.Bool("nats", cfg.NATS.URL != ""),
	}
}
