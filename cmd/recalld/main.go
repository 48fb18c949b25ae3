package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/ahoyle/recall/cache"
	"github.com/ahoyle/recall/config"
	"github.com/ahoyle/recall/knowledge"
	recalllogger "github.com/ahoyle/recall/logger"
	"github.com/ahoyle/recall/memory"
	"github.com/ahoyle/recall/memory/ollama"
	"github.com/ahoyle/recall/migrations"
	"github.com/ahoyle/recall/runtime"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath   = flag.String("config", config.DefaultPath(), "Path to YAML config file")
		dbPath       = flag.String("db", "", "Path to SQLite database file (overrides config)")
		knowledgeDir = flag.String("knowledge", "", "Directory of documents to ingest on schedule")
		once         = flag.Bool("once", false, "Ingest once and exit instead of running on schedule")
		logFile      = flag.String("logfile", "", "Path to log file. If not set, logs to stdout/stderr")
		pretty       = flag.Bool("pretty", false, "Use pretty console output (only valid when logfile is not set)")
	)
	flag.Parse()

	if *logFile != "" && *pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}

	logger, err := recalllogger.InitWithOptions(*logFile, *pretty)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	agentID, err := resolveAgentID(cfg.AgentID)
	if err != nil {
		return err
	}

	logger.Info().
		Str("config", *configPath).
		Str("db", cfg.Database.Path).
		Str("agent_id", agentID.String()).
		Msg("recalld starting")

	// ---------------------------
	// 1. Open SQLite + migrations
	// ---------------------------

	db, err := sql.Open("sqlite3", cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close() //nolint:errcheck // process exit cleanup

	if err := migrations.RunMigrations(db, cfg.Database.MigrationsPath, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// ---------------------------
	// 2. Memory store + cache
	// ---------------------------

	store, err := memory.NewStore(db, logger,
		memory.WithMatchThreshold(cfg.Memory.MatchThreshold),
		memory.WithUniqueSampleCount(cfg.Memory.UniqueSampleCount),
	)
	if err != nil {
		return fmt.Errorf("failed to create memory store: %w", err)
	}

	adapter, err := buildCacheAdapter(cfg, db, agentID, logger)
	if err != nil {
		return err
	}
	scratch, err := cache.NewManager(adapter, logger)
	if err != nil {
		return fmt.Errorf("failed to create cache manager: %w", err)
	}

	// ---------------------------
	// 3. Embedder + knowledge indexer
	// ---------------------------

	embedder, err := ollama.NewEmbedder(ollama.Model(cfg.Embedder.Model))
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	indexer, err := knowledge.NewIndexer(agentID, store, embedder, logger,
		knowledge.WithChunking(cfg.Knowledge.ChunkSize, cfg.Knowledge.Bleed),
		knowledge.WithRetrieval(cfg.Knowledge.RetrieveThreshold, cfg.Knowledge.RetrieveCount),
	)
	if err != nil {
		return fmt.Errorf("failed to create knowledge indexer: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *knowledgeDir == "" {
		logger.Info().Msg("No knowledge directory configured; nothing to do")
		return nil
	}

	if *once {
		return ingestDir(ctx, *knowledgeDir, agentID, indexer, scratch, logger)
	}

	// ---------------------------
	// 4. Scheduled ingestion loop
	// ---------------------------

	schedule, err := runtime.ParseSchedule(cfg.Ingest.Schedule)
	if err != nil {
		return fmt.Errorf("failed to parse ingest schedule: %w", err)
	}

	if err := ingestDir(ctx, *knowledgeDir, agentID, indexer, scratch, logger); err != nil {
		logger.Error().Err(err).Msg("initial ingestion failed")
	}
	for {
		next := schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info().Msg("recalld stopping")
			return nil
		case <-timer.C:
			if err := ingestDir(ctx, *knowledgeDir, agentID, indexer, scratch, logger); err != nil {
				logger.Error().Err(err).Msg("scheduled ingestion failed")
			}
		}
	}
}

// resolveAgentID parses the configured agent ID, or derives a stable one for
// setups that never configured an explicit identity.
func resolveAgentID(raw string) (uuid.UUID, error) {
	if raw == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "default"
		}
		return memory.DeterministicID("agent", host), nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid agent_id %q: %w", raw, err)
	}
	return id, nil
}

func buildCacheAdapter(cfg config.Config, db *sql.DB, agentID uuid.UUID, logger zerolog.Logger) (cache.Adapter, error) {
	switch cfg.Cache.Backend {
	case "memory":
		return cache.NewMemoryAdapter(), nil
	case "filesystem":
		return cache.NewFilesystemAdapter(cfg.Cache.Dir, logger)
	case "database":
		return cache.NewDatabaseAdapter(db, agentID, logger)
	default:
		return nil, fmt.Errorf("invalid cache backend %q", cfg.Cache.Backend)
	}
}

// ingestDir indexes every markdown/text document under dir. File mtimes are
// remembered in the scratch cache so unchanged documents are skipped.
func ingestDir(ctx context.Context, dir string, agentID uuid.UUID, indexer *knowledge.Indexer, scratch *cache.Manager, logger zerolog.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read knowledge dir: %w", err)
	}

	indexed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".md") && !strings.HasSuffix(name, ".txt") {
			continue
		}
		path := filepath.Join(dir, name)

		info, err := entry.Info()
		if err != nil {
			logger.Warn().Str("file", path).Err(err).Msg("stat failed, skipping")
			continue
		}

		cacheKey := "ingest/" + name
		var seenMtime int64
		if found, err := scratch.Get(ctx, cacheKey, &seenMtime); err == nil && found && seenMtime == info.ModTime().Unix() {
			continue
		}

		data, err := os.ReadFile(path) //nolint:gosec // G304: operator-chosen directory
		if err != nil {
			logger.Warn().Str("file", path).Err(err).Msg("read failed, skipping")
			continue
		}

		item := knowledge.Item{
			ID: memory.DeterministicID("document", agentID.String(), name),
			Content: memory.Content{
				Text:   string(data),
				Source: name,
			},
		}
		if err := indexer.Index(ctx, item); err != nil {
			logger.Error().Str("file", path).Err(err).Msg("indexing failed")
			continue
		}
		if err := scratch.Set(ctx, cacheKey, info.ModTime().Unix()); err != nil {
			logger.Warn().Str("file", path).Err(err).Msg("failed to record ingest mtime")
		}
		indexed++
	}

	logger.Info().Str("dir", dir).Int("indexed", indexed).Msg("knowledge ingestion pass complete")
	return nil
}
