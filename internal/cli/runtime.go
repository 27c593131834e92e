package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"chromamcp/config"
	"chromamcp/internal/adapter/analyzer"
	"chromamcp/internal/adapter/cache"
	"chromamcp/internal/adapter/embedding"
	"chromamcp/internal/adapter/memstore"
	"chromamcp/internal/adapter/store"
	"chromamcp/internal/port"
	"chromamcp/internal/rpc"
	"chromamcp/internal/tool"
)

// runtime is everything a serving process needs, built from config.
type runtime struct {
	store      port.Store
	cache      *cache.QueryCache
	registry   *tool.Registry
	dispatcher *rpc.Dispatcher
	close      func() error
}

func newRuntime(cfg *config.Config, dir string, logger *slog.Logger) (*runtime, error) {
	embedder := embedding.NewLengthEmbedder()
	rt := &runtime{close: func() error { return nil }}

	switch cfg.Store.Backend {
	case "bolt":
		path := cfg.Store.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		if err := config.EnsureDataDir(path); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		bs, err := store.NewBoltStore(path, embedder)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		logger.Info("opened bolt store", "path", path, "collections", len(bs.ListCollections(0, 0)))
		rt.store = bs
		rt.close = bs.Close
	default:
		rt.store = memstore.NewMemoryStore(embedder)
	}

	if cfg.Cache.Enabled {
		rt.cache = cache.NewQueryCache(cfg.Cache.Size, cfg.Cache.TTL)
	}

	rt.registry = tool.NewRegistry()
	err := tool.RegisterAll(rt.registry, tool.Deps{
		Store:      rt.store,
		Cache:      rt.cache,
		Classifier: analyzer.NewKeywordClassifier(analyzer.NewTokenizer()),
		Logger:     logger,
	})
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	rt.dispatcher = rpc.NewDispatcher(rt.registry,
		rpc.WithLogger(logger),
		rpc.WithServerInfo(rpc.ServerInfo{Name: "chromamcp", Version: Version}),
		rpc.WithSettings(map[string]any{
			"chroma_host":         cfg.Chroma.Host,
			"chroma_port":         cfg.Chroma.Port,
			"chroma_username":     cfg.Chroma.Username,
			"chroma_password_set": cfg.Chroma.Password != "",
			"store":               cfg.Store.Backend,
			"cache":               cfg.Cache.Enabled,
		}),
	)
	return rt, nil
}
