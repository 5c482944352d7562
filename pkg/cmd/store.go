package cmd

import (
	"fmt"
	"log/slog"

	"github.com/stagehq/stagehand/pkg/artifact"
	"github.com/stagehq/stagehand/pkg/clustermem"
	"github.com/stagehq/stagehand/pkg/clustermem/redis"
	"github.com/stagehq/stagehand/pkg/config"
	"github.com/stagehq/stagehand/pkg/executor"
	"github.com/stagehq/stagehand/pkg/serializer"
	"github.com/stagehq/stagehand/pkg/store"
)

// NewObjectStore assembles the two-tier object store: the executor's
// shared memory (or redis when configured) plus the artifact directory.
func NewObjectStore(cfg config.StoreConfig, exec executor.Executor, logger *slog.Logger) (*store.ObjectStore, error) {
	memory, err := newClusterMemory(cfg, exec)
	if err != nil {
		return nil, err
	}

	artifacts, err := artifact.NewStore(cfg.ArtifactPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact store: %w", err)
	}

	codec, ok := serializer.Get("json")
	if !ok {
		return nil, fmt.Errorf("json serializer not registered")
	}

	return store.New(memory, artifacts, codec, store.Strategy(cfg.DefaultStrategy), logger), nil
}

func newClusterMemory(cfg config.StoreConfig, exec executor.Executor) (clustermem.ClusterMemory, error) {
	if cfg.ClusterMemoryURL == "" {
		return exec.SharedMemory(), nil
	}

	memory, err := redis.NewFromURL(cfg.ClusterMemoryURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect cluster memory: %w", err)
	}

	return memory, nil
}
