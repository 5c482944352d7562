// Package store is the shared keyed object store stages use to exchange
// intermediate results. It composes two tiers behind one put/get/delete
// contract: ephemeral cluster memory (lowest latency, dies with the
// executor session) and durable artifacts (file-backed, survives restarts),
// with a fallback strategy that tries the first and transparently retries
// on the second.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stagehq/stagehand/pkg/artifact"
	"github.com/stagehq/stagehand/pkg/clustermem"
	"github.com/stagehq/stagehand/pkg/serializer"
)

// Strategy selects the storage tier for one operation.
type Strategy string

const (
	StrategyClusterMemory Strategy = "cluster_memory"
	StrategyArtifact      Strategy = "artifact"
	// StrategyFallback attempts cluster memory first and on any failure
	// (unserializable for the tier, session gone, tier unreachable)
	// retries as artifact without surfacing the first failure.
	StrategyFallback Strategy = "fallback"
)

// objectFilename is the artifact file holding the serialized value.
const objectFilename = "object"

var (
	ErrNotFound        = errors.New("object not found")
	ErrUnknownStrategy = errors.New("unknown storage strategy")
)

// StorageError reports an unreachable or failing tier. It is never
// returned for the suppressed cluster-memory leg of a fallback operation.
type StorageError struct {
	Tier      Strategy
	Op        string
	Namespace string
	Key       string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s failed for %s/%s: %v", e.Tier, e.Op, e.Namespace, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsSerializationError reports whether err came from the value codec.
func IsSerializationError(err error) bool {
	var serr *serializer.Error

	return errors.As(err, &serr)
}

// ObjectStore is safe for concurrent use; consistency is last-writer-wins
// per (namespace, key) with no versioning and no cross-key transactions.
type ObjectStore struct {
	memory          clustermem.ClusterMemory
	artifacts       *artifact.Store
	codec           serializer.Serializer
	defaultStrategy Strategy
	logger          *slog.Logger
}

func New(
	memory clustermem.ClusterMemory,
	artifacts *artifact.Store,
	codec serializer.Serializer,
	defaultStrategy Strategy,
	logger *slog.Logger,
) *ObjectStore {
	if defaultStrategy == "" {
		defaultStrategy = StrategyFallback
	}

	return &ObjectStore{
		memory:          memory,
		artifacts:       artifacts,
		codec:           codec,
		defaultStrategy: defaultStrategy,
		logger:          logger.With("module", "object_store"),
	}
}

func (s *ObjectStore) strategy(requested Strategy) (Strategy, error) {
	switch requested {
	case "":
		return s.defaultStrategy, nil
	case StrategyClusterMemory, StrategyArtifact, StrategyFallback:
		return requested, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, requested)
	}
}

// Put stores value under (namespace, key). A later put for the same pair
// overwrites (last-writer-wins).
func (s *ObjectStore) Put(ctx context.Context, namespace, key string, value any, strategy Strategy) error {
	strategy, err := s.strategy(strategy)
	if err != nil {
		return err
	}

	data, err := s.codec.Encode(value)
	if err != nil {
		// Unserializable values fail regardless of tier.
		return err
	}

	if strategy != StrategyArtifact {
		err := s.memory.Put(ctx, namespace, key, data)
		if err == nil {
			return nil
		}

		if strategy == StrategyClusterMemory {
			return &StorageError{Tier: StrategyClusterMemory, Op: "put", Namespace: namespace, Key: key, Err: err}
		}

		s.logger.Debug("Cluster memory put failed, falling back to artifact",
			"namespace", namespace, "key", key, "error", err)
	}

	return s.putArtifact(namespace, key, data)
}

func (s *ObjectStore) putArtifact(namespace, key string, data []byte) error {
	session, err := s.artifacts.NewWriteSession(namespace, key)
	if err != nil {
		return &StorageError{Tier: StrategyArtifact, Op: "put", Namespace: namespace, Key: key, Err: err}
	}

	session.SetValueType("object")
	session.SetSerializer(s.codec.Name())

	if err := session.WriteFile(objectFilename, data); err != nil {
		session.Abandon()

		return &StorageError{Tier: StrategyArtifact, Op: "put", Namespace: namespace, Key: key, Err: err}
	}

	if err := session.Commit(); err != nil {
		return &StorageError{Tier: StrategyArtifact, Op: "put", Namespace: namespace, Key: key, Err: err}
	}

	return nil
}

// Get loads the value stored under (namespace, key) in the requested
// tier(s).
func (s *ObjectStore) Get(ctx context.Context, namespace, key string, strategy Strategy) (any, error) {
	strategy, err := s.strategy(strategy)
	if err != nil {
		return nil, err
	}

	if strategy != StrategyArtifact {
		data, err := s.memory.Get(ctx, namespace, key)
		if err == nil {
			return s.codec.Decode(data)
		}

		if strategy == StrategyClusterMemory {
			if errors.Is(err, clustermem.ErrKeyNotFound) {
				return nil, fmt.Errorf("%w: %s/%s in cluster memory", ErrNotFound, namespace, key)
			}

			return nil, &StorageError{Tier: StrategyClusterMemory, Op: "get", Namespace: namespace, Key: key, Err: err}
		}

		if !errors.Is(err, clustermem.ErrKeyNotFound) {
			s.logger.Debug("Cluster memory get failed, falling back to artifact",
				"namespace", namespace, "key", key, "error", err)
		}
	}

	return s.getArtifact(namespace, key)
}

func (s *ObjectStore) getArtifact(namespace, key string) (any, error) {
	art, err := s.artifacts.Get(namespace, key)
	if errors.Is(err, artifact.ErrNotFound) || errors.Is(err, artifact.ErrUncommitted) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, namespace, key)
	}

	if err != nil {
		return nil, &StorageError{Tier: StrategyArtifact, Op: "get", Namespace: namespace, Key: key, Err: err}
	}

	data, err := art.ReadFile(objectFilename)
	if err != nil {
		return nil, &StorageError{Tier: StrategyArtifact, Op: "get", Namespace: namespace, Key: key, Err: err}
	}

	// Decode with the codec the artifact was written with, in case the
	// deployment default changed since.
	codec := s.codec
	if name := art.Metadata().Serializer; name != "" && name != codec.Name() {
		if registered, ok := serializer.Get(name); ok {
			codec = registered
		}
	}

	return codec.Decode(data)
}

// Delete removes the entry from the selected tier(s). Idempotent: deleting
// an absent key succeeds.
func (s *ObjectStore) Delete(ctx context.Context, namespace, key string, strategy Strategy) error {
	strategy, err := s.strategy(strategy)
	if err != nil {
		return err
	}

	if strategy != StrategyArtifact {
		err := s.memory.Delete(ctx, namespace, key)
		if err != nil && !errors.Is(err, clustermem.ErrKeyNotFound) {
			if strategy == StrategyClusterMemory {
				return &StorageError{Tier: StrategyClusterMemory, Op: "delete", Namespace: namespace, Key: key, Err: err}
			}

			s.logger.Debug("Cluster memory delete failed, continuing with artifact",
				"namespace", namespace, "key", key, "error", err)
		}

		if strategy == StrategyClusterMemory {
			return nil
		}
	}

	if err := s.artifacts.Delete(namespace, key); err != nil {
		return &StorageError{Tier: StrategyArtifact, Op: "delete", Namespace: namespace, Key: key, Err: err}
	}

	return nil
}

// List returns the keys present in the namespace for the selected tier(s),
// deduplicated for fallback.
func (s *ObjectStore) List(ctx context.Context, namespace string, strategy Strategy) ([]string, error) {
	strategy, err := s.strategy(strategy)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})

	var keys []string

	if strategy != StrategyArtifact {
		memoryKeys, err := s.memory.List(ctx, namespace)
		if err != nil && strategy == StrategyClusterMemory {
			return nil, &StorageError{Tier: StrategyClusterMemory, Op: "list", Namespace: namespace, Err: err}
		}

		for _, key := range memoryKeys {
			if _, dup := seen[key]; !dup {
				seen[key] = struct{}{}
				keys = append(keys, key)
			}
		}

		if strategy == StrategyClusterMemory {
			return keys, nil
		}
	}

	artifactKeys, err := s.artifacts.List(namespace)
	if err != nil {
		return nil, &StorageError{Tier: StrategyArtifact, Op: "list", Namespace: namespace, Err: err}
	}

	for _, key := range artifactKeys {
		if _, dup := seen[key]; !dup {
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}

	return keys, nil
}

// Clear removes every key in the namespace from the selected tier(s). On
// the cluster-memory tier this is the one namespace-exclusive operation:
// it is linearized against all concurrent puts and gets in the namespace.
func (s *ObjectStore) Clear(ctx context.Context, namespace string, strategy Strategy) error {
	strategy, err := s.strategy(strategy)
	if err != nil {
		return err
	}

	if strategy != StrategyArtifact {
		if err := s.memory.Clear(ctx, namespace); err != nil {
			if strategy == StrategyClusterMemory {
				return &StorageError{Tier: StrategyClusterMemory, Op: "clear", Namespace: namespace, Err: err}
			}

			s.logger.Debug("Cluster memory clear failed, continuing with artifact",
				"namespace", namespace, "error", err)
		}

		if strategy == StrategyClusterMemory {
			return nil
		}
	}

	if err := s.artifacts.Clear(namespace); err != nil {
		return &StorageError{Tier: StrategyArtifact, Op: "clear", Namespace: namespace, Err: err}
	}

	return nil
}
