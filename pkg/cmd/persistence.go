// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/persistence/file"
	"github.com/dukex/convoflow/pkg/persistence/memory"
	"github.com/dukex/convoflow/pkg/persistence/postgresql"
	"github.com/dukex/convoflow/pkg/persistence/redis"
)

var supportedPersistenceProviders = []string{"file", "memory", "postgres", "postgresql"}

// NewPersistence opens the workflow store named by databaseURL. URLs without
// a known scheme are treated as file paths.
//
//nolint:ireturn
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "memory":
		return memory.NewPersistence(), nil
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres persistence: %w", err)
		}

		return p, nil
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return "file"
}

// ConversationStore holds the execution state store and the conversation
// locker used by the runner.
type ConversationStore struct {
	States persistence.ExecutionStateRepository
	Locker persistence.ConversationLocker
	close  func() error
}

// Close releases the underlying connection, if any.
func (s *ConversationStore) Close() error {
	if s.close == nil {
		return nil
	}

	return s.close()
}

// NewConversationStore uses Redis when redisURL is set. Otherwise states live
// next to a file store, or in memory, with an in-process locker.
func NewConversationStore(ctx context.Context, logger *slog.Logger, redisURL string, p persistence.Persistence) (*ConversationStore, error) {
	if redisURL != "" {
		store, err := redis.NewStore(ctx, logger, redisURL)
		if err != nil {
			return nil, err
		}

		return &ConversationStore{States: store, Locker: store, close: store.Close}, nil
	}

	if fp, ok := p.(*file.Persistence); ok {
		return &ConversationStore{States: fp.ExecutionStateRepository(), Locker: memory.NewLocker()}, nil
	}

	return &ConversationStore{States: memory.NewExecutionStateRepository(), Locker: memory.NewLocker()}, nil
}
