// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/autoflow/pkg/actions"
	"github.com/dukex/autoflow/pkg/lease"
	"github.com/dukex/autoflow/pkg/registry"
)

// NewRegistry registers every built-in node type, with action and agent nodes
// routed through the default action router.
func NewRegistry(logger *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(logger)
	reg.RegisterDefaultNodes(actions.NewDefaultRouter(logger))

	return reg
}

// NewLocker returns a Redis-backed locker when redisURL is set. Without one,
// leases are process-local and only a single worker may run.
func NewLocker(ctx context.Context, logger *slog.Logger, redisURL string) lease.Locker {
	if redisURL == "" {
		logger.Warn("No Redis URL configured, using process-local leases")

		return lease.NewLocalLocker()
	}

	locker, err := lease.NewRedisLockerFromURL(ctx, redisURL)
	if err != nil {
		panic(fmt.Errorf("failed to connect to redis: %w", err))
	}

	return locker
}
