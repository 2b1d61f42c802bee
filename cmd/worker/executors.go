package main

import (
	"github.com/rs/zerolog"

	"storesync/internal/queue"
)

// registerExecutors is where a deployment binds its per-entity
// import/export executors to task types. The queue engine ships none of
// its own: tasks whose type has no executor stay pending until a build
// that carries one is rolled out.
func registerExecutors(registry *queue.Registry, logger *zerolog.Logger) {
	if types := registry.Types(); len(types) == 0 {
		logger.Warn().Msg("no task executors registered, drain runs will only reclaim and skip")
	}
}
