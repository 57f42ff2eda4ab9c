package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"orchestra/internal/logging"
)

const defaultPhaseTimeout = 5 * time.Second

type shutdownPhase struct {
	name string
	stop func(context.Context) error
}

// shutdownCoordinator stops the bus components once, in registration order.
// Each phase gets its own deadline so a connection drain that hangs cannot
// starve the store close or the span flush behind it.
type shutdownCoordinator struct {
	logger       *logging.Logger
	phaseTimeout time.Duration
	once         sync.Once
	phases       []shutdownPhase
}

func newShutdownCoordinator(logger *logging.Logger) *shutdownCoordinator {
	return &shutdownCoordinator{
		logger:       logger,
		phaseTimeout: defaultPhaseTimeout,
	}
}

func (coordinator *shutdownCoordinator) Add(name string, stop func(context.Context) error) {
	if coordinator == nil || stop == nil {
		return
	}
	coordinator.phases = append(coordinator.phases, shutdownPhase{name: name, stop: stop})
}

// Run executes every phase even when earlier ones fail. The returned error
// joins the failures, each prefixed with its phase name.
func (coordinator *shutdownCoordinator) Run(ctx context.Context) error {
	if coordinator == nil {
		return nil
	}
	var failures []error
	coordinator.once.Do(func() {
		for _, phase := range coordinator.phases {
			if err := coordinator.runPhase(ctx, phase); err != nil {
				failures = append(failures, fmt.Errorf("%s: %w", phase.name, err))
			}
		}
	})
	return errors.Join(failures...)
}

func (coordinator *shutdownCoordinator) runPhase(ctx context.Context, phase shutdownPhase) error {
	phaseCtx := ctx
	if coordinator.phaseTimeout > 0 {
		var cancel context.CancelFunc
		phaseCtx, cancel = context.WithTimeout(ctx, coordinator.phaseTimeout)
		defer cancel()
	}

	started := time.Now()
	result := make(chan error, 1)
	go func() { result <- phase.stop(phaseCtx) }()

	var err error
	select {
	case err = <-result:
	case <-phaseCtx.Done():
		err = phaseCtx.Err()
	}
	fields := map[string]string{
		"phase":       phase.name,
		"duration_ms": strconv.FormatInt(time.Since(started).Milliseconds(), 10),
	}
	if err != nil {
		fields["error"] = err.Error()
		coordinator.logger.Warn("shutdown phase failed", fields)
		return err
	}
	coordinator.logger.Debug("shutdown phase done", fields)
	return nil
}
