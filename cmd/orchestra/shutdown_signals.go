package main

import (
	"context"
	"os"
	"sync"

	"orchestra/internal/logging"
)

// watchShutdownSignals turns the first signal into a graceful shutdown via
// cancel. A second signal while shutdown is running calls force, which the
// binary maps to an immediate exit. The returned func stops the watcher.
func watchShutdownSignals(logger *logging.Logger, cancel context.CancelFunc, force func(), signalCh <-chan os.Signal) func() {
	if signalCh == nil {
		return func() {}
	}

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		received := 0
		for {
			var sig os.Signal
			select {
			case <-done:
				return
			case s, ok := <-signalCh:
				if !ok {
					return
				}
				sig = s
			}
			received++
			fields := map[string]string{}
			if sig != nil {
				fields["signal"] = sig.String()
			}
			switch received {
			case 1:
				logger.Info("shutdown signal received", fields)
				if cancel != nil {
					cancel()
				}
			case 2:
				if force == nil {
					logger.Info("shutdown already in progress, ignoring signal", fields)
					continue
				}
				logger.Warn("second signal received, forcing exit", fields)
				force()
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-exited
		})
	}
}
