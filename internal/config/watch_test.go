package config

import (
	"context"
	"os"
	"testing"
	"time"

	"orchestra/internal/logging"
)

func TestWatchReloadsLogLevel(t *testing.T) {
	path := writeFile(t, "orchestra.toml", "[log]\nlevel = \"info\"\n")
	logger := logging.NewLoggerWithOutput(nil, logging.LevelInfo, nil)

	changes := make(chan Settings, 4)
	apply := ApplyLogLevel(logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher, err := Watch(ctx, LoadOptions{Path: path, LookupEnv: noEnv}, logger, func(settings Settings) {
		apply(settings)
		changes <- settings
	})
	if err != nil {
		t.Skipf("skipping watcher test (fsnotify unavailable): %v", err)
	}
	defer watcher.Close()

	if err := os.WriteFile(path, []byte("[log]\nlevel = \"debug\"\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case settings := <-changes:
		if settings.Log.Level != logging.LevelDebug {
			t.Fatalf("expected debug, got %q", settings.Log.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for reload")
	}
	if logger.Level() != logging.LevelDebug {
		t.Fatalf("expected logger level debug, got %q", logger.Level())
	}
}

func TestWatchKeepsSettingsOnBadReload(t *testing.T) {
	path := writeFile(t, "orchestra.toml", "[log]\nlevel = \"info\"\n")
	logger := logging.NewLoggerWithOutput(logging.NewLogBuffer(20), logging.LevelInfo, nil)

	changes := make(chan Settings, 4)
	watcher, err := Watch(context.Background(), LoadOptions{Path: path, LookupEnv: noEnv}, logger, func(settings Settings) {
		changes <- settings
	})
	if err != nil {
		t.Skipf("skipping watcher test (fsnotify unavailable): %v", err)
	}
	defer watcher.Close()

	if err := os.WriteFile(path, []byte("[log]\nlevel = \"loud\"\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, entry := range logger.Buffer().List() {
			if entry.Message == "config reload failed" {
				select {
				case <-changes:
					t.Fatalf("expected no change callback for an invalid file")
				default:
				}
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected reload failure to be logged")
}

func TestWatchRequiresPath(t *testing.T) {
	if _, err := Watch(context.Background(), LoadOptions{}, nil, nil); err == nil {
		t.Fatalf("expected error without a path")
	}
}
