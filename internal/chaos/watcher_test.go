package chaos

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/miradorstack/mirador-chaos/internal/control"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "faults.yaml")
	writeFile(t, path, "faults: {}\n")

	inj := NewInjector(control.NewState(true), nil)
	w, err := NewWatcher(path, inj, nil)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	writeFile(t, path, "faults:\n  drop_retrieval:\n    enabled: true\n    probability: 1.0\n")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if rule, ok := inj.Faults()[FaultDropRetrieval]; ok && rule.Enabled {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("fault table was not reloaded")
}
