package dispatch_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wippyai/classinject/classfile"
	"github.com/wippyai/classinject/dispatch"
	"github.com/wippyai/classinject/inject"
)

// startWatch watches a fresh java class tree and returns the class
// directory plus a channel receiving every batch summary.
func startWatch(t *testing.T, policies ...inject.Policy) (string, <-chan *dispatch.Summary) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "build", "classes", "java", "main")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	batches := make(chan *dispatch.Summary, 64)
	done := make(chan error, 1)
	go func() {
		done <- dispatch.Watch(ctx, []string{root}, dispatch.DefaultLanguages(), dispatch.Options{
			Policies: policies,
			Debounce: 20 * time.Millisecond,
		}, func(s *dispatch.Summary, err error) {
			if err != nil {
				t.Errorf("batch error: %v", err)
			}
			batches <- s
		})
	}()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Watch: %v", err)
		}
	})

	// Give the watcher time to register the tree.
	time.Sleep(100 * time.Millisecond)
	return dir, batches
}

func TestWatchRewritesNewClasses(t *testing.T) {
	dir, batches := startWatch(t, entryNop)
	path := filepath.Join(dir, "demo", "Task.class")
	touch(t, path, classBytes(t, "demo/Task"))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-batches:
			if s.Rewritten == 0 {
				continue
			}
			if op := firstOpcode(t, path); op != classfile.OpNop {
				t.Fatalf("watched class starts with %s, want nop", op)
			}
			return
		case <-deadline:
			t.Fatal("no batch rewrote the new class")
		}
	}
}

func TestWatchIgnoresOwnWrites(t *testing.T) {
	second := entryNop
	second.Fragment = inject.MustParseFragment("iconst_0\npop")
	dir, batches := startWatch(t, entryNop, second)
	path := filepath.Join(dir, "demo", "Task.class")
	touch(t, path, classBytes(t, "demo/Task"))

	deadline := time.After(5 * time.Second)
	rewritten := 0
	for rewritten == 0 {
		select {
		case s := <-batches:
			rewritten += s.Rewritten
		case <-deadline:
			t.Fatal("no batch rewrote the new class")
		}
	}

	quiet := time.After(500 * time.Millisecond)
	for {
		select {
		case s := <-batches:
			rewritten += s.Rewritten
			if s.Scanned > 0 {
				t.Errorf("rewritten class was processed again: %s", s)
			}
		case <-quiet:
			if rewritten != 1 {
				t.Errorf("class rewritten %d times, want 1", rewritten)
			}
			return
		}
	}
}
