package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

// exerciseKV runs the behaviour every backend must share.
func exerciseKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	if _, err := kv.Get(ctx, "apex_strategy_projects"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on empty store: err = %v, want ErrNotFound", err)
	}

	if err := kv.Put(ctx, "apex_strategy_projects", []byte(`[{"id":"1"}]`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := kv.Get(ctx, "apex_strategy_projects")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `[{"id":"1"}]` {
		t.Errorf("Get = %s", got)
	}

	// Overwrite replaces wholesale.
	if err := kv.Put(ctx, "apex_strategy_projects", []byte(`[]`)); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	got, _ = kv.Get(ctx, "apex_strategy_projects")
	if string(got) != `[]` {
		t.Errorf("after overwrite Get = %s, want []", got)
	}

	// Keys are independent.
	if _, err := kv.Get(ctx, "apex_strategy_services"); !errors.Is(err, ErrNotFound) {
		t.Errorf("other key: err = %v, want ErrNotFound", err)
	}

	if err := kv.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestMemStore(t *testing.T) {
	t.Parallel()
	exerciseKV(t, NewMemStore())
}

func TestMemStore_CopiesValues(t *testing.T) {
	t.Parallel()

	m := NewMemStore()
	buf := []byte(`"a"`)
	_ = m.Put(context.Background(), "k", buf)
	buf[1] = 'z'

	got, _ := m.Get(context.Background(), "k")
	got[1] = 'y'
	again, _ := m.Get(context.Background(), "k")
	if string(again) != `"a"` {
		t.Errorf("stored value mutated: %s", again)
	}
}

func TestMemStore_Concurrent(t *testing.T) {
	t.Parallel()

	m := NewMemStore()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%4)
			_ = m.Put(context.Background(), key, []byte(`1`))
			_, _ = m.Get(context.Background(), key)
		}()
	}
	wg.Wait()
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "apex.db")
	s, err := OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	exerciseKV(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Data survives a reopen.
	s2, err := OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.Get(context.Background(), "apex_strategy_projects")
	if err != nil || string(got) != `[]` {
		t.Errorf("after reopen Get = %s, %v", got, err)
	}
}
