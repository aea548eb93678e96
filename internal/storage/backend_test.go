package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// --- Helpers ---

// testBackends returns one instance of every backend that runs without
// external infrastructure. Redis is covered by its own unit tests plus
// the selector's unreachable-host test.
func testBackends(t *testing.T) map[string]Backend {
	t.Helper()

	fileBackend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}

	sqliteBackend, err := NewSQLiteBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	t.Cleanup(func() { sqliteBackend.Close() })

	return map[string]Backend{
		"memory": NewMemoryBackend(MemoryOptions{}),
		"file":   fileBackend,
		"sqlite": sqliteBackend,
	}
}

// --- Round trip ---

func TestBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			value := []byte(`{"greeting":"hello"}`)
			if err := b.Set(ctx, "thread:abc", value, time.Hour); err != nil {
				t.Fatalf("Set failed: %v", err)
			}

			got, err := b.Get(ctx, "thread:abc")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if string(got) != string(value) {
				t.Errorf("Get = %s, want %s", got, value)
			}
		})
	}
}

func TestBackend_GetMissingKey(t *testing.T) {
	ctx := context.Background()
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.Get(ctx, "thread:never-written")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("Get on missing key = %v, want ErrNotFound", err)
			}
		})
	}
}

// --- Expiry ---

func TestBackend_ExpiredEntryIsAbsent(t *testing.T) {
	ctx := context.Background()
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := b.Set(ctx, "thread:shortlived", []byte(`1`), 50*time.Millisecond); err != nil {
				t.Fatalf("Set failed: %v", err)
			}

			time.Sleep(120 * time.Millisecond)

			if _, err := b.Get(ctx, "thread:shortlived"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get after expiry = %v, want ErrNotFound", err)
			}
			exists, err := b.Exists(ctx, "thread:shortlived")
			if err != nil {
				t.Fatalf("Exists failed: %v", err)
			}
			if exists {
				t.Error("Exists after expiry = true, want false")
			}
		})
	}
}

func TestBackend_RejectsNonPositiveTTL(t *testing.T) {
	ctx := context.Background()
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			for _, ttl := range []time.Duration{0, -time.Second} {
				if err := b.Set(ctx, "thread:x", []byte(`1`), ttl); !errors.Is(err, ErrInvalidTTL) {
					t.Errorf("Set with ttl=%v = %v, want ErrInvalidTTL", ttl, err)
				}
			}
		})
	}
}

// --- Delete / Exists ---

func TestBackend_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := b.Set(ctx, "workflow_session:s1", []byte(`{}`), time.Hour); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			if err := b.Delete(ctx, "workflow_session:s1"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			// Deleting again (and deleting never-written keys) is fine.
			if err := b.Delete(ctx, "workflow_session:s1"); err != nil {
				t.Errorf("second Delete = %v, want nil", err)
			}
			if err := b.Delete(ctx, "workflow_session:never"); err != nil {
				t.Errorf("Delete of absent key = %v, want nil", err)
			}

			if _, err := b.Get(ctx, "workflow_session:s1"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get after delete = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestBackend_Exists(t *testing.T) {
	ctx := context.Background()
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			exists, err := b.Exists(ctx, "thread:nope")
			if err != nil {
				t.Fatalf("Exists failed: %v", err)
			}
			if exists {
				t.Error("Exists on missing key = true, want false")
			}

			if err := b.Set(ctx, "thread:yes", []byte(`1`), time.Hour); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			exists, err = b.Exists(ctx, "thread:yes")
			if err != nil {
				t.Fatalf("Exists failed: %v", err)
			}
			if !exists {
				t.Error("Exists on live key = false, want true")
			}
		})
	}
}

// --- Update ---

func TestBackend_UpdateCreatesAbsentKey(t *testing.T) {
	ctx := context.Background()
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			err := b.Update(ctx, "thread:new", func(cur []byte, exists bool) ([]byte, time.Duration, error) {
				if exists {
					t.Errorf("exists = true for never-written key (cur=%s)", cur)
				}
				return []byte(`["first"]`), time.Hour, nil
			})
			if err != nil {
				t.Fatalf("Update failed: %v", err)
			}

			got, err := b.Get(ctx, "thread:new")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if string(got) != `["first"]` {
				t.Errorf("Get = %s, want [\"first\"]", got)
			}
		})
	}
}

func TestBackend_UpdateSeesCurrentValue(t *testing.T) {
	ctx := context.Background()
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := b.Set(ctx, "k", []byte(`"v1"`), time.Hour); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			err := b.Update(ctx, "k", func(cur []byte, exists bool) ([]byte, time.Duration, error) {
				if !exists {
					t.Error("exists = false for live key")
				}
				if string(cur) != `"v1"` {
					t.Errorf("cur = %s, want \"v1\"", cur)
				}
				return []byte(`"v2"`), time.Hour, nil
			})
			if err != nil {
				t.Fatalf("Update failed: %v", err)
			}

			got, _ := b.Get(ctx, "k")
			if string(got) != `"v2"` {
				t.Errorf("Get = %s, want \"v2\"", got)
			}
		})
	}
}

func TestBackend_UpdateAbortsOnCallbackError(t *testing.T) {
	ctx := context.Background()
	sentinel := errors.New("caller said no")
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := b.Set(ctx, "k", []byte(`"keep"`), time.Hour); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			err := b.Update(ctx, "k", func([]byte, bool) ([]byte, time.Duration, error) {
				return nil, 0, sentinel
			})
			if !errors.Is(err, sentinel) {
				t.Errorf("Update = %v, want the callback's error", err)
			}

			// The aborted update must not have written anything.
			got, _ := b.Get(ctx, "k")
			if string(got) != `"keep"` {
				t.Errorf("value after aborted update = %s, want \"keep\"", got)
			}
		})
	}
}

func TestBackend_UpdateKeepTTLPreservesExpiry(t *testing.T) {
	ctx := context.Background()
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := b.Set(ctx, "k", []byte(`1`), 150*time.Millisecond); err != nil {
				t.Fatalf("Set failed: %v", err)
			}

			err := b.Update(ctx, "k", func([]byte, bool) ([]byte, time.Duration, error) {
				return []byte(`2`), KeepTTL, nil
			})
			if err != nil {
				t.Fatalf("Update failed: %v", err)
			}

			// Updated value is readable before the original deadline...
			got, err := b.Get(ctx, "k")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if string(got) != `2` {
				t.Errorf("Get = %s, want 2", got)
			}

			// ...and the original deadline still applies.
			time.Sleep(250 * time.Millisecond)
			if _, err := b.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get after original deadline = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestBackend_UpdateKeepTTLOnAbsentKeyFails(t *testing.T) {
	ctx := context.Background()
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			err := b.Update(ctx, "k:absent", func([]byte, bool) ([]byte, time.Duration, error) {
				return []byte(`1`), KeepTTL, nil
			})
			if !errors.Is(err, ErrInvalidTTL) {
				t.Errorf("Update = %v, want ErrInvalidTTL", err)
			}
		})
	}
}

// Concurrent appends to the same key must all land: this is the lost-turn
// scenario from concurrent invocations sharing a continuation id.
func TestBackend_ConcurrentUpdatesSameKey(t *testing.T) {
	ctx := context.Background()
	const writers = 16

	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(n int) {
					defer wg.Done()
					err := b.Update(ctx, "shared", func(cur []byte, exists bool) ([]byte, time.Duration, error) {
						var items []int
						if exists {
							if err := json.Unmarshal(cur, &items); err != nil {
								return nil, 0, err
							}
						}
						items = append(items, n)
						next, err := json.Marshal(items)
						return next, time.Hour, err
					})
					if err != nil {
						t.Errorf("writer %d: %v", n, err)
					}
				}(i)
			}
			wg.Wait()

			raw, err := b.Get(ctx, "shared")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			var items []int
			if err := json.Unmarshal(raw, &items); err != nil {
				t.Fatalf("parsing final value: %v", err)
			}
			if len(items) != writers {
				t.Errorf("got %d items, want %d (lost updates)", len(items), writers)
			}
		})
	}
}

// Updates of distinct keys must not contend with each other.
func TestBackend_ConcurrentUpdatesDistinctKeys(t *testing.T) {
	ctx := context.Background()
	const keys = 8

	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < keys; i++ {
				wg.Add(1)
				go func(n int) {
					defer wg.Done()
					key := fmt.Sprintf("thread:%d", n)
					err := b.Update(ctx, key, func([]byte, bool) ([]byte, time.Duration, error) {
						return []byte(fmt.Sprintf("%d", n)), time.Hour, nil
					})
					if err != nil {
						t.Errorf("key %s: %v", key, err)
					}
				}(i)
			}
			wg.Wait()

			for i := 0; i < keys; i++ {
				got, err := b.Get(ctx, fmt.Sprintf("thread:%d", i))
				if err != nil {
					t.Fatalf("Get thread:%d failed: %v", i, err)
				}
				if string(got) != fmt.Sprintf("%d", i) {
					t.Errorf("thread:%d = %s, want %d", i, got, i)
				}
			}
		})
	}
}

// --- Health checks ---

func TestBackend_HealthChecksReportHealthy(t *testing.T) {
	ctx := context.Background()
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			if h := b.HealthCheck(ctx); !h.Healthy {
				t.Errorf("HealthCheck unhealthy: %s", h.Detail)
			}
		})
	}
}
