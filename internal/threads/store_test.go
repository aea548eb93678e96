package threads

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tandem-ai/tandem/internal/storage"
)

func newTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	return NewStore(storage.NewMemoryBackend(storage.MemoryOptions{}), ttl)
}

// --- Create / Get ---

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, time.Hour)

	id, err := store.Create(ctx, "chat", map[string]string{"model": "default"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if id == "" {
		t.Fatal("Create returned empty continuation id")
	}

	thread, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if thread.ContinuationID != id {
		t.Errorf("ContinuationID = %s, want %s", thread.ContinuationID, id)
	}
	if thread.ToolName != "chat" {
		t.Errorf("ToolName = %s, want chat", thread.ToolName)
	}
	if len(thread.Turns) != 0 {
		t.Errorf("new thread has %d turns, want 0", len(thread.Turns))
	}
	if thread.Metadata["model"] != "default" {
		t.Errorf("Metadata = %v, want model=default", thread.Metadata)
	}
}

func TestCreate_IDsAreUnique(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, time.Hour)

	a, _ := store.Create(ctx, "chat", nil)
	b, _ := store.Create(ctx, "chat", nil)
	if a == b {
		t.Error("two Create calls returned the same continuation id")
	}
}

func TestGet_UnknownID(t *testing.T) {
	store := newTestStore(t, time.Hour)
	_, err := store.Get(context.Background(), "no-such-id")
	if !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("Get = %v, want ErrThreadNotFound", err)
	}
}

// --- AddTurn ---

// The chat scenario: user says hi, assistant answers, and the turns come
// back in exactly that order with authorship recorded.
func TestAddTurn_OrderAndAuthorship(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, time.Hour)

	id, err := store.Create(ctx, "chat", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := store.AddTurn(ctx, id, "chat", "user", "hi"); err != nil {
		t.Fatalf("AddTurn failed: %v", err)
	}
	if err := store.AddTurn(ctx, id, "chat", "assistant", "hello"); err != nil {
		t.Fatalf("AddTurn failed: %v", err)
	}

	thread, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	want := []struct{ role, content string }{
		{"user", "hi"},
		{"assistant", "hello"},
	}
	if len(thread.Turns) != len(want) {
		t.Fatalf("got %d turns, want %d", len(thread.Turns), len(want))
	}
	for i, w := range want {
		if thread.Turns[i].Role != w.role || thread.Turns[i].Content != w.content {
			t.Errorf("turn %d = {%s, %s}, want {%s, %s}",
				i, thread.Turns[i].Role, thread.Turns[i].Content, w.role, w.content)
		}
		if thread.Turns[i].Timestamp.IsZero() {
			t.Errorf("turn %d has no timestamp", i)
		}
	}
}

func TestAddTurn_AppendOnly(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, time.Hour)

	id, _ := store.Create(ctx, "chat", nil)
	contents := []string{"c1", "c2", "c3", "c4", "c5"}
	for _, c := range contents {
		if err := store.AddTurn(ctx, id, "chat", "user", c); err != nil {
			t.Fatalf("AddTurn(%s) failed: %v", c, err)
		}
	}

	thread, _ := store.Get(ctx, id)
	for i, c := range contents {
		if thread.Turns[i].Content != c {
			t.Errorf("turn %d = %s, want %s (turns must keep insertion order)", i, thread.Turns[i].Content, c)
		}
	}
}

func TestAddTurn_UnknownID(t *testing.T) {
	store := newTestStore(t, time.Hour)
	err := store.AddTurn(context.Background(), "no-such-id", "chat", "user", "hi")
	if !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("AddTurn = %v, want ErrThreadNotFound", err)
	}
}

// Cross-tool threading: a tool other than the creator may append, and
// each turn records which tool wrote it.
func TestAddTurn_CrossTool(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, time.Hour)

	id, _ := store.Create(ctx, "chat", nil)
	if err := store.AddTurn(ctx, id, "planner", "assistant", "continuing in the planner"); err != nil {
		t.Fatalf("cross-tool AddTurn failed: %v", err)
	}

	thread, _ := store.Get(ctx, id)
	if thread.ToolName != "chat" {
		t.Errorf("thread owner = %s, want chat (creation is immutable)", thread.ToolName)
	}
	if thread.Turns[0].Tool != "planner" {
		t.Errorf("turn author = %s, want planner", thread.Turns[0].Tool)
	}
}

// --- Sliding TTL ---

func TestSlidingTTL_ActivityKeepsThreadAlive(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 250*time.Millisecond)

	id, _ := store.Create(ctx, "chat", nil)

	// Keep appending at intervals shorter than the window: the thread
	// must survive well past the original deadline.
	for i := 0; i < 4; i++ {
		time.Sleep(100 * time.Millisecond)
		if err := store.AddTurn(ctx, id, "chat", "user", "ping"); err != nil {
			t.Fatalf("AddTurn during active window failed: %v", err)
		}
	}

	if _, err := store.Get(ctx, id); err != nil {
		t.Errorf("active thread expired: %v", err)
	}

	// Now go idle for longer than the window.
	time.Sleep(400 * time.Millisecond)
	if _, err := store.Get(ctx, id); !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("idle thread = %v, want ErrThreadNotFound", err)
	}
}

// --- Corruption and backend failure stay distinguishable ---

func TestCorruptThreadReadsAsNotFound(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend(storage.MemoryOptions{})
	store := NewStore(backend, time.Hour)

	// Plant a payload the thread codec cannot parse.
	if err := backend.Set(ctx, "thread:mangled", []byte(`"not a thread"`), time.Hour); err != nil {
		t.Fatalf("planting payload: %v", err)
	}

	_, err := store.Get(ctx, "mangled")
	if !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("Get on corrupt thread = %v, want ErrThreadNotFound", err)
	}
}

// Regression guard: a lookup that fails because the backend is down must
// surface as a backend error, never as ErrThreadNotFound. The historical
// version of this bug reported infrastructure failures as expired
// conversations and sent people debugging TTL configuration.
func TestBackendFailureIsNotThreadNotFound(t *testing.T) {
	store := NewStore(&downBackend{}, time.Hour)

	_, err := store.Get(context.Background(), "whatever")
	if !errors.Is(err, storage.ErrBackendUnavailable) {
		t.Errorf("Get = %v, want ErrBackendUnavailable", err)
	}
	if errors.Is(err, ErrThreadNotFound) {
		t.Error("backend failure reported as ErrThreadNotFound")
	}

	err = store.AddTurn(context.Background(), "whatever", "chat", "user", "hi")
	if !errors.Is(err, storage.ErrBackendUnavailable) {
		t.Errorf("AddTurn = %v, want ErrBackendUnavailable", err)
	}
	if errors.Is(err, ErrThreadNotFound) {
		t.Error("backend failure reported as ErrThreadNotFound")
	}
}

// downBackend fails every operation the way an unreachable store would.
type downBackend struct{}

func (d *downBackend) Name() string { return "down" }
func (d *downBackend) Get(context.Context, string) ([]byte, error) {
	return nil, storage.ErrBackendUnavailable
}
func (d *downBackend) Set(context.Context, string, []byte, time.Duration) error {
	return storage.ErrBackendUnavailable
}
func (d *downBackend) Delete(context.Context, string) error {
	return storage.ErrBackendUnavailable
}
func (d *downBackend) Exists(context.Context, string) (bool, error) {
	return false, storage.ErrBackendUnavailable
}
func (d *downBackend) Update(context.Context, string, storage.UpdateFunc) error {
	return storage.ErrBackendUnavailable
}
func (d *downBackend) HealthCheck(context.Context) storage.Health {
	return storage.Health{Healthy: false, Detail: "down"}
}
func (d *downBackend) Close() error { return nil }
