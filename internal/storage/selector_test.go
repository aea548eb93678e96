package storage

import (
	"context"
	"testing"
)

func TestParseBackendKind(t *testing.T) {
	for _, valid := range []string{"memory", "file", "redis", "sqlite"} {
		kind, err := ParseBackendKind(valid)
		if err != nil {
			t.Errorf("ParseBackendKind(%q) failed: %v", valid, err)
		}
		if string(kind) != valid {
			t.Errorf("ParseBackendKind(%q) = %q", valid, kind)
		}
	}

	if _, err := ParseBackendKind("auto"); err == nil {
		t.Error("ParseBackendKind(\"auto\") should fail: selection is explicit, not duck-typed")
	}
}

func TestSelect_PreferredFileBackend(t *testing.T) {
	b, err := Select(context.Background(), SelectorConfig{
		Preferred: KindFile,
		FileRoot:  t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	defer b.Close()

	if b.Name() != "file" {
		t.Errorf("selected %q, want file", b.Name())
	}
}

func TestSelect_PreferredMemoryBackend(t *testing.T) {
	b, err := Select(context.Background(), SelectorConfig{
		Preferred: KindMemory,
		FileRoot:  t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	defer b.Close()

	if b.Name() != "memory" {
		t.Errorf("selected %q, want memory", b.Name())
	}
}

// With redis configured but unreachable, the selector must land on the
// file backend — once, at startup, without crashing.
func TestSelect_UnreachableRedisFallsBackToFile(t *testing.T) {
	b, err := Select(context.Background(), SelectorConfig{
		Preferred: KindRedis,
		FileRoot:  t.TempDir(),
		Redis: RedisOptions{
			Host: "127.0.0.1",
			Port: 1, // nothing listens here
		},
	})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	defer b.Close()

	if b.Name() != "file" {
		t.Errorf("selected %q, want file fallback", b.Name())
	}
}

func TestSelect_SQLitePreferred(t *testing.T) {
	b, err := Select(context.Background(), SelectorConfig{
		Preferred: KindSQLite,
		FileRoot:  t.TempDir(),
		SQLiteDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	defer b.Close()

	if b.Name() != "sqlite" {
		t.Errorf("selected %q, want sqlite", b.Name())
	}
}
