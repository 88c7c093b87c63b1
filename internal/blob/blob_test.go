package blob

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Lllllllleong/geoingestflow/internal/retry"
)

func stores(t *testing.T) map[string]Store {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return map[string]Store{"memory": NewMemoryStore(), "file": fs}
}

func TestStoreWriteOnce(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ref, err := s.Put(ctx, "jobs/1/report.json", "application/json", []byte("first"))
			if err != nil {
				t.Fatal(err)
			}
			again, err := s.Put(ctx, "jobs/1/report.json", "application/json", []byte("second"))
			if err != nil {
				t.Fatal(err)
			}
			if again != ref {
				t.Errorf("refs differ: %q vs %q", ref, again)
			}
			data, err := s.Get(ctx, ref)
			if err != nil {
				t.Fatal(err)
			}
			if string(data) != "first" {
				t.Errorf("content = %q, want first write", data)
			}
		})
	}
}

func TestStoreRejectsBadNamesAndRefs(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, bad := range []string{"", "../escape", "a/../../b", "a//b"} {
				if _, err := s.Put(ctx, bad, "", nil); !errors.Is(err, ErrInvalidName) {
					t.Errorf("Put(%q) err = %v", bad, err)
				}
			}
			if _, err := s.Get(ctx, "gs://bucket/x"); !errors.Is(err, ErrNotFound) {
				t.Errorf("foreign ref err = %v", err)
			}
		})
	}
}

func TestFileStoreGetOutsideRoot(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(context.Background(), "file:///etc/passwd"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("err = %v", err)
	}
}

type flakyStore struct {
	*MemoryStore
	failures atomic.Int32
}

func (f *flakyStore) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	if f.failures.Add(-1) >= 0 {
		return "", errors.New("503 backend unavailable")
	}
	return f.MemoryStore.Put(ctx, name, contentType, data)
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()
	policy := retry.Policy{Attempts: 3, Backoff: time.Millisecond}

	flaky := &flakyStore{MemoryStore: NewMemoryStore()}
	flaky.failures.Store(2)
	if _, err := WithRetry(flaky, policy).Put(ctx, "a", "", []byte("x")); err != nil {
		t.Fatalf("transient failures not retried: %v", err)
	}

	down := &flakyStore{MemoryStore: NewMemoryStore()}
	down.failures.Store(100)
	_, err := WithRetry(down, policy).Put(ctx, "a", "", []byte("x"))
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("err = %v, want ErrStorage", err)
	}
	if left := down.failures.Load(); left != 97 {
		t.Errorf("attempts = %d, want 3", 100-left)
	}

	if _, err := WithRetry(NewMemoryStore(), policy).Get(ctx, "mem://missing"); !errors.Is(err, ErrNotFound) || errors.Is(err, ErrStorage) {
		t.Errorf("missing object err = %v", err)
	}
}
