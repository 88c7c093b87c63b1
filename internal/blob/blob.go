// Package blob stores named artifacts write-once and returns opaque
// references for reading them back.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Lllllllleong/geoingestflow/internal/retry"
)

var (
	// ErrNotFound is returned by Get for an unknown reference.
	ErrNotFound = errors.New("blob not found")
	// ErrStorage marks a storage failure that persisted after retries.
	ErrStorage = errors.New("storage failure")
	// ErrInvalidName is returned for object names that are empty or escape
	// the store.
	ErrInvalidName = errors.New("invalid blob name")
)

// Store persists artifacts. Put is write-once: writing a name that already
// exists keeps the stored content and returns its reference.
type Store interface {
	Put(ctx context.Context, name, contentType string, data []byte) (ref string, err error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// WithRetry wraps s so that transient failures are retried under p. Errors
// that remain after the last attempt wrap ErrStorage. ErrNotFound and
// ErrInvalidName are never retried.
func WithRetry(s Store, p retry.Policy) Store {
	if p.Retryable == nil {
		p.Retryable = transient
	}
	return &retryingStore{next: s, policy: p}
}

type retryingStore struct {
	next   Store
	policy retry.Policy
}

func (r *retryingStore) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	var ref string
	err := retry.Do(ctx, r.policy, "put "+name, func(ctx context.Context) error {
		var err error
		ref, err = r.next.Put(ctx, name, contentType, data)
		return err
	})
	if err != nil {
		return "", storageErr(err)
	}
	return ref, nil
}

func (r *retryingStore) Get(ctx context.Context, ref string) ([]byte, error) {
	var data []byte
	err := retry.Do(ctx, r.policy, "get "+ref, func(ctx context.Context) error {
		var err error
		data, err = r.next.Get(ctx, ref)
		return err
	})
	if err != nil {
		return nil, storageErr(err)
	}
	return data, nil
}

func transient(err error) bool {
	return !errors.Is(err, ErrNotFound) &&
		!errors.Is(err, ErrInvalidName) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func storageErr(err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidName) || errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}

// CleanName validates a slash-separated object name.
func CleanName(name string) (string, error) {
	name = strings.TrimLeft(strings.ReplaceAll(name, "\\", "/"), "/")
	if name == "" {
		return "", ErrInvalidName
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return name, nil
}
