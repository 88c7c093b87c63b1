package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/Lllllllleong/geoingestflow/internal/blob"
	"github.com/Lllllllleong/geoingestflow/internal/pipeline"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// SaveToGCSAtomically writes data to a GCS object only if it doesn't already
// exist. An existing object is not an error.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName, contentType string, data []byte) error {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		if preconditionFailed(err) {
			slog.Info("Object already exists, skipping write.", "object", objectName)
			return nil
		}
		return fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		if preconditionFailed(err) {
			slog.Info("Object already exists, skipping write.", "object", objectName)
			return nil
		}
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

func preconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

const gcsScheme = "gs://"

// GCSRef returns the gs:// reference of an object.
func GCSRef(bucket, object string) string {
	return gcsScheme + bucket + "/" + object
}

// ParseGCSRef splits a gs://bucket/object reference.
func ParseGCSRef(ref string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(ref, gcsScheme)
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not a gs:// reference", blob.ErrInvalidName, ref)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("%w: %q", blob.ErrInvalidName, ref)
	}
	return bucket, object, nil
}

// GCSBlobStore is a blob.Store writing to one bucket.
type GCSBlobStore struct {
	client *storage.Client
	bucket string
}

// NewGCSBlobStore returns a store writing to bucket.
func NewGCSBlobStore(client *storage.Client, bucket string) *GCSBlobStore {
	return &GCSBlobStore{client: client, bucket: bucket}
}

func (s *GCSBlobStore) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	name, err := blob.CleanName(name)
	if err != nil {
		return "", err
	}
	if err := SaveToGCSAtomically(ctx, s.client.Bucket(s.bucket), name, contentType, data); err != nil {
		return "", err
	}
	return GCSRef(s.bucket, name), nil
}

// Get reads any gs:// reference, not only objects of this store's bucket.
func (s *GCSBlobStore) Get(ctx context.Context, ref string) ([]byte, error) {
	bucket, object, err := ParseGCSRef(ref)
	if err != nil {
		return nil, err
	}
	reader, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", blob.ErrNotFound, ref)
		}
		return nil, fmt.Errorf("failed to open GCS object %s: %w", ref, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read GCS object %s: %w", ref, err)
	}
	return data, nil
}

// OpenFile describes an uploaded object as pipeline input.
func (s *GCSBlobStore) OpenFile(ctx context.Context, bucket, object string) (pipeline.UploadedFile, error) {
	handle := s.client.Bucket(bucket).Object(object)
	attrs, err := handle.Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return pipeline.UploadedFile{}, fmt.Errorf("%w: %s", blob.ErrNotFound, GCSRef(bucket, object))
		}
		return pipeline.UploadedFile{}, fmt.Errorf("failed to read attributes of %s: %w", GCSRef(bucket, object), err)
	}
	name := object
	if i := strings.LastIndex(object, "/"); i >= 0 {
		name = object[i+1:]
	}
	return pipeline.UploadedFile{
		Name:        name,
		ContentType: attrs.ContentType,
		Size:        attrs.Size,
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			return handle.NewReader(ctx)
		},
	}, nil
}
