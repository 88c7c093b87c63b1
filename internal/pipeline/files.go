package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/Lllllllleong/geoingestflow/internal/blob"
	"github.com/Lllllllleong/geoingestflow/internal/jobs"
)

// UploadedFile is one input blob. Open may be called more than once; each
// call returns a fresh reader.
type UploadedFile struct {
	Name        string
	ContentType string
	Size        int64
	Open        func(ctx context.Context) (io.ReadCloser, error)
}

// BytesFile wraps in-memory content.
func BytesFile(name, contentType string, data []byte) UploadedFile {
	return UploadedFile{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		Open: func(context.Context) (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// LocalFile wraps a file on disk.
func LocalFile(path string) (UploadedFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return UploadedFile{}, err
	}
	if info.IsDir() {
		return UploadedFile{}, fmt.Errorf("%s is a directory", path)
	}
	return UploadedFile{
		Name: filepath.Base(path),
		Size: info.Size(),
		Open: func(context.Context) (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// StoredFile reads a staged input back from store.
func StoredFile(store blob.Store, in jobs.InputRef) UploadedFile {
	return UploadedFile{
		Name:        in.Name,
		ContentType: in.ContentType,
		Size:        in.Size,
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			data, err := store.Get(ctx, in.Ref)
			if err != nil {
				return nil, err
			}
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// readAll reads f, failing when it holds more than limit bytes.
func readAll(ctx context.Context, f UploadedFile, limit int64) ([]byte, error) {
	if f.Open == nil {
		return nil, fmt.Errorf("file %s has no content", f.Name)
	}
	if f.Size > limit {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, f.Size, limit)
	}
	rc, err := f.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrFileTooLarge, limit)
	}
	return data, nil
}

// Stage copies files into the blob store under a fresh upload prefix and
// returns references a worker can read them back from.
func (o *Orchestrator) Stage(ctx context.Context, files []UploadedFile) ([]jobs.InputRef, error) {
	prefix := fmt.Sprintf("%s/%s", o.cfg.UploadPrefix, uuid.NewString())
	refs := make([]jobs.InputRef, 0, len(files))
	for i, f := range files {
		data, err := readAll(ctx, f, o.cfg.MaxFileSize)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", f.Name, err)
		}
		name := fmt.Sprintf("%s/%03d-%s", prefix, i, safeName(f.Name))
		ref, err := o.cfg.Blobs.Put(ctx, name, f.ContentType, data)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", f.Name, err)
		}
		refs = append(refs, jobs.InputRef{
			Name:        f.Name,
			ContentType: f.ContentType,
			Size:        int64(len(data)),
			Ref:         ref,
		})
	}
	return refs, nil
}

// safeName reduces a client-supplied file name to one object-name segment.
func safeName(name string) string {
	base := filepath.Base(filepath.ToSlash(name))
	switch base {
	case "", ".", "..", "/":
		return "file"
	}
	out := []rune(base)
	for i, r := range out {
		if r == '/' || r == '\\' || r < 0x20 {
			out[i] = '_'
		}
	}
	return string(out)
}
