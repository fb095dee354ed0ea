// Package source provides raw input access for the acquisition boundary.
//
// The pipeline core never downloads anything; it consumes files the
// acquisition layer has already materialized. Source is the seam that keeps
// the profiler and harmonizer testable without touching the filesystem.
package source

import (
	"bytes"
	"context"
	"io"
	"os"
)

// Source is a reopenable raw input.
type Source interface {
	// Open returns a fresh reader over the full input.
	Open(ctx context.Context) (io.ReadCloser, error)
	// Name identifies the input for logs and fingerprints.
	Name() string
}

// Local is a filesystem-backed Source.
type Local struct {
	path string
}

func NewLocal(path string) *Local { return &Local{path: path} }

func (l *Local) Name() string { return l.path }

func (l *Local) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Open(l.path)
}

// Peek reads at most n bytes from the start of src.
//
// Sampling must stay bounded in memory regardless of input size; callers use
// this for header-only inspection.
func Peek(ctx context.Context, src Source, n int) ([]byte, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	lr := &io.LimitedReader{R: rc, N: int64(n)}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, lr); err != nil && err != io.EOF {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Bytes is an in-memory Source for tests and pre-fetched inputs.
type Bytes struct {
	name string
	data []byte
}

func NewBytes(name string, data []byte) *Bytes { return &Bytes{name: name, data: data} }

func (b *Bytes) Name() string { return b.name }

func (b *Bytes) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

// Unavailable is a Source whose Open always fails; the profiler degrades it
// to an unavailable fingerprint instead of aborting the run.
type Unavailable struct {
	name string
	err  error
}

func NewUnavailable(name string, err error) *Unavailable { return &Unavailable{name: name, err: err} }

func (u *Unavailable) Name() string { return u.name }

func (u *Unavailable) Open(context.Context) (io.ReadCloser, error) { return nil, u.err }
