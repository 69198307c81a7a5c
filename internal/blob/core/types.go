// Package core defines the archive contract shared by the rule-run report
// backends.
package core

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// Driver identifies a concrete archive backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"     // local directory
	DriverS3         Driver = "s3"     // S3 / MinIO compatible
	DriverMemory     Driver = "memory" // process memory (tests, one-shot CLI runs)
)

// Archive errors.
var (
	ErrExists     = errors.New("blob already exists")
	ErrNotFound   = errors.New("blob not found")
	ErrInvalidKey = errors.New("invalid blob key")
)

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string // small, flat key-value
}

// Info describes a stored object.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is a write-once object archive. Reports are never rewritten: Put
// fails with ErrExists when the key is taken.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	// Get returns ErrNotFound for a missing key. The caller closes the reader.
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	// Delete reports whether the key existed.
	Delete(ctx context.Context, key string) (bool, error)
	// List returns objects under prefix ordered by key.
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

// CheckKey rejects empty, absolute and traversing keys.
func CheckKey(key string) error {
	switch {
	case strings.TrimSpace(key) == "":
		return errors.Join(ErrInvalidKey, errors.New("empty key"))
	case strings.HasPrefix(key, "/"):
		return errors.Join(ErrInvalidKey, errors.New("absolute key "+key))
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return errors.Join(ErrInvalidKey, errors.New("traversal in "+key))
		}
	}
	return nil
}

// CloneMetadata copies user metadata so callers cannot alias stored maps.
func CloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
