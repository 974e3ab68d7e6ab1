// Package store persists interpreter checkpoints.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/danshapiro/epic/internal/epic/runtime"
)

// ErrNoCheckpoint is returned by Load when nothing has been saved yet.
var ErrNoCheckpoint = errors.New("no checkpoint found")

// Store saves and loads the latest checkpoint of one run.
type Store interface {
	Save(ctx context.Context, cp *runtime.Checkpoint) error
	Load(ctx context.Context) (*runtime.Checkpoint, error)
}

// FileStore keeps the checkpoint as a single JSON document, replaced
// atomically on every save.
type FileStore struct {
	Path string
}

var _ Store = (*FileStore)(nil)

func NewFileStore(path string) *FileStore { return &FileStore{Path: path} }

func (s *FileStore) Save(_ context.Context, cp *runtime.Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("checkpoint is nil")
	}
	return cp.Save(s.Path)
}

func (s *FileStore) Load(_ context.Context) (*runtime.Checkpoint, error) {
	cp, err := runtime.LoadCheckpoint(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoCheckpoint
		}
		return nil, err
	}
	return cp, nil
}

// Multi saves to every store in order and loads from the first.
type Multi []Store

var _ Store = Multi(nil)

func (m Multi) Save(ctx context.Context, cp *runtime.Checkpoint) error {
	for _, s := range m {
		if err := s.Save(ctx, cp); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) Load(ctx context.Context) (*runtime.Checkpoint, error) {
	if len(m) == 0 {
		return nil, ErrNoCheckpoint
	}
	return m[0].Load(ctx)
}
