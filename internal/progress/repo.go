package progress

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/2beens/posecoach/internal/telemetry/tracing"
)

type Repo interface {
	Load(ctx context.Context) (*Progress, error)
	Save(ctx context.Context, p *Progress) error
}

// FileRepo keeps the whole document in a single JSON file.
type FileRepo struct {
	mu   sync.Mutex
	path string
}

func NewFileRepo(path string) *FileRepo {
	return &FileRepo{
		path: path,
	}
}

func (r *FileRepo) Path() string {
	return r.path
}

// Load returns an empty document when the file does not exist yet.
func (r *FileRepo) Load(ctx context.Context) (_ *Progress, err error) {
	_, span := tracing.GlobalTracer.Start(ctx, "fileRepo.load")
	defer tracing.EndSpanWithErrCheck(span, &err)

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress file: %w", err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse progress file %s: %w", r.path, err)
	}
	return p, nil
}

func (r *FileRepo) Save(ctx context.Context, p *Progress) (err error) {
	_, span := tracing.GlobalTracer.Start(ctx, "fileRepo.save")
	defer tracing.EndSpanWithErrCheck(span, &err)

	data, err := p.Marshal()
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, ".progress-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("replace progress file: %w", err)
	}
	return nil
}
