package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/2beens/posecoach/internal/progress"
	"github.com/2beens/posecoach/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
)

const filePrefix = "progress-"

type File struct {
	ID          string
	Name        string
	CreatedTime string
}

// Store is a remote folder of backup files.
type Store interface {
	List(ctx context.Context) ([]File, error)
	Upload(ctx context.Context, name string, content io.Reader) (string, error)
	Delete(ctx context.Context, id string) error
}

// Service snapshots the progress document into a Store and keeps only the
// newest Keep snapshots. Keep <= 0 keeps everything.
type Service struct {
	repo  progress.Repo
	store Store
	Keep  int
}

func NewService(repo progress.Repo, store Store, keep int) *Service {
	return &Service{
		repo:  repo,
		store: store,
		Keep:  keep,
	}
}

func FileName(t time.Time) string {
	return filePrefix + t.UTC().Format("20060102-150405") + ".json"
}

// DoBackup uploads the current document and returns the new file name.
func (s *Service) DoBackup(ctx context.Context, baseTime time.Time) (_ string, err error) {
	ctx, span := tracing.GlobalBackupTracer.Start(ctx, "progressBackup.doBackup")
	defer tracing.EndSpanWithErrCheck(span, &err)

	p, err := s.repo.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("load progress: %w", err)
	}
	data, err := p.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal progress: %w", err)
	}

	existing, err := s.store.List(ctx)
	if err != nil {
		return "", err
	}

	name := FileName(baseTime)
	for _, f := range existing {
		if f.Name == name {
			log.Printf("backup %s already exists, skipping upload", name)
			return name, s.prune(ctx, existing)
		}
	}

	id, err := s.store.Upload(ctx, name, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	log.Printf("progress backup saved: %s (%s), %d sessions, streak %d", name, id, p.TotalSessions(), p.Streak)

	existing = append(existing, File{ID: id, Name: name})
	return name, s.prune(ctx, existing)
}

// prune deletes the oldest backup files beyond Keep. File names sort by time.
func (s *Service) prune(ctx context.Context, files []File) error {
	if s.Keep <= 0 {
		return nil
	}

	var backups []File
	for _, f := range files {
		if len(f.Name) > len(filePrefix) && f.Name[:len(filePrefix)] == filePrefix {
			backups = append(backups, f)
		}
	}
	if len(backups) <= s.Keep {
		return nil
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Name < backups[j].Name
	})
	for _, f := range backups[:len(backups)-s.Keep] {
		if err := s.store.Delete(ctx, f.ID); err != nil {
			return fmt.Errorf("delete old backup %s: %w", f.Name, err)
		}
		log.Debugf("old backup removed: %s", f.Name)
	}
	return nil
}

func (s *Service) List(ctx context.Context) ([]File, error) {
	return s.store.List(ctx)
}
