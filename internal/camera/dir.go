package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrNoFrames is returned by a DirSource whose folder holds no usable frames.
var ErrNoFrames = errors.New("no camera frames")

const dirRescanInterval = 2 * time.Second

// DirSource loops over the JPEG files of a folder at a fixed frame rate.
// Handy for development and demos without a webcam.
// A missing or empty folder is not fatal, it is scanned again until frames
// show up.
type DirSource struct {
	dir         string
	interval    time.Duration
	rescanEvery time.Duration

	mu       sync.Mutex
	frames   []image.Image
	idx      int
	nextAt   time.Time
	rescanAt time.Time
	closed   chan struct{}
	once     sync.Once
}

func NewDirSource(dir string, fps int) *DirSource {
	if fps <= 0 {
		fps = 10
	}

	s := &DirSource{
		dir:         dir,
		interval:    time.Second / time.Duration(fps),
		rescanEvery: dirRescanInterval,
		closed:      make(chan struct{}),
	}

	frames, err := loadFrames(dir)
	if err != nil {
		log.Warnf("dir camera: %s, will retry", err)
	} else {
		log.Debugf("dir camera: %d frames from %s at %d fps", len(frames), dir, fps)
	}
	s.frames = frames

	return s
}

func loadFrames(dir string) ([]image.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frames dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".jpg" || ext == ".jpeg") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	frames := make([]image.Image, 0, len(names))
	for _, name := range names {
		img, err := decodeFile(filepath.Join(dir, name))
		if err != nil {
			log.Warnf("dir camera: skip %s: %s", name, err)
			continue
		}
		frames = append(frames, img)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: no decodable jpeg in %s", ErrNoFrames, dir)
	}

	return frames, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return jpeg.Decode(f)
}

// Next is paced at the frame rate even when there is nothing to return, so
// callers retrying on ErrNoFrames do not spin.
func (s *DirSource) Next(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	now := time.Now()
	wait := s.nextAt.Sub(now)
	if s.nextAt.Before(now) {
		s.nextAt = now
	}
	s.nextAt = s.nextAt.Add(s.interval)

	if len(s.frames) == 0 && !now.Before(s.rescanAt) {
		s.rescanAt = now.Add(s.rescanEvery)
		frames, err := loadFrames(s.dir)
		if err != nil {
			log.Debugf("dir camera: rescan: %s", err)
		} else {
			log.Infof("dir camera: %d frames appeared in %s", len(frames), s.dir)
			s.frames = frames
		}
	}

	var frame image.Image
	if len(s.frames) > 0 {
		frame = s.frames[s.idx%len(s.frames)]
		s.idx++
	}
	s.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closed:
			return nil, ErrSourceClosed
		case <-timer.C:
		}
	}

	select {
	case <-s.closed:
		return nil, ErrSourceClosed
	default:
	}

	if frame == nil {
		return nil, fmt.Errorf("%w in %s", ErrNoFrames, s.dir)
	}
	return frame, nil
}

func (s *DirSource) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *DirSource) Close() error {
	s.once.Do(func() {
		close(s.closed)
	})
	return nil
}
