package pose

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/2beens/posecoach/internal/telemetry/tracing"
	"github.com/2beens/posecoach/pkg"

	"github.com/coocood/freecache"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const (
	megabyte               = 1024 * 1024
	referencesCacheSize    = 4 * megabyte
	referenceFileExtension = ".json"
)

var (
	ErrStepOutOfRange = errors.New("step out of range")
	ErrNoReferences   = errors.New("no reference poses found")
)

// SuryaNamaskarPoses are the display names of the twelve steps of the sequence.
var SuryaNamaskarPoses = []string{
	"Pranamasana (Prayer Pose)",
	"Hasta Uttanasana (Raised Arms)",
	"Hasta Padasana (Forward Bend)",
	"Ashwa Sanchalanasana (Lunge Right)",
	"Phalakasana (Plank)",
	"Ashtanga Namaskara (Eight-Limb Pose)",
	"Bhujangasana (Cobra)",
	"Adho Mukha Svanasana (Downward Dog)",
	"Ashwa Sanchalanasana (Lunge Left)",
	"Hasta Padasana (Forward Bend)",
	"Hasta Uttanasana (Raised Arms)",
	"Pranamasana (Prayer Pose)",
}

type referenceEntry struct {
	name string
	path string
}

// ReferenceLibrary holds the ordered reference poses loaded from a folder of
// poseN.json files. Parsed landmarks live in a freecache cache, so the per
// frame lookup only touches disk after an eviction.
type ReferenceLibrary struct {
	dir   string
	names []string
	cache *freecache.Cache

	mu      sync.RWMutex
	entries []referenceEntry
}

func NewReferenceLibrary(dir string, names []string) *ReferenceLibrary {
	if len(names) == 0 {
		names = SuryaNamaskarPoses
	}
	return &ReferenceLibrary{
		dir:   dir,
		names: names,
		cache: freecache.NewCache(referencesCacheSize),
	}
}

// Reload rescans the folder and warms the cache. On failure the previously
// loaded references stay in place.
func (l *ReferenceLibrary) Reload(ctx context.Context) (err error) {
	_, span := tracing.GlobalTracer.Start(ctx, "referenceLibrary.reload")
	defer tracing.EndSpanWithErrCheck(span, &err)

	files, err := pkg.ListNumberedFiles(l.dir, referenceFileExtension)
	if err != nil {
		return fmt.Errorf("list reference files in %s: %w", l.dir, err)
	}
	if len(files) == 0 {
		return fmt.Errorf("%w in %s", ErrNoReferences, l.dir)
	}

	entries := make([]referenceEntry, 0, len(files))
	parsed := make([][]byte, 0, len(files))
	for i, f := range files {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return fmt.Errorf("read reference %s: %w", f.Name, err)
		}
		landmarks, err := ParseLandmarks(data)
		if err != nil {
			return fmt.Errorf("parse reference %s: %w", f.Name, err)
		}
		if len(landmarks) == 0 {
			return fmt.Errorf("reference %s has no landmarks", f.Name)
		}
		encoded, err := json.Marshal(landmarks)
		if err != nil {
			return fmt.Errorf("encode reference %s: %w", f.Name, err)
		}

		entries = append(entries, referenceEntry{
			name: l.nameFor(i, f.Name),
			path: f.Path,
		})
		parsed = append(parsed, encoded)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache.Clear()
	for i, encoded := range parsed {
		if err := l.cache.Set(cacheKey(i), encoded, 0); err != nil {
			log.Warnf("cache reference %d: %s", i, err)
		}
	}
	l.entries = entries

	span.SetAttributes(attribute.Int("references.count", len(entries)))
	log.Infof("loaded %d reference poses from %s", len(entries), l.dir)
	return nil
}

func (l *ReferenceLibrary) nameFor(step int, fileName string) string {
	if step < len(l.names) && l.names[step] != "" {
		return l.names[step]
	}
	return strings.TrimSuffix(fileName, filepath.Ext(fileName))
}

func cacheKey(step int) []byte {
	return []byte(fmt.Sprintf("reference::%d", step))
}

func (l *ReferenceLibrary) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *ReferenceLibrary) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.entries))
	for _, e := range l.entries {
		names = append(names, e.name)
	}
	return names
}

func (l *ReferenceLibrary) Get(step int) (*Reference, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if step < 0 || step >= len(l.entries) {
		return nil, fmt.Errorf("%w: %d of %d", ErrStepOutOfRange, step, len(l.entries))
	}
	entry := l.entries[step]

	var landmarks Landmarks
	if encoded, err := l.cache.Get(cacheKey(step)); err == nil {
		if err := json.Unmarshal(encoded, &landmarks); err != nil {
			return nil, fmt.Errorf("decode cached reference %d: %w", step, err)
		}
	} else {
		log.Debugf("reference %d not in cache (%s), reading %s", step, err, entry.path)
		data, err := os.ReadFile(entry.path)
		if err != nil {
			return nil, fmt.Errorf("read reference %s: %w", entry.path, err)
		}
		landmarks, err = ParseLandmarks(data)
		if err != nil {
			return nil, fmt.Errorf("parse reference %s: %w", entry.path, err)
		}
		if encoded, err := json.Marshal(landmarks); err == nil {
			_ = l.cache.Set(cacheKey(step), encoded, 0)
		}
	}

	return &Reference{
		Step:      step,
		Name:      entry.name,
		File:      filepath.Base(entry.path),
		Landmarks: landmarks,
	}, nil
}
