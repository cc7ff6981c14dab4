package progress

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/2beens/posecoach/internal/telemetry/metrics"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingRepo struct {
	loadErr error
	saveErr error
	saved   *Progress
}

func (r *failingRepo) Load(context.Context) (*Progress, error) {
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	return New(), nil
}

func (r *failingRepo) Save(_ context.Context, p *Progress) error {
	r.saved = p
	return r.saveErr
}

func TestService_RecordSession(t *testing.T) {
	m := metrics.NewTestManager()
	repo := NewFileRepo(filepath.Join(t.TempDir(), "progress.json"))
	svc := NewService(repo, m)
	ctx := context.Background()

	now := time.Date(2025, 7, 14, 6, 15, 0, 0, time.UTC)
	p, err := svc.RecordSession(ctx, 1, 82.5, now)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Streak)
	assert.Equal(t, []string{"aruna"}, p.Badges)

	p, err = svc.RecordSession(ctx, 2, 91, now.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, p.Streak)
	assert.Equal(t, 3, p.TotalSessions())

	require.Len(t, p.History, 2)
	id, err := ulid.Parse(p.History[0].ID)
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(now), id.Time())
	assert.NotEqual(t, p.History[0].ID, p.History[1].ID)

	stored, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, p, stored)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.CounterSessionsRecorded))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.GaugeCurrentStreak))
}

func TestService_RecordSession_InvalidCount(t *testing.T) {
	repo := &failingRepo{}
	svc := NewService(repo, nil)
	_, err := svc.RecordSession(context.Background(), 0, 50, time.Now())
	assert.ErrorIs(t, err, ErrInvalidCount)
	assert.Nil(t, repo.saved)
}

func TestService_RecordSession_RepoErrors(t *testing.T) {
	loadErr := errors.New("disk on fire")
	_, err := NewService(&failingRepo{loadErr: loadErr}, nil).
		RecordSession(context.Background(), 1, 50, time.Now())
	assert.ErrorIs(t, err, loadErr)

	saveErr := errors.New("disk full")
	m := metrics.NewTestManager()
	_, err = NewService(&failingRepo{saveErr: saveErr}, m).
		RecordSession(context.Background(), 1, 50, time.Now())
	assert.ErrorIs(t, err, saveErr)
	assert.Zero(t, testutil.ToFloat64(m.CounterSessionsRecorded))
}

func TestService_Reset(t *testing.T) {
	m := metrics.NewTestManager()
	repo := NewFileRepo(filepath.Join(t.TempDir(), "progress.json"))
	svc := NewService(repo, m)
	ctx := context.Background()

	_, err := svc.RecordSession(ctx, 1, 50, time.Now())
	require.NoError(t, err)
	require.NoError(t, svc.Reset(ctx))

	p, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, New(), p)
	assert.Zero(t, testutil.ToFloat64(m.GaugeCurrentStreak))
}

func TestService_History(t *testing.T) {
	repo := NewFileRepo(filepath.Join(t.TempDir(), "progress.json"))
	svc := NewService(repo, nil)
	ctx := context.Background()

	start := time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := svc.RecordSession(ctx, 1, float64(60+i), start.AddDate(0, 0, i))
		require.NoError(t, err)
	}

	entries, err := svc.History(ctx, "2025-08-02", "2025-08-04")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "2025-08-02", entries[0].Date)
	assert.Equal(t, 63.0, entries[2].Accuracy)
}

func TestService_RecordSession_SameDayMerges(t *testing.T) {
	svc := NewService(NewFileRepo(filepath.Join(t.TempDir(), "progress.json")), nil)
	ctx := context.Background()
	day := time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)

	totalCount := 0
	bestAccuracy := 0.0
	sessions := gofakeit.Number(2, 10)
	for i := 0; i < sessions; i++ {
		count := gofakeit.Number(1, 12)
		accuracy := gofakeit.Float64Range(0, 100)
		totalCount += count
		if accuracy > bestAccuracy {
			bestAccuracy = accuracy
		}
		_, err := svc.RecordSession(ctx, count, accuracy, day.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	p, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-03-10"}, p.Dates)
	assert.Equal(t, []int{totalCount}, p.Counts)
	assert.Equal(t, []float64{bestAccuracy}, p.Accuracy)
	assert.Len(t, p.History, sessions)
	assert.Equal(t, 1, p.Streak)
}
