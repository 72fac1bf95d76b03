package ledger

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/flir-etl-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "ledger.db")
	s, err := Open(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestStore_MarkAndCheckProcessed(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	ok, err := s.AlreadyProcessed(ctx, "ds-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.MarkProcessed(ctx, domain.Completion{
		DatasetID:    "ds-1",
		DatasetName:  "flirIrCamera - 2017-06-01__16-30-00-000",
		FilesCreated: []string{"a.tif", "a.png"},
		BytesWritten: 2048,
		ProcessedAt:  time.Date(2017, 6, 1, 17, 0, 0, 0, time.UTC),
	}))

	ok, err = s.AlreadyProcessed(ctx, "ds-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AlreadyProcessed(ctx, "ds-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_MarkProcessedTwiceUpserts(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	c := domain.Completion{DatasetID: "ds-1", DatasetName: "first", ProcessedAt: time.Now()}
	require.NoError(t, s.MarkProcessed(ctx, c))
	c.DatasetName = "second"
	require.NoError(t, s.MarkProcessed(ctx, c))

	var name string
	require.NoError(t, s.db.QueryRow(`SELECT dataset_name FROM processed_datasets WHERE dataset_id = ?`, "ds-1").Scan(&name))
	assert.Equal(t, "second", name)
}

func TestStore_RecordAndListRuns(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2017, 6, 1, 16, 0, 0, 0, time.UTC)

	for i, outcome := range []string{domain.OutcomeProcessed, domain.OutcomeSkipped, domain.OutcomeFailed} {
		id, err := s.RecordRun(ctx, domain.RunRecord{
			DatasetID: "ds-1",
			Outcome:   outcome,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			EndedAt:   base.Add(time.Duration(i)*time.Minute + time.Second),
		})
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	}

	runs, err := s.RecentRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, domain.OutcomeFailed, runs[0].Outcome)
	assert.Equal(t, domain.OutcomeSkipped, runs[1].Outcome)
	assert.Equal(t, base.Add(2*time.Minute+time.Second), runs[0].EndedAt)
}

func TestStore_RecordRunKeepsGivenID(t *testing.T) {
	s, _ := openTestStore(t)
	id, err := s.RecordRun(context.Background(), domain.RunRecord{
		RunID:     "fixed-id",
		DatasetID: "ds-1",
		Outcome:   domain.OutcomeProcessed,
	})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", id)
}

func TestStore_ReopenKeepsState(t *testing.T) {
	s, path := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.MarkProcessed(ctx, domain.Completion{DatasetID: "ds-1", ProcessedAt: time.Now()}))
	require.NoError(t, s.Close())

	reopened, err := Open(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer reopened.Close()

	ok, err := reopened.AlreadyProcessed(ctx, "ds-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_CheckReadiness(t *testing.T) {
	s, _ := openTestStore(t)
	require.NoError(t, s.CheckReadiness(context.Background()))

	require.NoError(t, s.Close())
	assert.Error(t, s.CheckReadiness(context.Background()))
}
