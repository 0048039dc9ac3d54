package profile

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndRecent(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "profile.db"))
	require.NoError(t, err)
	defer s.Close()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		snap := Snapshot{
			RunID:        string(rune('a' + i)),
			StartedAt:    base.Add(time.Duration(i) * time.Hour),
			Duration:     time.Millisecond,
			NodeCount:    i,
			AllCompleted: true,
		}
		require.NoError(t, s.Record(snap))
	}

	recent, err := s.Recent(2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestOpenCreatesBucketIdempotently(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	recent, err := s2.Recent(10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}
