package journal

import (
	"path/filepath"
	"testing"
	"time"

	"trafficrc/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTest(t *testing.T) *Journal {
	t.Helper()

	j, err := Open(Config{Path: filepath.Join(t.TempDir(), "journal.db")})
	require.NoError(t, err)
	require.NotNil(t, j)

	t.Cleanup(func() {
		j.Close()
	})
	return j
}

func testSession(start time.Time) Session {
	s := NewSession("239.255.1.1:49788", start)
	s.EndedAt = start.Add(time.Minute)
	s.MaxPeers = 2
	s.Stats = metrics.Stats{DatagramsReceived: 10, Malformed: 1, PeersEvicted: 1}
	return s
}

func TestJournal_SaveGet(t *testing.T) {
	j := setupTest(t)
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := testSession(start)

	require.NoError(t, j.Save(s))

	tests := []struct {
		name      string
		id        string
		errorType error
	}{
		{name: "existing", id: s.ID},
		{name: "missing", id: "nope", errorType: ErrSessionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := j.Get(tt.id)
			if tt.errorType != nil {
				assert.ErrorIs(t, err, tt.errorType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, s.ID, got.ID)
			assert.Equal(t, s.Group, got.Group)
			assert.True(t, s.StartedAt.Equal(got.StartedAt))
			assert.Equal(t, time.Minute, got.Duration())
			assert.Equal(t, s.Stats.DatagramsReceived, got.Stats.DatagramsReceived)
			assert.Equal(t, s.Stats.Malformed, got.Stats.Malformed)
			assert.Equal(t, 2, got.MaxPeers)
		})
	}
}

func TestJournal_SaveEmptyID(t *testing.T) {
	j := setupTest(t)
	assert.ErrorIs(t, j.Save(Session{}), ErrEmptySessionID)
}

func TestJournal_ListNewestFirst(t *testing.T) {
	j := setupTest(t)
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 3; i++ {
		s := testSession(start.Add(time.Duration(i) * time.Hour))
		require.NoError(t, j.Save(s))
		ids = append(ids, s.ID)
	}

	all, err := j.List(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID)
	assert.Equal(t, ids[0], all[2].ID)

	limited, err := j.List(1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, ids[2], limited[0].ID)

	require.NoError(t, j.Delete(ids[2]))
	all, err = j.List(0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestJournal_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(Config{Path: path})
	require.NoError(t, err)
	s := testSession(time.Now())
	require.NoError(t, j.Save(s))
	require.NoError(t, j.Close())

	j, err = Open(Config{Path: path})
	require.NoError(t, err)
	defer j.Close()

	got, err := j.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
}

func TestJournal_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage", "nested", "journal.db")

	j, err := Open(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, j.Close())
	assert.FileExists(t, path)
}
