package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dogsight/alert-server/pkg/types"
)

func readRecords(t *testing.T, path string) []Record {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestJournalLifecycle(t *testing.T) {
	dir := t.TempDir()
	j := New(dir)

	assert.False(t, j.IsActive())
	require.NoError(t, j.Start())
	assert.True(t, j.IsActive())

	// Start while active is an error.
	assert.Error(t, j.Start())

	j.Send(types.AlertWandering, "Your dog has left the safe zone!")
	j.Append("session_start", "user-1")

	filename := j.Status().Filename
	require.NotEmpty(t, filename)
	require.NoError(t, j.Stop())
	assert.False(t, j.IsActive())

	recs := readRecords(t, filepath.Join(dir, filename))
	require.Len(t, recs, 2)
	assert.Equal(t, "wandering", recs[0].Kind)
	assert.Equal(t, "Your dog has left the safe zone!", recs[0].Message)
	assert.Equal(t, "session_start", recs[1].Kind)

	// Stop while inactive is an error.
	assert.Error(t, j.Stop())
}

func TestJournalAppendWhileInactiveIsDropped(t *testing.T) {
	j := New(t.TempDir())

	assert.NotPanics(t, func() {
		j.Append("zone_update", "ignored")
		j.Send(types.AlertReturned, "ignored")
	})
	assert.Zero(t, j.Status().Records)
}

func TestJournalStatusCountsBytes(t *testing.T) {
	j := New(t.TempDir())
	require.NoError(t, j.Start())

	j.Append("session_start", "user-1")
	require.NoError(t, j.Stop())

	st := j.Status()
	assert.Equal(t, uint64(1), st.Records)
	assert.NotZero(t, st.BytesWritten)
}

func TestJournalCloseIsIdempotent(t *testing.T) {
	j := New(t.TempDir())
	require.NoError(t, j.Start())

	j.Close()
	assert.False(t, j.IsActive())
	assert.NotPanics(t, j.Close)
}
