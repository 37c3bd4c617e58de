package batch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/PixelDrop/internal/model"
)

func entry(id, name string) model.FileEntry {
	return model.FileEntry{ID: id, OriginalName: name, MimeType: "image/png", Payload: []byte(name)}
}

func ids(entries []model.FileEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestAddPreservesInsertionOrder(t *testing.T) {
	s := NewSession("s1")
	s.Add(entry("1", "a.png"))
	s.Add(entry("2", "b.jpg"))
	s.Add(entry("3", "c.gif"))
	assert.Equal(t, []string{"1", "2", "3"}, ids(s.Snapshot()))
	assert.Equal(t, 3, s.Len())
}

func TestRemoveIsIdempotent(t *testing.T) {
	s := NewSession("s1")
	s.Add(entry("1", "a.png"))
	s.Add(entry("2", "b.png"))

	require.NoError(t, s.Remove("1"))
	after := s.Snapshot()
	require.NoError(t, s.Remove("1"))
	require.NoError(t, s.Remove("unknown"))
	assert.Equal(t, after, s.Snapshot())
	assert.Equal(t, []string{"2"}, ids(after))
}

func TestRemoveDoesNotAliasSnapshot(t *testing.T) {
	s := NewSession("s1")
	s.Add(entry("1", "a.png"))
	s.Add(entry("2", "b.png"))
	s.Add(entry("3", "c.png"))
	snap := s.Snapshot()
	require.NoError(t, s.Remove("2"))
	assert.Equal(t, []string{"1", "2", "3"}, ids(snap))
	assert.Equal(t, []string{"1", "3"}, ids(s.Snapshot()))
}

func TestBuildJobs(t *testing.T) {
	s := NewSession("s1")
	s.Add(entry("1", "a.png"))
	s.Add(entry("2", "b.jpg"))

	jobs, err := s.BuildJobs(model.FormatWEBP)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for i, job := range jobs {
		assert.Equal(t, i, job.Index)
		assert.Equal(t, model.FormatWEBP, job.TargetFormat)
		assert.Equal(t, model.StatusPending, job.Status)
	}
	assert.Equal(t, "1", jobs[0].SourceID)
	assert.Equal(t, "b.jpg", jobs[1].OriginalName)
	assert.Equal(t, []byte("a.png"), jobs[0].Source())
	assert.Equal(t, model.FormatWEBP, s.Format())
	assert.Zero(t, s.Len())
}

func TestBuildJobsFreezesEntries(t *testing.T) {
	s := NewSession("s1")
	s.Add(entry("1", "a.png"))
	jobs, err := s.BuildJobs(model.FormatPNG)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	assert.True(t, errors.Is(s.Remove("1"), ErrEntryFrozen))

	// New entries land in a fresh pending set and do not alter the run.
	s.Add(entry("2", "b.png"))
	require.NoError(t, s.Remove("2"))
	assert.Len(t, jobs, 1)

	_, err = s.BuildJobs(model.FormatPNG)
	assert.True(t, errors.Is(err, ErrRunInFlight))

	s.FinishRun()
	assert.NoError(t, s.Remove("1"))
	assert.False(t, s.InFlight())
}

func TestBuildJobsErrors(t *testing.T) {
	s := NewSession("s1")
	_, err := s.BuildJobs(model.FormatPNG)
	assert.True(t, errors.Is(err, ErrEmptyBatch))

	s.Add(entry("1", "a.png"))
	_, err = s.BuildJobs(model.Format("heic"))
	assert.True(t, errors.Is(err, model.ErrUnknownFormat))
	assert.Equal(t, 1, s.Len())
}

func TestDuplicateEntriesBuildIndependentJobs(t *testing.T) {
	s := NewSession("s1")
	s.Add(entry("1", "same.png"))
	s.Add(entry("2", "same.png"))
	jobs, err := s.BuildJobs(model.FormatGIF)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.NotSame(t, jobs[0], jobs[1])
	assert.NotEqual(t, jobs[0].SourceID, jobs[1].SourceID)
}
