package reliability

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name string
	err  error
	runs atomic.Int32
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run() error {
	j.runs.Add(1)
	return j.err
}

func TestScheduler_RecordsLastRuns(t *testing.T) {
	s := NewScheduler(zerolog.Nop())
	ok := &countingJob{name: "journal_ok"}
	failing := &countingJob{name: "journal_broken", err: errors.New("disk full")}
	require.NoError(t, s.AddJob("@every 1s", ok))
	require.NoError(t, s.AddJob("@every 1s", failing))

	assert.Empty(t, s.LastRuns(), "nothing has run before start")

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return len(s.LastRuns()) == 2 }, 5*time.Second, 50*time.Millisecond)

	runs := s.LastRuns()
	assert.Equal(t, "journal_broken", runs[0].Job)
	assert.Equal(t, "disk full", runs[0].Error)
	assert.Equal(t, "journal_ok", runs[1].Job)
	assert.Empty(t, runs[1].Error)
	assert.Equal(t, "@every 1s", runs[1].Schedule)
	assert.True(t, runs[1].Next.After(runs[1].Started))
	assert.Positive(t, ok.runs.Load())
}

func TestScheduler_RejectsDuplicateJobNames(t *testing.T) {
	s := NewScheduler(zerolog.Nop())
	require.NoError(t, s.AddJob("0 0 3 * * *", &countingJob{name: "daily_maintenance"}))
	assert.Error(t, s.AddJob("@daily", &countingJob{name: "daily_maintenance"}))
}
