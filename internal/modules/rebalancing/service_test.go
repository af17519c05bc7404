package rebalancing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/taxoracle/internal/domain"
	"github.com/aristath/taxoracle/internal/modules/bundle"
	"github.com/aristath/taxoracle/internal/modules/optimization"
	"github.com/aristath/taxoracle/internal/modules/optimization/mip"
	"github.com/aristath/taxoracle/internal/modules/runs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingJournal struct {
	saved []runs.Run
	err   error
}

func (j *recordingJournal) Save(_ context.Context, run runs.Run) error {
	j.saved = append(j.saved, run)
	return j.err
}

func (j *recordingJournal) ArchiveRun(ctx context.Context, run runs.Run) error {
	return j.Save(ctx, run)
}

func newTestService(journal RunJournal, archiver RunArchiver) *Service {
	solver := optimization.NewStrategySolver(mip.NewSolver(mip.DefaultOptions(), zerolog.Nop()), true, zerolog.Nop())
	return NewService(solver, 1, journal, archiver, zerolog.Nop())
}

func TestService_RunJournalsAndArchives(t *testing.T) {
	journal := &recordingJournal{}
	archive := &recordingJournal{}
	svc := newTestService(journal, archive)

	req := bundle.Request{
		Input:    testInput(growthStrategy()),
		Settings: map[string]domain.Settings{"growth": growthSettings()},
	}
	out, err := svc.Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, domain.StatusOptimal, out.Results[0].Status)

	require.Len(t, journal.saved, 1)
	run := journal.saved[0]
	assert.Equal(t, out.RunID, run.ID)
	assert.Equal(t, 1, run.Strategies)
	assert.Equal(t, 1, run.Optimal)
	assert.Equal(t, len(out.NettedTrades), run.NettedTrades)
	assert.Len(t, archive.saved, 1)
}

func TestService_JournalFailureDoesNotFailRun(t *testing.T) {
	journal := &recordingJournal{err: errors.New("disk full")}
	svc := newTestService(journal, nil)

	out, err := svc.Run(context.Background(), bundle.Request{
		Input:    testInput(growthStrategy()),
		Settings: map[string]domain.Settings{"growth": growthSettings()},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out.RunID)
}

func TestService_InvalidInputIsNotJournaled(t *testing.T) {
	journal := &recordingJournal{}
	svc := newTestService(journal, nil)

	input := testInput(growthStrategy())
	input.CurrentDate = time.Time{}

	_, err := svc.Run(context.Background(), bundle.Request{Input: input})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, journal.saved)
}
