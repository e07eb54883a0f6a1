package scheduler

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
	runs atomic.Int64
	err  error
}

func (j *countingJob) Run() error {
	j.runs.Add(1)
	return j.err
}

func (j *countingJob) Name() string {
	return j.name
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "probe"}

	require.NoError(t, s.RunNow(job))
	assert.Equal(t, int64(1), job.runs.Load())
}

func TestScheduler_RunNow_PropagatesError(t *testing.T) {
	s := New(zerolog.Nop())
	boom := errors.New("boom")
	job := &countingJob{name: "probe", err: boom}

	assert.ErrorIs(t, s.RunNow(job), boom)
}

func TestScheduler_AddJob_RejectsBadSchedule(t *testing.T) {
	s := New(zerolog.Nop())

	assert.Error(t, s.AddJob("not a schedule", &countingJob{name: "probe"}))
}

func TestScheduler_RunsRegisteredJobs(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "probe"}

	require.NoError(t, s.AddJob("@every 20ms", job))

	s.Start()
	time.Sleep(250 * time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, job.runs.Load(), int64(1))
}

func TestScheduler_JobErrorDoesNotStopSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "probe", err: errors.New("boom")}

	require.NoError(t, s.AddJob("@every 20ms", job))

	s.Start()
	time.Sleep(250 * time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, job.runs.Load(), int64(2))
}
