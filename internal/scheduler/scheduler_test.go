package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forwarding-audit-go/internal/config"
	"forwarding-audit-go/internal/report"
)

type fakeSubmitter struct {
	mu   sync.Mutex
	reqs []report.Request
	err  error
}

func (f *fakeSubmitter) Submit(req report.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.reqs = append(f.reqs, req)
	return fmt.Sprintf("job-%d", len(f.reqs)), nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

// blockingSubmitter holds a cron tick inside Submit until released.
type blockingSubmitter struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingSubmitter) Submit(req report.Request) (string, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return "job-tick", nil
}

func TestStopWaitsForRunningTickWithoutDeadlock(t *testing.T) {
	sub := &blockingSubmitter{entered: make(chan struct{}), release: make(chan struct{})}
	s := NewScheduler(config.SchedulerConfig{Cron: "* * * * * *"}, sub)
	require.NoError(t, s.Start())

	select {
	case <-sub.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("cron tick did not fire")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	require.Eventually(t, func() bool { return !s.IsRunning() }, time.Second, 5*time.Millisecond)
	close(sub.release)

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the tick finished")
	}
	assert.Equal(t, "job-tick", s.Status().LastJobID)
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(config.SchedulerConfig{Cron: "0 0 6 * * *"}, &fakeSubmitter{})

	assert.False(t, s.IsRunning())

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start())

	st := s.Status()
	assert.True(t, st.Running)
	assert.Equal(t, 6, st.NextRun.Hour())

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.True(t, s.Status().NextRun.IsZero())

	// A restart must not duplicate the cron entry.
	require.NoError(t, s.Start())
	assert.Len(t, s.cron.Entries(), 1)
	require.NoError(t, s.Stop())
}

func TestSchedulerInvalidCron(t *testing.T) {
	s := NewScheduler(config.SchedulerConfig{Cron: "every morning"}, &fakeSubmitter{})
	assert.Error(t, s.Start())
	assert.False(t, s.IsRunning())
}

func TestSchedulerRunOnce(t *testing.T) {
	sub := &fakeSubmitter{}
	s := NewScheduler(config.SchedulerConfig{Cron: "0 0 6 * * *"}, sub)

	id, err := s.RunOnce()
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)
	assert.Equal(t, report.VariantFull, sub.reqs[0].Variant)
	assert.Equal(t, "job-1", s.Status().LastJobID)

	sub.err = errors.New("job queue is full")
	_, err = s.RunOnce()
	assert.Error(t, err)
	assert.Equal(t, "job queue is full", s.Status().LastError)
}

func TestSchedulerFires(t *testing.T) {
	sub := &fakeSubmitter{}
	s := NewScheduler(config.SchedulerConfig{Cron: "* * * * * *"}, sub)

	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool { return sub.count() > 0 }, 3*time.Second, 50*time.Millisecond)
}
