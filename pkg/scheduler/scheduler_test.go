package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breakpoint-labs/havoc/pkg/types"
)

type firingRecorder struct {
	count int32
}

func (r *firingRecorder) execute(experimentID string) {
	atomic.AddInt32(&r.count, 1)
}

func (r *firingRecorder) fired() int32 {
	return atomic.LoadInt32(&r.count)
}

func oneOffExperiment(id string, start time.Time) types.Experiment {
	return types.Experiment{
		ID:      id,
		Enabled: true,
		Schedule: &types.Schedule{
			Type:      types.ScheduleOneOff,
			StartTime: start,
			Enabled:   true,
		},
	}
}

func TestOneOffFiresOnceAtStartTime(t *testing.T) {
	rec := &firingRecorder{}
	s := New(rec.execute)
	defer s.Stop()

	s.Schedule(oneOffExperiment("exp-1", time.Now().Add(30*time.Millisecond)))

	require.Eventually(t, func() bool { return rec.fired() == 1 }, 2*time.Second, 5*time.Millisecond)

	// one-off means exactly once
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), rec.fired())
}

func TestOneOffInThePastIsSkipped(t *testing.T) {
	rec := &firingRecorder{}
	s := New(rec.execute)
	defer s.Stop()

	s.Schedule(oneOffExperiment("exp-1", time.Now().Add(-time.Minute)))

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, rec.fired(), "past start times must not fire retroactively")
}

func TestUnscheduleCancelsPendingTimer(t *testing.T) {
	rec := &firingRecorder{}
	s := New(rec.execute)
	defer s.Stop()

	s.Schedule(oneOffExperiment("exp-1", time.Now().Add(50*time.Millisecond)))
	s.Unschedule("exp-1")

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, rec.fired())

	// unknown ids are a no-op
	s.Unschedule("never-registered")
}

func TestRecurringFiresRepeatedly(t *testing.T) {
	rec := &firingRecorder{}
	s := New(rec.execute)
	defer s.Stop()

	s.Schedule(types.Experiment{
		ID:      "exp-1",
		Enabled: true,
		Schedule: &types.Schedule{
			Type:     types.ScheduleRecurring,
			Interval: 20 * time.Millisecond,
			Enabled:  true,
		},
	})

	require.Eventually(t, func() bool { return rec.fired() >= 3 }, 2*time.Second, 5*time.Millisecond)

	s.Unschedule("exp-1")
	settled := rec.fired()
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, rec.fired(), settled+1, "cancelled ticker must stop firing")
}

func TestScheduleReplacesPreviousRegistration(t *testing.T) {
	rec := &firingRecorder{}
	s := New(rec.execute)
	defer s.Stop()

	s.Schedule(oneOffExperiment("exp-1", time.Now().Add(40*time.Millisecond)))
	// re-registering with a far-off start supersedes the imminent one
	s.Schedule(oneOffExperiment("exp-1", time.Now().Add(time.Hour)))

	time.Sleep(120 * time.Millisecond)
	assert.Zero(t, rec.fired())
}

func TestDisabledSchedulesNeverArm(t *testing.T) {
	rec := &firingRecorder{}
	s := New(rec.execute)
	defer s.Stop()

	exp := oneOffExperiment("exp-1", time.Now().Add(20*time.Millisecond))
	exp.Enabled = false
	s.Schedule(exp)

	exp2 := oneOffExperiment("exp-2", time.Now().Add(20*time.Millisecond))
	exp2.Schedule.Enabled = false
	s.Schedule(exp2)

	s.Schedule(types.Experiment{ID: "exp-3", Enabled: true})

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, rec.fired())
}

func TestStopCancelsEverything(t *testing.T) {
	rec := &firingRecorder{}
	s := New(rec.execute)

	s.Schedule(oneOffExperiment("exp-1", time.Now().Add(50*time.Millisecond)))
	s.Schedule(types.Experiment{
		ID:      "exp-2",
		Enabled: true,
		Schedule: &types.Schedule{
			Type:     types.ScheduleRecurring,
			Interval: 20 * time.Millisecond,
			Enabled:  true,
		},
	})

	s.Stop()
	settled := rec.fired()
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, settled, rec.fired())
}
