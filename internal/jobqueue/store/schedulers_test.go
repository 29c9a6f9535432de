package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/martokk/jobqueued/internal/jobqueue/domain"
)

func TestCreateSchedulerValidatesRepeatInterval(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateScheduler(domain.JobSchedulerCreate{
		EnvName:     "dev",
		Name:        "bad repeat",
		TriggerType: domain.TriggerRepeat,
	})
	require.Error(t, err)
}

func TestSchedulerDueAfterInterval(t *testing.T) {
	s := newTestStore(t)

	interval := 60
	sched, err := s.CreateScheduler(domain.JobSchedulerCreate{
		EnvName:         "dev",
		Name:            "every minute",
		TriggerType:     domain.TriggerRepeat,
		RepeatEverySecs: &interval,
		Enabled:         true,
	})
	require.NoError(t, err)
	require.True(t, sched.Due(time.Now()))

	now := time.Now().Unix()
	require.NoError(t, s.MarkFired(sched.ID, now))

	refreshed, err := s.GetScheduler(sched.ID)
	require.NoError(t, err)
	require.False(t, refreshed.Due(time.Unix(now+30, 0)))
	require.True(t, refreshed.Due(time.Unix(now+61, 0)))
}

func TestListOnStartSchedulers(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateScheduler(domain.JobSchedulerCreate{
		EnvName: "dev", Name: "boot", TriggerType: domain.TriggerOnStart, Enabled: true,
	})
	require.NoError(t, err)

	interval := 30
	_, err = s.CreateScheduler(domain.JobSchedulerCreate{
		EnvName: "dev", Name: "tick", TriggerType: domain.TriggerRepeat,
		RepeatEverySecs: &interval, Enabled: true,
	})
	require.NoError(t, err)

	onStart, err := s.ListOnStartSchedulers()
	require.NoError(t, err)
	require.Len(t, onStart, 1)
	require.Equal(t, "boot", onStart[0].Name)
}
