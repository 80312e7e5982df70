package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBroadcastTableDeliversToAllSubscribers(t *testing.T) {
	b := newBroadcastTable()
	ch1, unsub1 := b.subscribe("job-1")
	ch2, unsub2 := b.subscribe("job-1")
	defer unsub1()
	defer unsub2()

	b.broadcast("job-1", Event{Type: EventStage, JobID: "job-1"})

	require.Equal(t, EventStage, (<-ch1).Type)
	require.Equal(t, EventStage, (<-ch2).Type)
}

func TestBroadcastTableIgnoresJobsWithNoSubscribers(t *testing.T) {
	b := newBroadcastTable()
	require.NotPanics(t, func() {
		b.broadcast("no-such-job", Event{Type: EventComplete})
	})
}

func TestBroadcastTableDropsEventsForFullSubscriberBuffer(t *testing.T) {
	b := newBroadcastTable()
	ch, unsub := b.subscribe("job-1")
	defer unsub()

	for i := 0; i < 64; i++ {
		b.broadcast("job-1", Event{Type: EventStage})
	}

	require.NotPanics(t, func() {
		select {
		case <-ch:
		default:
		}
	})
}

func TestUnsubscribeClosesChannelAndStopsDelivery(t *testing.T) {
	b := newBroadcastTable()
	ch, unsub := b.subscribe("job-1")
	unsub()

	b.broadcast("job-1", Event{Type: EventComplete})

	_, ok := <-ch
	require.False(t, ok)
}

func TestDropAllClosesEveryChannelForJob(t *testing.T) {
	b := newBroadcastTable()
	ch1, _ := b.subscribe("job-1")
	ch2, _ := b.subscribe("job-1")

	b.dropAll("job-1")

	_, ok1 := <-ch1
	_, ok2 := <-ch2
	require.False(t, ok1)
	require.False(t, ok2)
}
