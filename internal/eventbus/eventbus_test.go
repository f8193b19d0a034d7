package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, sub *Subscription, timeout time.Duration) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(timeout)
	for {
		select {
		case e, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-deadline:
			return out
		}
	}
}

func TestPublish_DeliversInOrderToLiveSubscriber(t *testing.T) {
	b := New(100)
	sub := b.Subscribe("job-1", false, 10)

	b.Publish(Event{JobID: "job-1", Type: TypeStarted})
	b.Publish(Event{JobID: "job-1", Type: TypeStep})
	b.Publish(Event{JobID: "job-1", Type: TypeComplete})

	events := drain(t, sub, time.Second)
	require.Len(t, events, 3)
	assert.Equal(t, TypeStarted, events[0].Type)
	assert.Equal(t, TypeStep, events[1].Type)
	assert.Equal(t, TypeComplete, events[2].Type)
}

func TestSubscribe_ReplayDeliversBufferedEventsFirst(t *testing.T) {
	b := New(100)
	b.Publish(Event{JobID: "job-2", Type: TypeStarted})
	b.Publish(Event{JobID: "job-2", Type: TypeStep})

	sub := b.Subscribe("job-2", true, 10)
	b.Publish(Event{JobID: "job-2", Type: TypeComplete})

	events := drain(t, sub, time.Second)
	require.Len(t, events, 3)
	assert.Equal(t, TypeStarted, events[0].Type)
	assert.Equal(t, TypeStep, events[1].Type)
	assert.Equal(t, TypeComplete, events[2].Type)
}

func TestSubscribe_NoReplaySkipsBufferedEvents(t *testing.T) {
	b := New(100)
	b.Publish(Event{JobID: "job-3", Type: TypeStarted})

	sub := b.Subscribe("job-3", false, 10)
	b.Publish(Event{JobID: "job-3", Type: TypeComplete})

	events := drain(t, sub, time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, TypeComplete, events[0].Type)
}

func TestPublish_TerminalEventClosesAllSubscriptions(t *testing.T) {
	b := New(100)
	sub1 := b.Subscribe("job-4", false, 10)
	sub2 := b.Subscribe("job-4", false, 10)

	b.Publish(Event{JobID: "job-4", Type: TypeCancelled})

	_, ok1 := <-sub1.C
	_, ok2 := <-sub2.C
	assert.False(t, ok1)
	assert.False(t, ok2)
}

func TestSubscribe_AfterTerminalGetsClosedChannelImmediately(t *testing.T) {
	b := New(100)
	b.Publish(Event{JobID: "job-5", Type: TypeComplete})

	sub := b.Subscribe("job-5", false, 10)
	_, ok := <-sub.C
	assert.False(t, ok)
}

func TestBuffer_BoundedToLimit(t *testing.T) {
	b := New(3)
	for i := 0; i < 5; i++ {
		b.Publish(Event{JobID: "job-6", Type: TypeStep})
	}
	buf := b.Buffer("job-6")
	assert.Len(t, buf, 3)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	b := New(10)
	sub := b.Subscribe("job-7", false, 10)
	sub.Unsubscribe()

	// Publishing after Unsubscribe must not panic or block.
	b.Publish(Event{JobID: "job-7", Type: TypeStep})

	_, ok := <-sub.C
	assert.False(t, ok)
}

func TestEventOrdering_DistinctJobsIndependent(t *testing.T) {
	b := New(10)
	subA := b.Subscribe("job-A", false, 10)
	subB := b.Subscribe("job-B", false, 10)

	b.Publish(Event{JobID: "job-A", Type: TypeStarted})
	b.Publish(Event{JobID: "job-B", Type: TypeStarted})
	b.Publish(Event{JobID: "job-A", Type: TypeComplete})
	b.Publish(Event{JobID: "job-B", Type: TypeComplete})

	eventsA := drain(t, subA, time.Second)
	eventsB := drain(t, subB, time.Second)
	require.Len(t, eventsA, 2)
	require.Len(t, eventsB, 2)
}
