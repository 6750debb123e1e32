package pipeline

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/cognify/pkg/domain"
)

func TestBroadcasterDeliversPerRun(t *testing.T) {
	b := NewBroadcaster()
	runA, runB := uuid.New(), uuid.New()

	chA, cancelA := b.Subscribe(runA)
	defer cancelA()
	chB, cancelB := b.Subscribe(runB)
	defer cancelB()

	b.Publish(domain.Event{RunID: runA, Kind: domain.EventRunStarted})

	select {
	case ev := <-chA:
		assert.Equal(t, domain.EventRunStarted, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("subscriber A received nothing")
	}
	select {
	case <-chB:
		t.Fatal("subscriber B got another run's event")
	default:
	}
}

func TestBroadcasterDropsOldestWhenFull(t *testing.T) {
	b := NewBroadcaster()
	runID := uuid.New()
	ch, cancel := b.Subscribe(runID)
	defer cancel()

	// Overfill the buffer; a slow subscriber must never block Publish.
	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(domain.Event{RunID: runID, Stage: "s", Kind: domain.EventStageStarted, Time: time.Unix(int64(i), 0)})
	}

	var got []domain.Event
	for {
		select {
		case ev := <-ch:
			got = append(got, ev)
			continue
		default:
		}
		break
	}
	require.Len(t, got, subscriberBuffer)
	// The oldest events were evicted, the newest survived.
	assert.Equal(t, int64(subscriberBuffer+9), got[len(got)-1].Time.Unix())
}

func TestBroadcasterCloseRun(t *testing.T) {
	b := NewBroadcaster()
	runID := uuid.New()
	ch, _ := b.Subscribe(runID)

	b.CloseRun(runID)
	_, open := <-ch
	assert.False(t, open)

	// Publishing to a closed run is a no-op.
	b.Publish(domain.Event{RunID: runID})
}

func TestBroadcasterCancelIsIdempotent(t *testing.T) {
	b := NewBroadcaster()
	runID := uuid.New()
	_, cancel := b.Subscribe(runID)
	cancel()
	cancel()
	b.CloseRun(runID)
}
