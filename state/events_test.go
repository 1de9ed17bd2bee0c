package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventRegistryDelivers(t *testing.T) {
	r := NewEventRegistry()
	sub := r.Subscribe(4)
	defer sub.Unsubscribe()

	r.Publish(NeighborEvent{Type: NeighborUp, IfName: "iface1"})
	ev := <-sub.C
	assert.Equal(t, NeighborUp, ev.Type)
	assert.Equal(t, "iface1", ev.IfName)
}

// A slow subscriber loses the oldest event, never blocks the publisher.
func TestEventRegistryDropsOldestOnOverflow(t *testing.T) {
	r := NewEventRegistry()
	sub := r.Subscribe(2)
	defer sub.Unsubscribe()

	r.Publish(NeighborEvent{Type: NeighborUp})
	r.Publish(NeighborEvent{Type: NeighborRestarting})
	r.Publish(NeighborEvent{Type: NeighborDown})

	assert.EqualValues(t, 1, sub.Dropped.Load())
	ev := <-sub.C
	assert.Equal(t, NeighborRestarting, ev.Type)
	ev = <-sub.C
	assert.Equal(t, NeighborDown, ev.Type)
}

func TestEventRegistryUnsubscribe(t *testing.T) {
	r := NewEventRegistry()
	sub := r.Subscribe(1)
	sub.Unsubscribe()

	r.Publish(NeighborEvent{Type: NeighborUp})
	select {
	case ev, ok := <-sub.C:
		if ok {
			t.Fatalf("unexpected event after unsubscribe: %v", ev.Type)
		}
	default:
	}
}

func TestEventRegistryClose(t *testing.T) {
	r := NewEventRegistry()
	sub := r.Subscribe(1)
	r.Close()

	_, ok := <-sub.C
	assert.False(t, ok, "channel must be closed")
}

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "NEIGHBOR_UP", NeighborUp.String())
	assert.Equal(t, "NEIGHBOR_DOWN", NeighborDown.String())
	assert.Equal(t, "NEIGHBOR_RESTARTING", NeighborRestarting.String())
	assert.Equal(t, "NEIGHBOR_RESTARTED", NeighborRestarted.String())
	assert.Equal(t, "NEIGHBOR_RTT_CHANGE", NeighborRttChange.String())
}
