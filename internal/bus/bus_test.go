package bus

import (
	"testing"
	"time"

	"github.com/matheus3301/chatlink/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	b.Emit(KindStateChanged, "test")

	select {
	case evt := <-ch:
		if evt.Kind != KindStateChanged {
			t.Errorf("got kind %q, want %q", evt.Kind, KindStateChanged)
		}
		if evt.Timestamp.IsZero() {
			t.Error("timestamp not set")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(KindFramePrefix, 10)
	defer unsub()

	b.Emit(KindStateChanged, nil)
	b.Emit(FrameKind("friend_list"), nil)

	select {
	case evt := <-ch:
		if evt.Kind != "frame.friend_list" {
			t.Errorf("got kind %q, want frame.friend_list", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// The conn.* event must not leak into the frame.* subscription.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("conn.", 10)
	unsub()
	unsub()

	b.Emit(KindStateChanged, nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	b.Emit("test.one", nil)
	b.Emit("test.two", nil)

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
	if got := b.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}

func TestFullSubscriberCountsDroppedFrames(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(KindFramePrefix, 1)
	defer unsub()
	dropped := metrics.Dropped(metrics.DropBusFull)
	before := testutil.ToFloat64(dropped)

	b.Emit(FrameKind("chat"), nil)
	b.Emit(FrameKind("chat"), nil)
	b.Emit(KindStateChanged, nil)

	if got := testutil.ToFloat64(dropped) - before; got != 1 {
		t.Errorf("bus_full drops = %v, want 1", got)
	}
}
