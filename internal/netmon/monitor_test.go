package netmon

import (
	"testing"
	"time"

	"chatsync/internal/bus"
)

func TestInitialStateUnknown(t *testing.T) {
	m := NewMonitor(nil)
	if m.Connected() {
		t.Error("monitor connected before probe")
	}
}

func TestResolveSetsInitialStateSilently(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("net.", 10)
	defer unsub()

	m := NewMonitor(b)
	m.Resolve(func() bool { return true })

	if !m.Connected() {
		t.Error("probe result not applied")
	}
	select {
	case evt := <-ch:
		t.Errorf("probe published %q, want no event", evt.Kind)
	default:
	}
}

func TestEdgeTriggeredEvents(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("net.", 10)
	defer unsub()

	m := NewMonitor(b)
	m.Resolve(func() bool { return true })

	// Repeated observation of the current state publishes nothing.
	if err := m.Set(true); err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-ch:
		t.Fatalf("no-op observation published %q", evt.Kind)
	default:
	}

	if err := m.Set(false); err != nil {
		t.Fatal(err)
	}
	if err := m.Set(true); err != nil {
		t.Fatal(err)
	}

	want := []string{bus.KindNetDisconnected, bus.KindNetConnected}
	for _, kind := range want {
		select {
		case evt := <-ch:
			if evt.Kind != kind {
				t.Errorf("event kind = %q, want %q", evt.Kind, kind)
			}
			change, ok := evt.Payload.(Change)
			if !ok {
				t.Fatalf("payload type = %T", evt.Payload)
			}
			if change.Since.IsZero() {
				t.Error("transition time not stamped")
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s", kind)
		}
	}
}

func TestExactlyOneEventPerEdge(t *testing.T) {
	b := bus.New()
	first, unsub1 := b.Subscribe("net.", 10)
	defer unsub1()
	second, unsub2 := b.Subscribe("net.", 10)
	defer unsub2()

	m := NewMonitor(b)
	m.Resolve(func() bool { return false })
	if err := m.Set(true); err != nil {
		t.Fatal(err)
	}

	// Every subscriber sees the edge once.
	for _, ch := range []<-chan bus.Event{first, second} {
		select {
		case evt := <-ch:
			if evt.Kind != bus.KindNetConnected {
				t.Errorf("kind = %q", evt.Kind)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber missed edge")
		}
		select {
		case evt := <-ch:
			t.Errorf("second event %q for a single edge", evt.Kind)
		default:
		}
	}
}
