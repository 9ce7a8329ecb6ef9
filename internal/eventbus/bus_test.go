package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Event{Type: TypeTaskFired, Data: 42})

	select {
	case ev := <-ch:
		if ev.Type != TypeTaskFired || ev.Data != 42 {
			t.Fatalf("unexpected event: %+v", ev)
		}
		if ev.Time.IsZero() {
			t.Fatal("publish did not stamp the event time")
		}
	default:
		t.Fatal("event not delivered")
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"}) // buffer full; dropped, not blocked

	ev := <-ch
	if ev.Type != "a" {
		t.Fatalf("first event lost: %+v", ev)
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected second event: %+v", ev)
	default:
	}
}

func TestUnsubscribeSafeConcurrentPublish(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: "x"})
		}
	}()
	time.Sleep(time.Millisecond)
	unsub()
	unsub() // double unsubscribe is a no-op
	<-done

	for range ch {
	}
}
