package bus

import "testing"

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := New()
	id1, ch1 := b.Subscribe(4)
	id2, ch2 := b.Subscribe(4)
	defer b.Unsubscribe(id1)
	defer b.Unsubscribe(id2)

	b.Publish(EventOrderUpdated, "order-1")

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			if evt.Type != EventOrderUpdated {
				t.Errorf("subscriber %d got type %s, want order_updated", i, evt.Type)
			}
			if evt.Payload != "order-1" {
				t.Errorf("subscriber %d got payload %v", i, evt.Payload)
			}
		default:
			t.Fatalf("subscriber %d received nothing", i)
		}
	}
}

func TestSlowSubscriberDropsNotBlocks(t *testing.T) {
	b := New()
	id, ch := b.Subscribe(1)
	defer b.Unsubscribe(id)

	// Publishing past the buffer must not block the publisher.
	b.Publish(EventTick, 1)
	b.Publish(EventTick, 2)
	b.Publish(EventTick, 3)

	evt := <-ch
	if evt.Payload != 1 {
		t.Errorf("first buffered event payload = %v, want 1", evt.Payload)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected second event %v after overflow", extra.Payload)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	id, ch := b.Subscribe(1)
	b.Unsubscribe(id)

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	b.Publish(EventPositionChanged, nil)

	// Double unsubscribe is a no-op.
	b.Unsubscribe(id)
}
