package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribeDelivers(t *testing.T) {
	b := New()
	sub := b.Subscribe("match/m1")
	defer sub.Unsubscribe()

	b.Publish("match/m1", "status", map[string]string{"status": "InProgress"})

	select {
	case ev := <-sub.Events:
		if ev.Name != "status" || ev.Topic != "match/m1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestReplayAfterReturnsBufferedEvents(t *testing.T) {
	b := New()
	sub := b.Subscribe("match/m1")
	defer sub.Unsubscribe()

	ev1 := b.Publish("match/m1", "status", "a")
	b.Publish("match/m1", "status", "b")

	// Publish only stages events; they enter the replay buffer when the
	// topic's worker delivers them, so wait until the subscriber has both.
	for i := 0; i < 2; i++ {
		select {
		case <-sub.Events:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for events to be delivered")
		}
	}

	replay := b.ReplayAfter("match/m1", ev1.EventID)
	if len(replay) != 1 {
		t.Fatalf("ReplayAfter(after ev1) = %d events, want 1", len(replay))
	}

	all := b.ReplayAfter("match/m1", "")
	if len(all) != 2 {
		t.Fatalf("ReplayAfter('') = %d events, want 2", len(all))
	}
}

func TestSubscribeLaggedOnOverflow(t *testing.T) {
	b := New()
	sub := b.Subscribe("match/m1")
	defer sub.Unsubscribe()

	for i := 0; i < defaultQueue+50; i++ {
		b.Publish("match/m1", "status", i)
	}

	sawLagged := false
	timeout := time.After(2 * time.Second)
	for !sawLagged {
		select {
		case ev := <-sub.Events:
			if ev.Name == "lagged" {
				sawLagged = true
			}
		case <-timeout:
			t.Fatal("timed out waiting for a lagged event under overflow")
		}
	}
}

func TestMatchTopicNaming(t *testing.T) {
	if got := MatchTopic("abc"); got != "match/abc" {
		t.Fatalf("MatchTopic(abc) = %q, want match/abc", got)
	}
}
