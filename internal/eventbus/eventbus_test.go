package eventbus

import (
	"testing"

	"github.com/secutrans/convoy/core/events"
	"github.com/secutrans/convoy/core/model"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	defer b.Close()
	sub := b.Subscribe()

	b.Publish(events.AssignmentBound{AssignmentID: "a1"})
	got := <-sub
	ev, ok := got.(events.AssignmentBound)
	if !ok || ev.AssignmentID != "a1" {
		t.Fatalf("got %#v", got)
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := New()
	defer b.Close()
	b.Subscribe() // never drained

	for i := 0; i < subscriberBuffer*2; i++ {
		b.Publish(events.ExpansionCompleted{Date: model.NewDate(2024, 3, 5)})
	}
	// Reaching here without deadlock is the assertion.
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	defer b.Close()
	sub := b.Subscribe()
	b.Unsubscribe(sub)
	if _, open := <-sub; open {
		t.Fatal("channel still open after unsubscribe")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	b.Close()
	b.Close()
	if _, open := <-sub; open {
		t.Fatal("channel still open after close")
	}
	b.Publish(events.AssignmentCancelled{}) // no panic
	if sub2 := b.Subscribe(); sub2 == nil {
		t.Fatal("subscribe after close returned nil")
	}
}
