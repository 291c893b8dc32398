package stream

import (
	"testing"
	"time"

	"github.com/hookci/hookci/model"
)

func TestChanSet_BroadcastsToAllSubscribers(t *testing.T) {
	set := newChanSet()
	a := set.subscribe()
	b := set.subscribe()

	set.broadcast(model.PipelineStart{TotalSteps: 1})

	select {
	case ev := <-a:
		if _, ok := ev.(model.PipelineStart); !ok {
			t.Fatalf("unexpected event on a: %#v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast on subscriber a")
	}

	select {
	case ev := <-b:
		if _, ok := ev.(model.PipelineStart); !ok {
			t.Fatalf("unexpected event on b: %#v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast on subscriber b")
	}
}

func TestChanSet_UnsubscribeClosesChannel(t *testing.T) {
	set := newChanSet()
	ch := set.subscribe()
	set.unsubscribe(ch)

	_, ok := <-ch
	if ok {
		t.Fatal("expected the channel to be closed after unsubscribe")
	}
}

func TestChanSet_SlowSubscriberIsDroppedNotBlocked(t *testing.T) {
	set := newChanSet()
	ch := set.subscribe() // a consumer that never reads; its buffer fills fast

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			set.broadcast(model.PipelineStart{TotalSteps: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow subscriber instead of dropping")
	}
	_ = ch
}

func TestChanSet_CloseAllClosesEverySubscriber(t *testing.T) {
	set := newChanSet()
	a := set.subscribe()
	b := set.subscribe()

	set.closeAll()

	if _, ok := <-a; ok {
		t.Fatal("expected a to be closed")
	}
	if _, ok := <-b; ok {
		t.Fatal("expected b to be closed")
	}
}

func TestChanSet_SubscribeAfterCloseReturnsClosedChannel(t *testing.T) {
	set := newChanSet()
	set.closeAll()

	ch := set.subscribe()
	if _, ok := <-ch; ok {
		t.Fatal("expected a post-close subscribe to return an already-closed channel")
	}
}
