package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pardeema/bot-attack-simulator/pkg/event"
)

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	ctx := context.Background()
	sub, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	want := event.NewProgress(event.Progress{ID: 1, Message: "hello"})
	if err := b.Publish(ctx, want); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case env := <-sub.Events():
		if env.Kind != event.KindProgress {
			t.Errorf("Kind = %q, want %q", env.Kind, event.KindProgress)
		}
		p, ok := env.Payload.(event.Progress)
		if !ok || p.Message != "hello" {
			t.Errorf("unexpected payload: %+v", env.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for event")
	}
}

func TestMemoryBus_NoDuplicatesNoDrops(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	ctx := context.Background()
	sub, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	const n = 50
	done := make(chan []int)
	go func() {
		var got []int
		for env := range sub.Events() {
			if o, ok := env.Payload.(event.Outcome); ok {
				got = append(got, o.ID)
			}
			if len(got) == n {
				break
			}
		}
		done <- got
	}()

	for i := 1; i <= n; i++ {
		if err := b.Publish(ctx, event.NewOutcome(event.Outcome{ID: i})); err != nil {
			t.Fatalf("Publish %d failed: %v", i, err)
		}
	}

	select {
	case got := <-done:
		for i, id := range got {
			if id != i+1 {
				t.Fatalf("event %d has id %d, want %d (order/duplication broken)", i, id, i+1)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout: draining subscriber lost events")
	}
}

func TestMemoryBus_MidRunAttachSeesOnlyTail(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	ctx := context.Background()
	if err := b.Publish(ctx, event.NewOutcome(event.Outcome{ID: 1})); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	sub, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	if err := b.Publish(ctx, event.NewOutcome(event.Outcome{ID: 2})); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case env := <-sub.Events():
		o := env.Payload.(event.Outcome)
		if o.ID != 2 {
			t.Errorf("late subscriber got id %d, want 2 (no replay expected)", o.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for event")
	}
}

func TestMemoryBus_UnsubscribeDuringDelivery(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	ctx := context.Background()
	subs := make([]Subscription, 10)
	for i := range subs {
		sub, err := b.Subscribe(ctx)
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		subs[i] = sub
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = b.Publish(ctx, event.NewProgress(event.Progress{ID: i}))
		}
	}()
	go func() {
		defer wg.Done()
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}()
	wg.Wait()
}

func TestMemoryBus_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	ctx := context.Background()
	sub, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	// Never drain; publish far past the buffer size.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriptionBuffer*3; i++ {
			_ = b.Publish(ctx, event.NewProgress(event.Progress{ID: i}))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a stalled subscriber")
	}
}

func TestMemoryBus_ClosedBusRejectsOperations(t *testing.T) {
	b := NewMemoryBus()
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ctx := context.Background()
	if err := b.Publish(ctx, event.NewFinished(event.Finished{})); err != ErrClosed {
		t.Errorf("Publish on closed bus = %v, want ErrClosed", err)
	}
	if _, err := b.Subscribe(ctx); err != ErrClosed {
		t.Errorf("Subscribe on closed bus = %v, want ErrClosed", err)
	}
}
