package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		var received atomic.Bool
		var receivedMsg *domain.Message

		var wg sync.WaitGroup
		wg.Add(1)

		_, err := bus.Subscribe(ctx, "test.topic", func(ctx context.Context, msg *domain.Message) error {
			receivedMsg = msg
			received.Store(true)
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		// Allow subscription to be active
		time.Sleep(10 * time.Millisecond)

		err = bus.Publish(ctx, "test.topic", []byte("hello"))
		if err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		// Wait for message
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			// Success
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}

		if !received.Load() {
			t.Error("message not received")
		}

		if string(receivedMsg.Payload) != "hello" {
			t.Errorf("expected payload 'hello', got '%s'", string(receivedMsg.Payload))
		}
		if receivedMsg.Topic != "test.topic" {
			t.Errorf("expected topic 'test.topic', got '%s'", receivedMsg.Topic)
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		var receivedA atomic.Int32
		var receivedB atomic.Int32

		bus.Subscribe(ctx, "isolation.a", func(ctx context.Context, msg *domain.Message) error {
			receivedA.Add(1)
			return nil
		})

		bus.Subscribe(ctx, "isolation.b", func(ctx context.Context, msg *domain.Message) error {
			receivedB.Add(1)
			return nil
		})

		time.Sleep(10 * time.Millisecond)

		bus.Publish(ctx, "isolation.a", []byte("msg1"))
		time.Sleep(50 * time.Millisecond)

		if receivedA.Load() != 1 {
			t.Errorf("topic a should receive 1 message, got %d", receivedA.Load())
		}
		if receivedB.Load() != 0 {
			t.Errorf("topic b should receive 0 messages, got %d", receivedB.Load())
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var count atomic.Int32
		var wg sync.WaitGroup
		wg.Add(2)

		for i := 0; i < 2; i++ {
			bus.Subscribe(ctx, "fanout.topic", func(ctx context.Context, msg *domain.Message) error {
				count.Add(1)
				wg.Done()
				return nil
			})
		}

		time.Sleep(10 * time.Millisecond)
		bus.Publish(ctx, "fanout.topic", []byte("broadcast"))

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for fanout")
		}

		if count.Load() != 2 {
			t.Errorf("expected 2 deliveries, got %d", count.Load())
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, err := bus.Subscribe(ctx, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		time.Sleep(10 * time.Millisecond)
		sub.Unsubscribe()

		bus.Publish(ctx, "unsub.topic", []byte("after"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 0 {
			t.Errorf("expected 0 messages after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

func TestChannelBusPipelineTopics(t *testing.T) {
	bus := NewChannelBus(10)
	defer bus.Close()

	ctx := context.Background()

	var alertBatches atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)

	_, err := bus.Subscribe(ctx, domain.TopicAlertBatch, func(ctx context.Context, msg *domain.Message) error {
		alertBatches.Add(1)
		wg.Done()
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if err := bus.Publish(ctx, domain.TopicAlertBatch, []byte(`{"alertCount":3}`)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for alert batch event")
	}

	if alertBatches.Load() != 1 {
		t.Errorf("expected 1 alert batch event, got %d", alertBatches.Load())
	}
}

func TestChannelBusClosed(t *testing.T) {
	bus := NewChannelBus(10)
	bus.Close()

	ctx := context.Background()

	if err := bus.Publish(ctx, "any.topic", []byte("x")); err == nil {
		t.Error("expected error publishing to a closed bus")
	}
	if _, err := bus.Subscribe(ctx, "any.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	}); err == nil {
		t.Error("expected error subscribing to a closed bus")
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping to fail on a closed bus")
	}
}

func TestBusFactory(t *testing.T) {
	t.Run("Channel", func(t *testing.T) {
		b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 10})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer b.Close()

		if _, ok := b.(*ChannelBus); !ok {
			t.Errorf("expected *ChannelBus, got %T", b)
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		_, err := New(domain.EventBusConfig{Type: "kafka"})
		if err == nil {
			t.Fatal("expected error for unsupported bus type")
		}
	})
}
