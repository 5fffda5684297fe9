package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eelnxz09/anamoly-processing/internal/domain"
)

func TestChannelBus(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()

	ctx := context.Background()

	t.Run("PublishSubscribe", func(t *testing.T) {
		var mu sync.Mutex
		var received []*domain.Message
		done := make(chan struct{})

		sub, err := b.Subscribe(ctx, domain.TopicBatchStored, func(ctx context.Context, msg *domain.Message) error {
			mu.Lock()
			received = append(received, msg)
			mu.Unlock()
			close(done)
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		defer sub.Unsubscribe()

		if err := b.Publish(ctx, domain.TopicBatchStored, []byte(`{"rows":3}`)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for message")
		}

		mu.Lock()
		defer mu.Unlock()
		if len(received) != 1 {
			t.Fatalf("expected 1 message, got %d", len(received))
		}
		if received[0].Topic != domain.TopicBatchStored {
			t.Errorf("unexpected topic %s", received[0].Topic)
		}
		if string(received[0].Payload) != `{"rows":3}` {
			t.Errorf("unexpected payload %s", received[0].Payload)
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		var count atomic.Int64

		sub, err := b.Subscribe(ctx, domain.TopicModelTrained, func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		defer sub.Unsubscribe()

		_ = b.Publish(ctx, domain.TopicRiskCritical, []byte("x"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 0 {
			t.Errorf("expected no messages on other topic, got %d", count.Load())
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int64

		sub, err := b.Subscribe(ctx, domain.TopicRiskCritical, func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}

		_ = sub.Unsubscribe()
		_ = b.Publish(ctx, domain.TopicRiskCritical, []byte("x"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 0 {
			t.Errorf("expected no messages after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := b.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	b := NewChannelBus(10)
	ctx := context.Background()

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := b.Publish(ctx, domain.TopicBatchStored, []byte("x")); err == nil {
		t.Error("expected publish to fail on closed bus")
	}
	if _, err := b.Subscribe(ctx, domain.TopicBatchStored, nil); err == nil {
		t.Error("expected subscribe to fail on closed bus")
	}
	if err := b.Ping(ctx); err == nil {
		t.Error("expected ping to fail on closed bus")
	}

	// Double close is a no-op
	if err := b.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		b, err := New(domain.EventBusConfig{Type: "channel"})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer b.Close()

		if _, ok := b.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
