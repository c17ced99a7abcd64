package pool

import (
	"context"
	"testing"

	"github.com/cloudresty/mongocore/transport"
)

func dialMock(ctx context.Context, addr string) (transport.Stream, error) {
	return transport.NewMock(), nil
}

// TestGenerationInvalidation covers property 5: after a
// generation bump, any pooled handle with a generation at or below the
// pre-bump value is closed rather than handed back out.
func TestGenerationInvalidation(t *testing.T) {
	p := New(Config{MaxPoolSize: 2}, dialMock, nil)

	h, err := p.Pop(context.Background(), "a:27017")
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if h.Generation != 0 {
		t.Fatalf("expected initial generation 0, got %d", h.Generation)
	}
	p.Push(h)

	p.BumpGeneration("a:27017")

	got, err := p.Pop(context.Background(), "a:27017")
	if err != nil {
		t.Fatalf("Pop after bump: %v", err)
	}
	if got.Generation != 1 {
		t.Fatalf("expected a freshly-opened handle on generation 1, got %d", got.Generation)
	}
	mock, ok := h.Stream.(*transport.Mock)
	if !ok {
		t.Fatalf("expected *transport.Mock stream")
	}
	if _, err := mock.Write([]byte("x")); err == nil {
		t.Fatalf("expected the stale generation's stream to be closed")
	}
}

func TestTryPopReturnsFalseWhenExhausted(t *testing.T) {
	p := New(Config{MaxPoolSize: 1}, dialMock, nil)

	h, ok := p.TryPop("a:27017")
	if !ok || h == nil {
		t.Fatalf("expected first try_pop to succeed")
	}

	if _, ok := p.TryPop("a:27017"); ok {
		t.Fatalf("expected try_pop to return false once max_pool_size is reached")
	}

	p.Push(h)
	if _, ok := p.TryPop("a:27017"); !ok {
		t.Fatalf("expected try_pop to succeed again after push")
	}
}

func TestPushTrimsAboveMinPoolSize(t *testing.T) {
	p := New(Config{MinPoolSize: 0, MaxPoolSize: 4}, dialMock, nil)

	h1, _ := p.Pop(context.Background(), "a:27017")
	h2, _ := p.Pop(context.Background(), "a:27017")
	p.Push(h1)
	p.Push(h2)

	sp := p.serverPoolFor("a:27017")
	sp.mu.Lock()
	idle := len(sp.idle)
	size := sp.size
	sp.mu.Unlock()
	if idle != 1 {
		t.Fatalf("expected one idle handle trimmed down to min_pool_size=0+1 survivor, got %d", idle)
	}
	if size != 1 {
		t.Fatalf("expected pool size trimmed to 1, got %d", size)
	}
}
