package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cloudresty/mongocore/description"
	"github.com/cloudresty/mongocore/transport"
	"github.com/cloudresty/mongocore/wire"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func standaloneReply(t *testing.T) []byte {
	t.Helper()
	doc, err := bson.Marshal(bson.D{
		{Key: "ok", Value: float64(1)},
		{Key: "isWritablePrimary", Value: true},
		{Key: "maxWireVersion", Value: int32(21)},
		{Key: "minWireVersion", Value: int32(0)},
	})
	if err != nil {
		t.Fatalf("marshal reply: %v", err)
	}
	frame, err := wire.EncodeOpMsg(1, bson.Raw(doc), nil)
	if err != nil {
		t.Fatalf("encode OP_MSG: %v", err)
	}
	return frame
}

// TestMonitorPublishesStandaloneOnFirstProbe covers the monitor half of
// discovery: a fresh standalone reply yields a Standalone description
// with RTT recorded.
func TestMonitorPublishesStandaloneOnFirstProbe(t *testing.T) {
	mock := transport.NewMock(standaloneReply(t), standaloneReply(t))

	var mu sync.Mutex
	var published []description.Server
	m := New(1, "a:27017", Config{HeartbeatFrequency: 50 * time.Millisecond}, func(s description.Server) {
		mu.Lock()
		published = append(published, s)
		mu.Unlock()
	}, nil, nil)
	m.dial = func(ctx context.Context, addr string, opts transport.Options) (transport.Stream, error) {
		return mock, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(published)
		mu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a published description")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if published[0].Kind != description.Standalone {
		t.Fatalf("expected Standalone, got %v", published[0].Kind)
	}
	if !published[0].AverageRTTSet {
		t.Fatalf("expected RTT to be recorded on a polling probe")
	}
}

func TestMonitorFailureProducesUnknownAndBumpsGeneration(t *testing.T) {
	var bumped []string
	m := New(1, "a:27017", Config{
		HeartbeatFrequency: 20 * time.Millisecond,
		GenerationBumper:   func(addr string) { bumped = append(bumped, addr) },
	}, func(description.Server) {}, nil, nil)
	m.dial = func(ctx context.Context, addr string, opts transport.Options) (transport.Stream, error) {
		return nil, context.DeadlineExceeded
	}

	var mu sync.Mutex
	var published []description.Server
	m.publish = func(s description.Server) {
		mu.Lock()
		published = append(published, s)
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(published)
		mu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a failure description")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if published[0].Kind != description.Unknown {
		t.Fatalf("expected Unknown on connect failure, got %v", published[0].Kind)
	}
	if published[0].LastError == nil {
		t.Fatalf("expected LastError to be set")
	}
	if len(bumped) == 0 {
		t.Fatalf("expected generation bump on network failure")
	}
}
