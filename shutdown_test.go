package mongodb

import (
	"testing"
	"time"
)

func newUnreachableClient(t *testing.T) *Client {
	t.Helper()
	client, err := NewClient(
		WithHosts("127.0.0.1:1"),
		WithConnectTimeout(20*time.Millisecond),
		WithServerSelectionTimeout(20*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestShutdownManagerClosesRegisteredClients(t *testing.T) {
	client := newUnreachableClient(t)

	sm := NewShutdownManager(&ShutdownConfig{
		Timeout:          time.Second,
		GracePeriod:      10 * time.Millisecond,
		ForceKillTimeout: time.Second,
	})
	sm.Register(client)

	if got := sm.GetClientCount(); got != 1 {
		t.Fatalf("GetClientCount() = %d, want 1", got)
	}

	sm.shutdown()

	if client.IsConnected() {
		t.Fatal("client should be disconnected after shutdown")
	}
	// A second Close (idempotent) must not panic or error.
	if err := client.Close(); err != nil {
		t.Fatalf("Close after shutdown: %v", err)
	}
}

func TestShutdownManagerClosesRegisteredResources(t *testing.T) {
	client := newUnreachableClient(t)

	sm := NewShutdownManager(nil)
	sm.RegisterResources(client)

	sm.shutdown()

	if client.IsConnected() {
		t.Fatal("resource client should be disconnected after shutdown")
	}
}

func TestShutdownManagerWaitUnblocksOnSignal(t *testing.T) {
	client := newUnreachableClient(t)
	defer client.Close()

	sm := NewShutdownManager(&ShutdownConfig{Timeout: time.Second})
	sm.Register(client)

	done := make(chan struct{})
	go func() {
		sm.Wait()
		close(done)
	}()

	sm.shutdownChan <- testSignal{}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after a shutdown signal")
	}

	if client.IsConnected() {
		t.Fatal("client should be disconnected once Wait's shutdown completes")
	}
}

func TestShutdownManagerForceShutdown(t *testing.T) {
	client := newUnreachableClient(t)

	sm := NewShutdownManager(nil)
	sm.Register(client)
	sm.ForceShutdown()

	if client.IsConnected() {
		t.Fatal("client should be disconnected after ForceShutdown")
	}
}

func TestShutdownManagerContextCancelledOnShutdown(t *testing.T) {
	client := newUnreachableClient(t)

	sm := NewShutdownManager(nil)
	sm.Register(client)
	sm.shutdown()

	select {
	case <-sm.Context().Done():
	default:
		t.Fatal("shutdown manager context should be cancelled once shutdown runs")
	}
}

// testSignal satisfies os.Signal for injecting a shutdown trigger in tests
// without depending on a real OS signal delivery.
type testSignal struct{}

func (testSignal) String() string { return "test-signal" }
func (testSignal) Signal()        {}
