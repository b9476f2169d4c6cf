package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"invoicely/internal/mirror"
)

// fakeGateway implements Gateway and Deliverer for controller tests.
type fakeGateway struct {
	mu         sync.Mutex
	handler    func(Event)
	initErr    error
	initGate   chan struct{} // when non-nil, Initialize waits for it
	initCalls  int
	destroyed  int
	delivered  []Delivery
	deliverErr error
}

func (f *fakeGateway) Subscribe(h func(Event)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeGateway) Initialize(ctx context.Context) error {
	f.mu.Lock()
	f.initCalls++
	gate := f.initGate
	err := f.initErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

func (f *fakeGateway) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed++
}

func (f *fakeGateway) Deliver(_ context.Context, d Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deliverErr != nil {
		return f.deliverErr
	}
	f.delivered = append(f.delivered, d)
	return nil
}

func (f *fakeGateway) emit(ev Event) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (f *fakeGateway) destroyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

// bareGateway implements Gateway without Deliverer.
type bareGateway struct {
	handler func(Event)
}

func (b *bareGateway) Subscribe(h func(Event))            { b.handler = h }
func (b *bareGateway) Initialize(_ context.Context) error { return nil }
func (b *bareGateway) Destroy()                            {}

// failingMirror wraps mirror.Memory with injectable errors.
type failingMirror struct {
	*mirror.Memory
	mu        sync.Mutex
	getErr    error
	setErr    error
	deleteErr error
	sets      int
	deletes   int
}

func newFailingMirror() *failingMirror {
	return &failingMirror{Memory: mirror.NewMemory()}
}

func (m *failingMirror) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	err := m.getErr
	m.mu.Unlock()
	if err != nil {
		return "", err
	}
	return m.Memory.Get(ctx, key)
}

func (m *failingMirror) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	m.sets++
	err := m.setErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.Memory.Set(ctx, key, value)
}

func (m *failingMirror) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	m.deletes++
	err := m.deleteErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.Memory.Delete(ctx, key)
}

// recordingRecorder collects Recorder calls.
type recordingRecorder struct {
	mu          sync.Mutex
	transitions []string
	statuses    []Status
}

func (r *recordingRecorder) Transition(kind, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, kind+":"+outcome)
}

func (r *recordingRecorder) Status(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recordingRecorder) has(entry string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.transitions {
		if t == entry {
			return true
		}
	}
	return false
}

var errBoom = errors.New("boom")

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// connectFake connects c to gw and waits for Initialize to return.
func connectFake(t *testing.T, c *Controller, gw *fakeGateway) {
	t.Helper()
	c.factory = func(context.Context) (Gateway, error) { return gw, nil }
	done, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Initialize: %v", err)
	}
}
