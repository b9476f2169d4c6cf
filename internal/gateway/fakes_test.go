package gateway

import (
	"context"
	"sync"

	"invoicely/internal/session"
)

// fakeController implements Controller for handler tests.
type fakeController struct {
	mu            sync.Mutex
	view          session.View
	code          string
	connectErr    error
	initErr       error
	disconnectErr error
	deliverErr    error
	connects      int
	disconnects   int
	delivered     []session.Delivery
	watchCh       chan session.View
	watchCanceled bool
}

func newFakeController() *fakeController {
	return &fakeController{
		view:    session.DisconnectedView(),
		watchCh: make(chan session.View, 8),
	}
}

func (f *fakeController) Status(context.Context) session.View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

func (f *fakeController) PairingCode() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code
}

func (f *fakeController) Connect(context.Context) (<-chan error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	done := make(chan error, 1)
	done <- f.initErr
	close(done)
	return done, nil
}

func (f *fakeController) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return f.disconnectErr
}

func (f *fakeController) Deliver(_ context.Context, d session.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deliverErr != nil {
		return f.deliverErr
	}
	f.delivered = append(f.delivered, d)
	return nil
}

func (f *fakeController) Watch() (<-chan session.View, func()) {
	return f.watchCh, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.watchCanceled = true
	}
}

func (f *fakeController) canceled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watchCanceled
}

func connectedView(number string) session.View {
	return session.View{Status: session.StatusConnected, PhoneNumber: &number}
}
