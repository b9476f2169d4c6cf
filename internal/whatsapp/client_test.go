package whatsapp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"invoicely/internal/session"
)

// =============================================================================
// mockRawClient implements rawClient for testing Client internals
// =============================================================================

type mockRawClient struct {
	mu         sync.Mutex
	connectErr error
	sendErr    error
	uploadErr  error
	qrErr      error
	qrCh       chan whatsmeow.QRChannelItem
	qrCtx      context.Context
	onQR       func()
	onConnect  func()
	calls      []string

	connects    int
	disconnects int
	removed     []uint32
	sent        []sentMsg
	uploads     int
	handlers    []whatsmeow.EventHandler
}

type sentMsg struct {
	to  types.JID
	msg *waE2E.Message
}

func newMockRawClient() *mockRawClient {
	return &mockRawClient{qrCh: make(chan whatsmeow.QRChannelItem, 10)}
}

func (m *mockRawClient) Connect() error {
	m.mu.Lock()
	hook := m.onConnect
	m.connects++
	m.calls = append(m.calls, "connect")
	err := m.connectErr
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (m *mockRawClient) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
	m.calls = append(m.calls, "disconnect")
}

func (m *mockRawClient) SendMessage(_ context.Context, to types.JID, message *waE2E.Message, _ ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return whatsmeow.SendResponse{}, m.sendErr
	}
	m.sent = append(m.sent, sentMsg{to: to, msg: message})
	return whatsmeow.SendResponse{ID: "msg-1"}, nil
}

func (m *mockRawClient) Upload(_ context.Context, plaintext []byte, _ whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads++
	if m.uploadErr != nil {
		return whatsmeow.UploadResponse{}, m.uploadErr
	}
	return whatsmeow.UploadResponse{
		URL:        "https://mmg.whatsapp.net/d/f/abc",
		DirectPath: "/v/t62/abc",
		MediaKey:   []byte("key"),
		FileLength: uint64(len(plaintext)),
	}, nil
}

func (m *mockRawClient) GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	m.mu.Lock()
	hook := m.onQR
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.qrErr != nil {
		return nil, m.qrErr
	}
	m.qrCtx = ctx
	return m.qrCh, nil
}

func (m *mockRawClient) AddEventHandler(handler whatsmeow.EventHandler) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
	return uint32(len(m.handlers))
}

func (m *mockRawClient) RemoveEventHandler(id uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, id)
	return true
}

func (m *mockRawClient) dispatch(evt any) {
	m.mu.Lock()
	hs := append([]whatsmeow.EventHandler(nil), m.handlers...)
	m.mu.Unlock()
	for _, h := range hs {
		h(evt)
	}
}

func (m *mockRawClient) counts() (connects, disconnects, removed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects, m.disconnects, len(m.removed)
}

func (m *mockRawClient) callOrder() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockRawClient) sentMessages() []sentMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMsg(nil), m.sent...)
}

// eventSink collects session events from a Client.
type eventSink struct {
	mu     sync.Mutex
	events []session.Event
}

func (s *eventSink) handle(ev session.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) snapshot() []session.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]session.Event(nil), s.events...)
}

func (s *eventSink) waitLen(t *testing.T, n int) []session.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if evs := s.snapshot(); len(evs) >= n {
			return evs
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, got %+v", n, s.snapshot())
	return nil
}

func pairedDevice(number string) *store.Device {
	jid := types.NewJID(number, types.DefaultUserServer)
	return &store.Device{ID: &jid}
}

var errMock = errors.New("mock failure")

// =============================================================================
// Construction
// =============================================================================

func TestNew_ShouldDisableAutoReconnectAndRegisterHandler(t *testing.T) {
	cli := whatsmeow.NewClient(&store.Device{}, nil)
	cli.EnableAutoReconnect = true

	c := New(cli)
	defer c.Destroy()

	if cli.EnableAutoReconnect {
		t.Error("auto reconnect should be disabled")
	}
	if c.handlerID == 0 {
		t.Error("event handler should be registered")
	}
}

// =============================================================================
// Initialize
// =============================================================================

func TestInitialize_WhenNotPaired_ShouldStreamPairingCodes(t *testing.T) {
	// Given: an unpaired device
	raw := newMockRawClient()
	c := newClient(raw, &store.Device{})
	sink := &eventSink{}
	c.Subscribe(sink.handle)

	// When: initializing and the QR channel yields two codes
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	raw.qrCh <- whatsmeow.QRChannelItem{Event: whatsmeow.QRChannelEventCode, Code: "2@first"}
	raw.qrCh <- whatsmeow.QRChannelItem{Event: whatsmeow.QRChannelEventCode, Code: "2@second"}

	// Then: both are reported as pairing codes
	evs := sink.waitLen(t, 2)
	if evs[0].Kind != session.EventPairingCode || evs[0].Code != "2@first" {
		t.Errorf("first event: got %+v", evs[0])
	}
	if evs[1].Code != "2@second" {
		t.Errorf("second event: got %+v", evs[1])
	}
	if connects, _, _ := raw.counts(); connects != 1 {
		t.Errorf("want one connect, got %d", connects)
	}
	c.Destroy()
}

func TestInitialize_WhenQRTimesOut_ShouldReportDisconnected(t *testing.T) {
	raw := newMockRawClient()
	c := newClient(raw, &store.Device{})
	sink := &eventSink{}
	c.Subscribe(sink.handle)

	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	raw.qrCh <- whatsmeow.QRChannelTimeout
	close(raw.qrCh)

	evs := sink.waitLen(t, 1)
	if evs[0].Kind != session.EventDisconnected {
		t.Fatalf("want disconnected, got %+v", evs[0])
	}
}

func TestInitialize_WhenQRSucceeds_ShouldNotEmitLifecycleEvent(t *testing.T) {
	raw := newMockRawClient()
	c := newClient(raw, &store.Device{})
	sink := &eventSink{}
	c.Subscribe(sink.handle)

	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	raw.qrCh <- whatsmeow.QRChannelSuccess
	raw.qrCh <- whatsmeow.QRChannelItem{Event: whatsmeow.QRChannelEventCode, Code: "marker"}

	evs := sink.waitLen(t, 1)
	if len(evs) != 1 || evs[0].Code != "marker" {
		t.Fatalf("success should be silent, got %+v", evs)
	}
	c.Destroy()
}

func TestInitialize_WhenPaired_ShouldConnectWithoutQR(t *testing.T) {
	raw := newMockRawClient()
	c := newClient(raw, pairedDevice("923001234567"))

	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if raw.qrCtx != nil {
		t.Error("QR channel must not be opened for a paired device")
	}
	if connects, _, _ := raw.counts(); connects != 1 {
		t.Errorf("want one connect, got %d", connects)
	}
}

func TestInitialize_WhenConnectFails_ShouldReturnError(t *testing.T) {
	raw := newMockRawClient()
	raw.connectErr = errMock
	c := newClient(raw, pairedDevice("923001234567"))

	err := c.Initialize(context.Background())

	if !errors.Is(err, errMock) {
		t.Fatalf("want wrapped connect error, got %v", err)
	}
}

func TestInitialize_WhenQRChannelFails_ShouldReturnError(t *testing.T) {
	raw := newMockRawClient()
	raw.qrErr = errMock
	c := newClient(raw, &store.Device{})

	err := c.Initialize(context.Background())

	if !errors.Is(err, errMock) {
		t.Fatalf("want wrapped qr error, got %v", err)
	}
	if connects, _, _ := raw.counts(); connects != 0 {
		t.Errorf("connect must not run after a QR failure, got %d", connects)
	}
}

func TestInitialize_WhenContextCanceled_ShouldReturnContextError(t *testing.T) {
	c := newClient(newMockRawClient(), &store.Device{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Initialize(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestInitialize_WhenDestroyed_ShouldReturnErrDestroyed(t *testing.T) {
	c := newClient(newMockRawClient(), &store.Device{})
	c.Destroy()

	if err := c.Initialize(context.Background()); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("want ErrDestroyed, got %v", err)
	}
}

func TestInitialize_WhenDestroyedWhileOpeningQRChannel_ShouldCloseSocket(t *testing.T) {
	// Given: Destroy runs after Initialize passed its first check
	raw := newMockRawClient()
	c := newClient(raw, &store.Device{})
	sink := &eventSink{}
	c.Subscribe(sink.handle)
	raw.onQR = c.Destroy

	// When
	err := c.Initialize(context.Background())

	// Then: the socket opened after Destroy is closed again
	if !errors.Is(err, ErrDestroyed) {
		t.Fatalf("want ErrDestroyed, got %v", err)
	}
	calls := raw.callOrder()
	if len(calls) == 0 || calls[len(calls)-1] != "disconnect" {
		t.Fatalf("last call must be disconnect, got %v", calls)
	}
	raw.qrCh <- whatsmeow.QRChannelItem{Event: whatsmeow.QRChannelEventCode, Code: "2@late"}
	time.Sleep(20 * time.Millisecond)
	if evs := sink.snapshot(); len(evs) != 0 {
		t.Errorf("no events expected after destroy, got %+v", evs)
	}
}

func TestInitialize_WhenDestroyedDuringConnect_ShouldCloseSocket(t *testing.T) {
	raw := newMockRawClient()
	c := newClient(raw, pairedDevice("923001234567"))
	raw.onConnect = c.Destroy

	err := c.Initialize(context.Background())

	if !errors.Is(err, ErrDestroyed) {
		t.Fatalf("want ErrDestroyed, got %v", err)
	}
	want := []string{"connect", "disconnect", "disconnect"}
	got := raw.callOrder()
	if len(got) != len(want) {
		t.Fatalf("call order: want %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call order: want %v, got %v", want, got)
		}
	}
}

// =============================================================================
// Event translation
// =============================================================================

func TestOnEvent_WhenConnected_ShouldReportReadyWithNumber(t *testing.T) {
	raw := newMockRawClient()
	c := newClient(raw, pairedDevice("923001234567"))
	sink := &eventSink{}
	c.Subscribe(sink.handle)

	raw.dispatch(&events.Connected{})

	evs := sink.snapshot()
	if len(evs) != 1 || evs[0].Kind != session.EventReady || evs[0].BoundNumber != "923001234567" {
		t.Fatalf("want ready 923001234567, got %+v", evs)
	}
}

func TestOnEvent_WhenConnectedWithoutDevice_ShouldIgnore(t *testing.T) {
	raw := newMockRawClient()
	c := newClient(raw, &store.Device{})
	sink := &eventSink{}
	c.Subscribe(sink.handle)

	raw.dispatch(&events.Connected{})

	if evs := sink.snapshot(); len(evs) != 0 {
		t.Fatalf("want no events, got %+v", evs)
	}
}

func TestOnEvent_WhenConnectionLost_ShouldReportDisconnected(t *testing.T) {
	cases := map[string]any{
		"logged out":      &events.LoggedOut{},
		"disconnected":    &events.Disconnected{},
		"stream replaced": &events.StreamReplaced{},
		"connect failure": &events.ConnectFailure{},
		"client outdated": &events.ClientOutdated{},
	}
	for name, evt := range cases {
		t.Run(name, func(t *testing.T) {
			raw := newMockRawClient()
			c := newClient(raw, pairedDevice("923001234567"))
			sink := &eventSink{}
			c.Subscribe(sink.handle)

			raw.dispatch(evt)

			evs := sink.snapshot()
			if len(evs) != 1 || evs[0].Kind != session.EventDisconnected {
				t.Fatalf("want disconnected, got %+v", evs)
			}
		})
	}
}

func TestOnEvent_WhenUnrelatedEvent_ShouldIgnore(t *testing.T) {
	raw := newMockRawClient()
	c := newClient(raw, pairedDevice("923001234567"))
	sink := &eventSink{}
	c.Subscribe(sink.handle)

	raw.dispatch(&events.Message{})
	raw.dispatch(&events.PairSuccess{ID: types.NewJID("923001234567", types.DefaultUserServer)})

	if evs := sink.snapshot(); len(evs) != 0 {
		t.Fatalf("want no events, got %+v", evs)
	}
}

func TestOnEvent_BeforeSubscribe_ShouldDrop(t *testing.T) {
	raw := newMockRawClient()
	_ = newClient(raw, pairedDevice("923001234567"))

	// Must not panic without a handler.
	raw.dispatch(&events.Connected{})
}

// =============================================================================
// Destroy
// =============================================================================

func TestDestroy_ShouldDetachAndDisconnectOnce(t *testing.T) {
	raw := newMockRawClient()
	c := newClient(raw, &store.Device{})
	sink := &eventSink{}
	c.Subscribe(sink.handle)
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	c.Destroy()
	c.Destroy()

	_, disconnects, removed := raw.counts()
	if disconnects != 1 || removed != 1 {
		t.Errorf("want one disconnect and one handler removal, got %d and %d", disconnects, removed)
	}
	if raw.qrCtx.Err() == nil {
		t.Error("QR context should be canceled on destroy")
	}
	raw.dispatch(&events.Connected{})
	if evs := sink.snapshot(); len(evs) != 0 {
		t.Errorf("events after destroy must be dropped, got %+v", evs)
	}
}

// =============================================================================
// Deliver
// =============================================================================

func TestDeliver_WhenText_ShouldSendConversation(t *testing.T) {
	raw := newMockRawClient()
	c := newClient(raw, pairedDevice("923001234567"))

	err := c.Deliver(context.Background(), session.Delivery{To: "+92 300 7654321", Text: "Invoice INV-001: PKR 12,500"})

	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	sent := raw.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("want 1 message, got %d", len(sent))
	}
	if sent[0].to.User != "923007654321" || sent[0].to.Server != types.DefaultUserServer {
		t.Errorf("recipient: got %s", sent[0].to)
	}
	if sent[0].msg.GetConversation() != "Invoice INV-001: PKR 12,500" {
		t.Errorf("text: got %q", sent[0].msg.GetConversation())
	}
}

func TestDeliver_WhenDocument_ShouldUploadAndSendDocument(t *testing.T) {
	raw := newMockRawClient()
	c := newClient(raw, pairedDevice("923001234567"))
	pdf := []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n")

	err := c.Deliver(context.Background(), session.Delivery{
		To:       "923007654321",
		Text:     "Your invoice",
		Document: pdf,
		FileName: "INV-001.pdf",
	})

	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	sent := raw.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("want 1 message, got %d", len(sent))
	}
	doc := sent[0].msg.GetDocumentMessage()
	if doc == nil {
		t.Fatal("want document message")
	}
	if doc.GetMimetype() != "application/pdf" {
		t.Errorf("mimetype: want application/pdf, got %q", doc.GetMimetype())
	}
	if doc.GetFileName() != "INV-001.pdf" || doc.GetCaption() != "Your invoice" {
		t.Errorf("file name/caption: got %q/%q", doc.GetFileName(), doc.GetCaption())
	}
	if doc.GetFileLength() != uint64(len(pdf)) || doc.GetDirectPath() != "/v/t62/abc" {
		t.Errorf("upload fields not copied: %+v", doc)
	}
}

func TestDeliver_WhenUploadFails_ShouldNotSend(t *testing.T) {
	raw := newMockRawClient()
	raw.uploadErr = errMock
	c := newClient(raw, pairedDevice("923001234567"))

	err := c.Deliver(context.Background(), session.Delivery{To: "923007654321", Document: []byte("data")})

	if !errors.Is(err, errMock) {
		t.Fatalf("want upload error, got %v", err)
	}
	if len(raw.sentMessages()) != 0 {
		t.Error("nothing should be sent after a failed upload")
	}
}

func TestDeliver_WhenSendFails_ShouldReturnError(t *testing.T) {
	raw := newMockRawClient()
	raw.sendErr = errMock
	c := newClient(raw, pairedDevice("923001234567"))

	err := c.Deliver(context.Background(), session.Delivery{To: "923007654321", Text: "hi"})

	if !errors.Is(err, errMock) {
		t.Fatalf("want send error, got %v", err)
	}
}

func TestDeliver_WhenInvalidInput_ShouldReject(t *testing.T) {
	c := newClient(newMockRawClient(), pairedDevice("923001234567"))

	if err := c.Deliver(context.Background(), session.Delivery{To: "12", Text: "hi"}); !errors.Is(err, ErrInvalidNumber) {
		t.Errorf("short number: want ErrInvalidNumber, got %v", err)
	}
	if err := c.Deliver(context.Background(), session.Delivery{To: "923007654321"}); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("empty message: want ErrEmptyMessage, got %v", err)
	}
	c.Destroy()
	if err := c.Deliver(context.Background(), session.Delivery{To: "923007654321", Text: "hi"}); !errors.Is(err, ErrDestroyed) {
		t.Errorf("destroyed: want ErrDestroyed, got %v", err)
	}
}

// =============================================================================
// Helpers
// =============================================================================

func TestPhoneJID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"923001234567", "923001234567", false},
		{"+92 300-1234567", "923001234567", false},
		{"0092 300 1234567", "923001234567", false},
		{"(555) 010-9999", "5550109999", false},
		{"12345", "", true},
		{"1234567890123456", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := PhoneJID(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidNumber) {
				t.Errorf("PhoneJID(%q): want ErrInvalidNumber, got %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("PhoneJID(%q): %v", tt.in, err)
			continue
		}
		if got.User != tt.want || got.Server != types.DefaultUserServer {
			t.Errorf("PhoneJID(%q) = %s, want %s@%s", tt.in, got, tt.want, types.DefaultUserServer)
		}
	}
}

func TestDetectMIME_WhenUnknown_ShouldFallBack(t *testing.T) {
	if got := detectMIME([]byte("plain invoice text")); got != defaultMIME {
		t.Errorf("want %s, got %s", defaultMIME, got)
	}
	png := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}
	if got := detectMIME(png); got != "image/png" {
		t.Errorf("want image/png, got %s", got)
	}
}
