// Package whatsapp adapts a whatsmeow client to the session gateway contract.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/h2non/filetype"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"invoicely/internal/session"
)

var (
	ErrInvalidNumber = fmt.Errorf("whatsapp: invalid phone number: %w", session.ErrInvalidDelivery)
	ErrEmptyMessage  = fmt.Errorf("whatsapp: message has no text or document: %w", session.ErrInvalidDelivery)
	ErrDestroyed     = errors.New("whatsapp: client destroyed")
)

const defaultMIME = "application/octet-stream"

// rawClient abstracts the whatsmeow.Client methods used by Client.
// *whatsmeow.Client satisfies this interface implicitly.
type rawClient interface {
	Connect() error
	Disconnect()
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
	Upload(ctx context.Context, plaintext []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
	GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error)
	AddEventHandler(handler whatsmeow.EventHandler) uint32
	RemoveEventHandler(id uint32) bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets a structured logger. If l is nil the default slog logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Client is a session.Gateway and session.Deliverer backed by whatsmeow.
// One Client wraps one whatsmeow connection; after Destroy it is inert.
type Client struct {
	raw    rawClient
	device *store.Device
	logger *slog.Logger

	ctx    context.Context // lives until Destroy; scopes the QR channel
	cancel context.CancelFunc

	mu        sync.Mutex
	handler   func(session.Event)
	handlerID uint32
	destroyed bool
}

// New wraps cli. Automatic reconnection is turned off: a dropped connection
// is reported as disconnected and a new Client must be created.
func New(cli *whatsmeow.Client, opts ...Option) *Client {
	cli.EnableAutoReconnect = false
	return newClient(cli, cli.Store, opts...)
}

func newClient(raw rawClient, device *store.Device, opts ...Option) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{raw: raw, device: device, ctx: ctx, cancel: cancel}
	for _, opt := range opts {
		opt(c)
	}
	c.handlerID = raw.AddEventHandler(c.onEvent)
	return c
}

func (c *Client) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}

// Subscribe sets the lifecycle event handler. Events before Subscribe are dropped.
func (c *Client) Subscribe(h func(session.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Initialize connects to WhatsApp. Without a stored session it first opens
// the QR channel and streams pairing codes until pairing ends.
func (c *Client) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isDestroyed() {
		return ErrDestroyed
	}

	if c.loggedIn() {
		return c.connect()
	}

	qrCh, err := c.raw.GetQRChannel(c.ctx)
	if err != nil {
		return fmt.Errorf("whatsapp: qr channel: %w", err)
	}
	if err := c.connect(); err != nil {
		return err
	}
	go c.pumpQR(qrCh)
	return nil
}

// connect opens the socket. A Destroy that ran while connecting has already
// called Disconnect, so the fresh socket is closed again here.
func (c *Client) connect() error {
	if err := c.raw.Connect(); err != nil {
		return fmt.Errorf("whatsapp: connect: %w", err)
	}
	if c.isDestroyed() {
		c.raw.Disconnect()
		return ErrDestroyed
	}
	return nil
}

// Destroy detaches from whatsmeow and closes the connection. Safe to call twice.
func (c *Client) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	c.handler = nil
	c.mu.Unlock()

	c.cancel()
	c.raw.RemoveEventHandler(c.handlerID)
	c.raw.Disconnect()
	c.log().Info("whatsapp: client destroyed")
}

// Deliver sends d as a document message when it carries a document,
// otherwise as a plain text message.
func (c *Client) Deliver(ctx context.Context, d session.Delivery) error {
	if c.isDestroyed() {
		return ErrDestroyed
	}
	jid, err := PhoneJID(d.To)
	if err != nil {
		return err
	}
	var msg *waE2E.Message
	switch {
	case len(d.Document) > 0:
		msg, err = c.documentMessage(ctx, d)
		if err != nil {
			return err
		}
	case d.Text != "":
		msg = &waE2E.Message{Conversation: proto.String(d.Text)}
	default:
		return ErrEmptyMessage
	}

	resp, err := c.raw.SendMessage(ctx, jid, msg)
	if err != nil {
		return fmt.Errorf("whatsapp: send to %s: %w", jid.User, err)
	}
	c.log().Info("whatsapp: message sent", "to", jid.User, "id", resp.ID, "document", len(d.Document) > 0)
	return nil
}

func (c *Client) documentMessage(ctx context.Context, d session.Delivery) (*waE2E.Message, error) {
	up, err := c.raw.Upload(ctx, d.Document, whatsmeow.MediaDocument)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: upload document: %w", err)
	}
	name := d.FileName
	if name == "" {
		name = "invoice"
	}
	doc := &waE2E.DocumentMessage{
		URL:           proto.String(up.URL),
		DirectPath:    proto.String(up.DirectPath),
		MediaKey:      up.MediaKey,
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    proto.Uint64(up.FileLength),
		Mimetype:      proto.String(detectMIME(d.Document)),
		FileName:      proto.String(name),
		Title:         proto.String(name),
	}
	if d.Text != "" {
		doc.Caption = proto.String(d.Text)
	}
	return &waE2E.Message{DocumentMessage: doc}, nil
}

// detectMIME sniffs the document type, e.g. application/pdf.
func detectMIME(data []byte) string {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return defaultMIME
	}
	return kind.MIME.Value
}

func (c *Client) pumpQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			c.emit(session.Event{Kind: session.EventPairingCode, Code: item.Code})
		case whatsmeow.QRChannelSuccess.Event:
			c.log().Info("whatsapp: pairing succeeded")
		case whatsmeow.QRChannelTimeout.Event:
			c.log().Warn("whatsapp: pairing codes exhausted")
			c.emit(session.Event{Kind: session.EventDisconnected})
		default:
			c.log().Warn("whatsapp: pairing failed", "event", item.Event, "error", item.Error)
			c.emit(session.Event{Kind: session.EventDisconnected})
		}
	}
}

// onEvent translates whatsmeow events into session lifecycle events.
func (c *Client) onEvent(evt any) {
	switch v := evt.(type) {
	case *events.Connected:
		number := c.boundNumber()
		if number == "" {
			c.log().Warn("whatsapp: connected without device id")
			return
		}
		c.emit(session.Event{Kind: session.EventReady, BoundNumber: number})
	case *events.PairSuccess:
		c.log().Info("whatsapp: paired", "number", v.ID.User, "platform", v.Platform)
	case *events.LoggedOut:
		c.log().Warn("whatsapp: logged out", "reason", v.Reason.String(), "on_connect", v.OnConnect)
		c.emit(session.Event{Kind: session.EventDisconnected})
	case *events.StreamReplaced:
		c.log().Warn("whatsapp: stream replaced by another connection")
		c.emit(session.Event{Kind: session.EventDisconnected})
	case *events.ConnectFailure:
		c.log().Warn("whatsapp: connect failure", "reason", v.Reason.String(), "message", v.Message)
		c.emit(session.Event{Kind: session.EventDisconnected})
	case *events.ClientOutdated:
		c.log().Error("whatsapp: client outdated")
		c.emit(session.Event{Kind: session.EventDisconnected})
	case *events.Disconnected:
		c.log().Info("whatsapp: disconnected")
		c.emit(session.Event{Kind: session.EventDisconnected})
	}
}

func (c *Client) emit(ev session.Event) {
	c.mu.Lock()
	h := c.handler
	dead := c.destroyed
	c.mu.Unlock()
	if h == nil || dead {
		return
	}
	h(ev)
}

func (c *Client) isDestroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

func (c *Client) loggedIn() bool {
	return c.device != nil && c.device.ID != nil
}

func (c *Client) boundNumber() string {
	if !c.loggedIn() {
		return ""
	}
	return c.device.ID.User
}

// PhoneJID converts a phone number in any common notation (+92 300-1234567,
// 00923001234567) to a WhatsApp user JID.
func PhoneJID(number string) (types.JID, error) {
	var b strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := strings.TrimPrefix(b.String(), "00")
	if len(digits) < 7 || len(digits) > 15 {
		return types.JID{}, fmt.Errorf("%w: %q", ErrInvalidNumber, number)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}
