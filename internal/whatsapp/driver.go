package whatsapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	"invoicely/internal/db"
	"invoicely/internal/session"
)

// connectFn opens a libSQL connection. Replaceable in tests.
var connectFn = db.Connect

// enableForeignKeysFn enables foreign keys (required by whatsmeow). Replaceable in tests.
var enableForeignKeysFn = db.EnableForeignKeys

// newContainerFn wraps sqlstore.NewWithDB + Upgrade. Replaceable in tests.
var newContainerFn = func(ctx context.Context, conn *sql.DB, log waLog.Logger) (*sqlstore.Container, error) {
	container := sqlstore.NewWithDB(conn, "sqlite3", log)
	if err := container.Upgrade(ctx); err != nil {
		return nil, err
	}
	return container, nil
}

// firstDeviceFn loads the stored device, or a fresh one when none is paired. Replaceable in tests.
var firstDeviceFn = func(ctx context.Context, container *sqlstore.Container) (*store.Device, error) {
	return container.GetFirstDevice(ctx)
}

// DeviceStore holds the whatsmeow device database shared by every Client
// the factory creates.
type DeviceStore struct {
	conn      *sql.DB
	container *sqlstore.Container
	logger    *slog.Logger
}

// OpenDeviceStore opens (and migrates) the device database at dbPath via
// libSQL, which is pure Go and needs no CGO.
func OpenDeviceStore(ctx context.Context, dbPath string, logger *slog.Logger) (*DeviceStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := connectFn(ctx, fmt.Sprintf("file:%s", dbPath))
	if err != nil {
		return nil, fmt.Errorf("whatsapp: device db open: %w", err)
	}
	if err := enableForeignKeysFn(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("whatsapp: %w", err)
	}
	// sqlite3 dialect; libSQL is wire-compatible.
	container, err := newContainerFn(ctx, conn, NewLogger(logger, "store"))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("whatsapp: sqlstore upgrade: %w", err)
	}
	return &DeviceStore{conn: conn, container: container, logger: logger}, nil
}

// Factory returns a session.Factory creating one Client per call from the
// first stored device. After a logout whatsmeow removes the device, so the
// next call starts a fresh pairing.
func (d *DeviceStore) Factory() session.Factory {
	return func(ctx context.Context) (session.Gateway, error) {
		device, err := firstDeviceFn(ctx, d.container)
		if err != nil {
			return nil, fmt.Errorf("whatsapp: device store: %w", err)
		}
		cli := whatsmeow.NewClient(device, NewLogger(d.logger, "client"))
		return New(cli, WithLogger(d.logger)), nil
	}
}

// HasSession reports whether a paired device is stored, i.e. whether
// connecting would resume a session rather than start pairing.
func (d *DeviceStore) HasSession(ctx context.Context) (bool, error) {
	device, err := firstDeviceFn(ctx, d.container)
	if err != nil {
		return false, fmt.Errorf("whatsapp: device store: %w", err)
	}
	return device != nil && device.ID != nil, nil
}

// Close closes the device database.
func (d *DeviceStore) Close() error {
	return d.conn.Close()
}
