package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestConnect_WhenValidFileURL_ShouldReturnPingableDB(t *testing.T) {
	// Given: a file URL in a temp directory
	dbURL := "file:" + filepath.Join(t.TempDir(), "test.db")

	// When: connecting
	conn, err := Connect(context.Background(), dbURL)

	// Then: should succeed and ping
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	defer conn.Close()
	if err := conn.Ping(); err != nil {
		t.Fatalf("expected successful ping, got: %v", err)
	}
}

func TestConnect_WhenEmptyURL_ShouldReturnErrEmptyURL(t *testing.T) {
	_, err := Connect(context.Background(), "")
	if !errors.Is(err, ErrEmptyURL) {
		t.Fatalf("want ErrEmptyURL, got %v", err)
	}
}

func TestConnect_WhenInvalidPath_ShouldReturnError(t *testing.T) {
	// Given: a file URL below /dev/null, which cannot be a directory
	conn, err := Connect(context.Background(), "file:/dev/null/impossible.db")

	// Then: should fail
	if err == nil {
		conn.Close()
		t.Fatal("expected error for invalid file URL, got nil")
	}
}

func TestConnect_WhenUnknownDriver_ShouldReturnOpenError(t *testing.T) {
	old := driverName
	defer func() { driverName = old }()
	driverName = "no-such-driver"

	_, err := Connect(context.Background(), "file:x.db")
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestConnect_WhenContextCanceled_ShouldReturnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	conn, err := Connect(ctx, "file:"+filepath.Join(t.TempDir(), "canceled.db"))
	if err == nil {
		conn.Close()
		t.Fatal("expected error for canceled context")
	}
}

func TestEnableForeignKeys_ShouldTurnPragmaOn(t *testing.T) {
	conn, err := Connect(context.Background(), "file:"+filepath.Join(t.TempDir(), "fk.db"))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()
	conn.SetMaxOpenConns(1)

	if err := EnableForeignKeys(context.Background(), conn); err != nil {
		t.Fatalf("EnableForeignKeys: %v", err)
	}
	var on int
	if err := conn.QueryRow("PRAGMA foreign_keys").Scan(&on); err != nil {
		t.Fatalf("query pragma: %v", err)
	}
	if on != 1 {
		t.Errorf("foreign_keys: want 1, got %d", on)
	}
}

func TestEnableForeignKeys_WhenDBClosed_ShouldReturnError(t *testing.T) {
	conn, err := Connect(context.Background(), "file:"+filepath.Join(t.TempDir(), "closed.db"))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn.Close()

	if err := EnableForeignKeys(context.Background(), conn); err == nil {
		t.Fatal("expected error on closed db")
	}
}
