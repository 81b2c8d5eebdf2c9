package db

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/unklstewy/flight-tracker/pkg/config"
)

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"refused", errors.New("dial tcp: connection refused"), true},
		{"wrapped EOF", fmt.Errorf("query: %w", io.EOF), true},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"syntax", errors.New(`syntax error at or near "SELEC"`), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConnectionError(tt.err); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("Non-connection error is not retried", func(t *testing.T) {
		calls := 0
		err := WithRetry(ctx, func() error {
			calls++
			return errors.New("constraint failed")
		}, 3, nil)
		if err == nil {
			t.Fatal("Expected error")
		}
		if calls != 1 {
			t.Errorf("Expected 1 call, got %d", calls)
		}
	})

	t.Run("Connection error is retried", func(t *testing.T) {
		calls := 0
		err := WithRetry(ctx, func() error {
			calls++
			if calls == 1 {
				return errors.New("broken pipe")
			}
			return nil
		}, 1, nil)
		if err != nil {
			t.Fatalf("Expected success after retry, got %v", err)
		}
		if calls != 2 {
			t.Errorf("Expected 2 calls, got %d", calls)
		}
	})

	t.Run("Cancelled context stops waiting", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := WithRetry(cctx, func() error { return errors.New("connection reset") }, 5, nil)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	})
}

func TestReconnectWithRetry(t *testing.T) {
	t.Run("Gives up after max retries", func(t *testing.T) {
		start := time.Now()
		_, err := ReconnectWithRetry(context.Background(), config.DatabaseConfig{Driver: "mysql"}, 2, 10*time.Millisecond, nil)
		if err == nil {
			t.Fatal("Expected error for unsupported driver")
		}
		if time.Since(start) < 10*time.Millisecond {
			t.Error("Expected one backoff wait between attempts")
		}
	})

	t.Run("Connects", func(t *testing.T) {
		cfg := config.DatabaseConfig{Driver: DriverSQLite, Path: t.TempDir() + "/r.db"}
		db, err := ReconnectWithRetry(context.Background(), cfg, 1, time.Millisecond, nil)
		if err != nil {
			t.Fatalf("ReconnectWithRetry failed: %v", err)
		}
		defer db.Close()

		same, err := EnsureConnection(context.Background(), db, cfg, nil)
		if err != nil {
			t.Fatalf("EnsureConnection failed: %v", err)
		}
		if same != db {
			t.Error("Expected healthy connection to be reused")
		}
	})
}
