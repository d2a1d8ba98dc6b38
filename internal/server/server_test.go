package server

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/matteso1/kvs/internal/metrics"
	"github.com/matteso1/kvs/internal/storage"
)

func startServer(t *testing.T, engine Engine, m *metrics.Metrics) *Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := New(engine, zaptest.NewLogger(t), m)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	client, err := Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	return openStoreWith(t, storage.DefaultConfig())
}

func openStoreWith(t *testing.T, config storage.Config) *storage.Store {
	t.Helper()
	config.Policy = storage.NeverCompact
	config.Logger = zaptest.NewLogger(t)

	store, err := storage.Open(t.TempDir(), config)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestServer_SetGetRemove(t *testing.T) {
	m := metrics.NewMetrics()
	client := startServer(t, openStore(t), m)
	ctx := testContext(t)

	if err := client.Set(ctx, "key1", "value1"); err != nil {
		t.Fatal(err)
	}

	value, found, err := client.Get(ctx, "key1")
	if err != nil {
		t.Fatal(err)
	}
	if !found || value != "value1" {
		t.Errorf("Get(key1) = %q, %v; want value1, true", value, found)
	}

	if err := client.Remove(ctx, "key1"); err != nil {
		t.Fatal(err)
	}
	_, found, err = client.Get(ctx, "key1")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("expected key1 to be removed")
	}

	snap := m.Snapshot()
	if snap.Sets != 1 || snap.Gets != 2 || snap.GetMisses != 1 || snap.Removes != 1 {
		t.Errorf("unexpected metrics: %+v", snap)
	}
	if snap.ErrorsTotal != 0 {
		t.Errorf("expected no errors, got %d", snap.ErrorsTotal)
	}
}

func TestServer_RemoveMissingKey(t *testing.T) {
	m := metrics.NewMetrics()
	client := startServer(t, openStore(t), m)
	ctx := testContext(t)

	err := client.Remove(ctx, "missing")
	if !errors.Is(err, storage.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}

	snap := m.Snapshot()
	if snap.RemoveMisses != 1 {
		t.Errorf("expected 1 remove miss, got %d", snap.RemoveMisses)
	}
	if snap.ErrorsTotal != 0 {
		t.Errorf("missing keys shouldn't count as errors, got %d", snap.ErrorsTotal)
	}
}

func TestServer_CompactAndStats(t *testing.T) {
	client := startServer(t, openStore(t), nil)
	ctx := testContext(t)

	for i := 0; i < 10; i++ {
		if err := client.Set(ctx, "key", strings.Repeat("x", i)); err != nil {
			t.Fatal(err)
		}
	}

	before, err := client.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if before.Keys != 1 {
		t.Errorf("expected 1 key, got %d", before.Keys)
	}
	if before.GarbageBytes == 0 {
		t.Error("expected garbage before compaction")
	}

	after, err := client.Compact(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if after.GarbageBytes != 0 {
		t.Errorf("expected no garbage after compaction, got %d", after.GarbageBytes)
	}
	if after.Compactions != 1 {
		t.Errorf("expected 1 compaction, got %d", after.Compactions)
	}

	value, found, err := client.Get(ctx, "key")
	if err != nil {
		t.Fatal(err)
	}
	if !found || value != strings.Repeat("x", 9) {
		t.Errorf("Get(key) = %q, %v after compaction", value, found)
	}
}

type mapEngine map[string]string

func (e mapEngine) Get(key string) (string, bool, error) {
	v, ok := e[key]
	return v, ok, nil
}

func (e mapEngine) Set(key, value string) error {
	e[key] = value
	return nil
}

func (e mapEngine) Remove(key string) error {
	if _, ok := e[key]; !ok {
		return storage.ErrKeyNotFound
	}
	delete(e, key)
	return nil
}

func TestServer_OptionalCalls(t *testing.T) {
	client := startServer(t, mapEngine{}, nil)
	ctx := testContext(t)

	if _, err := client.Compact(ctx); status.Code(err) != codes.Unimplemented {
		t.Errorf("Compact: expected Unimplemented, got %v", err)
	}
	if _, err := client.Stats(ctx); status.Code(err) != codes.Unimplemented {
		t.Errorf("Stats: expected Unimplemented, got %v", err)
	}
}

func TestServer_ClosedStore(t *testing.T) {
	store := openStore(t)
	client := startServer(t, store, nil)
	ctx := testContext(t)

	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	err := client.Set(ctx, "key", "value")
	if status.Code(err) != codes.Unavailable {
		t.Errorf("expected Unavailable, got %v", err)
	}
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{storage.ErrKeyNotFound, codes.NotFound},
		{storage.ErrCorruptRecord, codes.DataLoss},
		{storage.ErrClosed, codes.Unavailable},
		{storage.ErrRecordTooLarge, codes.InvalidArgument},
		{storage.ErrIO, codes.Internal},
		{errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		if got := status.Code(toStatus(tt.err)); got != tt.want {
			t.Errorf("toStatus(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}

	if msg := status.Convert(toStatus(storage.ErrKeyNotFound)).Message(); msg != "Key not found" {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestCheckEngine(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	if err := CheckEngine(dir, EngineKVS); err != nil {
		t.Fatal(err)
	}
	// Second open with the same engine succeeds.
	if err := CheckEngine(dir, EngineKVS); err != nil {
		t.Fatal(err)
	}

	if err := CheckEngine(dir, "sled"); err == nil {
		t.Error("expected unsupported engine to fail")
	}
	if err := CheckEngine(dir, EngineBolt); !errors.Is(err, ErrEngineMismatch) {
		t.Errorf("expected ErrEngineMismatch for bolt on a kvs directory, got %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, engineFileName), []byte("sled\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := CheckEngine(dir, EngineKVS); !errors.Is(err, ErrEngineMismatch) {
		t.Errorf("expected ErrEngineMismatch, got %v", err)
	}
}

func TestServer_LargeValue(t *testing.T) {
	client := startServer(t, openStore(t), nil)
	ctx := testContext(t)

	// Above gRPC's default 4 MiB message limit.
	value := strings.Repeat("v", 5<<20)
	if err := client.Set(ctx, "big", value); err != nil {
		t.Fatal(err)
	}
	got, found, err := client.Get(ctx, "big")
	if err != nil {
		t.Fatal(err)
	}
	if !found || got != value {
		t.Errorf("Get(big) returned %d bytes, found=%v", len(got), found)
	}
}

func TestServer_RecordTooLarge(t *testing.T) {
	config := storage.DefaultConfig()
	config.MaxRecordSize = 128
	m := metrics.NewMetrics()
	client := startServer(t, openStoreWith(t, config), m)
	ctx := testContext(t)

	err := client.Set(ctx, "key", strings.Repeat("x", 200))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	if _, found, _ := client.Get(ctx, "key"); found {
		t.Error("expected rejected value to be absent")
	}
	if n := m.Snapshot().ErrorsTotal; n != 0 {
		t.Errorf("rejected requests shouldn't count as errors, got %d", n)
	}
}

func TestServer_BoltEngine(t *testing.T) {
	config := DefaultConfig()
	config.DataDir = t.TempDir()
	config.Engine = EngineBolt

	engine, err := OpenEngine(config, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { engine.Close() })

	client := startServer(t, engine, nil)
	ctx := testContext(t)

	if err := client.Set(ctx, "a", "1"); err != nil {
		t.Fatal(err)
	}
	value, found, err := client.Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if !found || value != "1" {
		t.Errorf("Get(a) = %q, %v; want 1, true", value, found)
	}
	if err := client.Remove(ctx, "missing"); !errors.Is(err, storage.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}

	stats, err := client.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Keys != 1 {
		t.Errorf("expected 1 key, got %d", stats.Keys)
	}
	if _, err := client.Compact(ctx); status.Code(err) != codes.Unimplemented {
		t.Errorf("Compact: expected Unimplemented, got %v", err)
	}
}

func TestOpenEngine(t *testing.T) {
	dir := t.TempDir()
	config := DefaultConfig()
	config.DataDir = dir

	engine, err := OpenEngine(config, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := engine.(*storage.Store); !ok {
		t.Errorf("expected the kvs engine to be a *storage.Store, got %T", engine)
	}
	if err := engine.Close(); err != nil {
		t.Fatal(err)
	}

	config.Engine = EngineBolt
	if _, err := OpenEngine(config, nil); !errors.Is(err, ErrEngineMismatch) {
		t.Errorf("expected ErrEngineMismatch, got %v", err)
	}

	config.Engine = "sled"
	if _, err := OpenEngine(config, nil); err == nil {
		t.Error("expected unsupported engine to fail")
	}
}
