package main

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/matteso1/kvs/internal/server"
	"github.com/matteso1/kvs/internal/storage"
)

func startClient(t *testing.T) *server.Client {
	t.Helper()

	config := storage.DefaultConfig()
	config.Logger = zaptest.NewLogger(t)
	store, err := storage.Open(t.TempDir(), config)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	lis := bufconn.Listen(1 << 20)
	srv := server.New(store, zaptest.NewLogger(t), nil)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	client, err := server.Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestExecute(t *testing.T) {
	client := startClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	steps := []struct {
		line string
		want string
	}{
		{"get greeting", "Key not found"},
		{"set greeting hello world", "OK"},
		{"get greeting", "hello world"},
		{"  GET   greeting  ", "hello world"},
		{"rm greeting", "OK"},
		{"rm greeting", "Key not found"},
		{"", ""},
	}
	for _, step := range steps {
		got, err := execute(ctx, client, step.line)
		if err != nil {
			t.Fatalf("execute(%q): %v", step.line, err)
		}
		if got != step.want {
			t.Errorf("execute(%q) = %q, want %q", step.line, got, step.want)
		}
	}
}

func TestExecute_Errors(t *testing.T) {
	client := startClient(t)
	ctx := context.Background()

	for _, line := range []string{"get", "set key", "rm", "frobnicate"} {
		if _, err := execute(ctx, client, line); err == nil {
			t.Errorf("execute(%q): expected error", line)
		}
	}

	if _, err := execute(ctx, client, "exit"); !errors.Is(err, errQuit) {
		t.Errorf("exit: expected errQuit, got %v", err)
	}
}

func TestRunBench(t *testing.T) {
	client := startClient(t)

	res, err := runBench(context.Background(), client, 4, 50, 21, "value")
	if err != nil {
		t.Fatal(err)
	}
	if res.sets+res.gets != 200 {
		t.Errorf("expected 200 ops, got %d sets + %d gets", res.sets, res.gets)
	}
	if res.sets != 100 {
		t.Errorf("expected 100 sets, got %d", res.sets)
	}

	stats, err := client.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Keys != 21 {
		t.Errorf("expected 21 keys, got %d", stats.Keys)
	}
}
