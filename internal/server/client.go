package server

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/matteso1/kvs/internal/storage"
)

// Client talks to a kvs.KV server.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client for the server at addr. The connection is plaintext
// unless opts say otherwise; extra options are applied after the defaults.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	defaults := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(jsonCodec{}),
			grpc.MaxCallRecvMsgSize(MaxMessageSize),
			grpc.MaxCallSendMsgSize(MaxMessageSize),
		),
	}
	conn, err := grpc.NewClient(addr, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Get returns the value of key. The boolean is false if key doesn't exist.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	out := new(GetResponse)
	if err := c.conn.Invoke(ctx, fullMethod("Get"), &GetRequest{Key: key}, out); err != nil {
		return "", false, fromStatus(err)
	}
	return out.Value, out.Found, nil
}

// Set assigns value to key.
func (c *Client) Set(ctx context.Context, key, value string) error {
	return fromStatus(c.conn.Invoke(ctx, fullMethod("Set"), &SetRequest{Key: key, Value: value}, new(SetResponse)))
}

// Remove erases key. It returns storage.ErrKeyNotFound if the key doesn't exist.
func (c *Client) Remove(ctx context.Context, key string) error {
	return fromStatus(c.conn.Invoke(ctx, fullMethod("Remove"), &RemoveRequest{Key: key}, new(RemoveResponse)))
}

// Compact asks the server to compact its store and returns the statistics
// afterwards.
func (c *Client) Compact(ctx context.Context) (StatsResponse, error) {
	out := new(CompactResponse)
	if err := c.conn.Invoke(ctx, fullMethod("Compact"), &CompactRequest{}, out); err != nil {
		return StatsResponse{}, fromStatus(err)
	}
	return out.Stats, nil
}

// Stats returns the server's storage statistics.
func (c *Client) Stats(ctx context.Context) (StatsResponse, error) {
	out := new(StatsResponse)
	if err := c.conn.Invoke(ctx, fullMethod("Stats"), &StatsRequest{}, out); err != nil {
		return StatsResponse{}, fromStatus(err)
	}
	return *out, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.NotFound {
		return storage.ErrKeyNotFound
	}
	return err
}
