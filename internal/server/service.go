package server

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "kvs.KV"

// Request and response messages of the kvs.KV service.
type (
	GetRequest struct {
		Key string `json:"key"`
	}
	GetResponse struct {
		Value string `json:"value,omitempty"`
		Found bool   `json:"found"`
	}

	SetRequest struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	SetResponse struct{}

	RemoveRequest struct {
		Key string `json:"key"`
	}
	RemoveResponse struct{}

	CompactRequest  struct{}
	CompactResponse struct {
		Stats StatsResponse `json:"stats"`
	}

	StatsRequest  struct{}
	StatsResponse struct {
		Keys              int    `json:"keys"`
		Segments          int    `json:"segments"`
		CurrentGeneration uint64 `json:"current_generation"`
		TotalBytes        int64  `json:"total_bytes"`
		LiveBytes         int64  `json:"live_bytes"`
		GarbageBytes      int64  `json:"garbage_bytes"`
		Compactions       uint64 `json:"compactions"`
		ReclaimedBytes    int64  `json:"reclaimed_bytes"`
	}
)

// KVServer is the server API of the kvs.KV service.
type KVServer interface {
	Get(context.Context, *GetRequest) (*GetResponse, error)
	Set(context.Context, *SetRequest) (*SetResponse, error)
	Remove(context.Context, *RemoveRequest) (*RemoveResponse, error)
	Compact(context.Context, *CompactRequest) (*CompactResponse, error)
	Stats(context.Context, *StatsRequest) (*StatsResponse, error)
}

func fullMethod(name string) string {
	return "/" + serviceName + "/" + name
}

// unary adapts a typed KVServer method to a grpc method handler.
func unary[Req, Resp any](name string, call func(KVServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(KVServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod(name),
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(KVServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*KVServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Get", KVServer.Get),
		unary("Set", KVServer.Set),
		unary("Remove", KVServer.Remove),
		unary("Compact", KVServer.Compact),
		unary("Stats", KVServer.Stats),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "kvs.json",
}
