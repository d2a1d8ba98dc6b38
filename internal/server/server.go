package server

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/matteso1/kvs/internal/metrics"
	"github.com/matteso1/kvs/internal/storage"
)

// Engine is the storage the service reads and writes. *storage.Store
// satisfies it.
type Engine interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}

// Engines that also compact or report statistics expose those calls through
// the service; others answer Unimplemented.
type (
	compacter interface{ Compact() error }
	statser   interface{ Stats() storage.Stats }
)

// MaxMessageSize bounds every request and response on both ends, replacing
// gRPC's 4 MiB default. Larger values can only be written to a local store.
const MaxMessageSize = 64 << 20 // 64MB

// Server implements the kvs.KV gRPC service.
type Server struct {
	engine  Engine
	logger  *zap.Logger
	metrics *metrics.Metrics
	grpc    *grpc.Server
}

// New creates a server in front of engine. A nil logger or metrics collector
// is replaced by a no-op one.
func New(engine Engine, logger *zap.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewMetrics()
	}
	s := &Server{
		engine:  engine,
		logger:  logger,
		metrics: m,
	}
	s.grpc = grpc.NewServer(
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.MaxRecvMsgSize(MaxMessageSize),
		grpc.MaxSendMsgSize(MaxMessageSize),
		grpc.ChainUnaryInterceptor(s.observe),
	)
	s.grpc.RegisterService(&serviceDesc, s)
	return s
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("kvs server listening", zap.String("addr", lis.Addr().String()))
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the server. It doesn't close the engine.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

func (s *Server) observe(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	s.metrics.RequestStarted()
	defer s.metrics.RequestFinished()

	start := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err)
	if err != nil && code != codes.NotFound && code != codes.InvalidArgument {
		s.metrics.RecordError()
		s.logger.Error("request failed",
			zap.String("method", info.FullMethod),
			zap.Error(err))
	}
	s.logger.Debug("request served",
		zap.String("method", info.FullMethod),
		zap.Stringer("code", code),
		zap.Duration("took", time.Since(start)))
	return resp, err
}

// Get handles get requests.
func (s *Server) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	start := time.Now()
	value, found, err := s.engine.Get(req.Key)
	if err != nil {
		return nil, toStatus(err)
	}
	s.metrics.RecordGet(found, time.Since(start))
	return &GetResponse{Value: value, Found: found}, nil
}

// Set handles set requests.
func (s *Server) Set(ctx context.Context, req *SetRequest) (*SetResponse, error) {
	start := time.Now()
	if err := s.engine.Set(req.Key, req.Value); err != nil {
		return nil, toStatus(err)
	}
	s.metrics.RecordSet(len(req.Value), time.Since(start))
	return &SetResponse{}, nil
}

// Remove handles remove requests. A missing key is reported as NotFound.
func (s *Server) Remove(ctx context.Context, req *RemoveRequest) (*RemoveResponse, error) {
	start := time.Now()
	err := s.engine.Remove(req.Key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		s.metrics.RecordRemove(false, time.Since(start))
		return nil, toStatus(err)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	s.metrics.RecordRemove(true, time.Since(start))
	return &RemoveResponse{}, nil
}

// Compact handles compaction requests.
func (s *Server) Compact(ctx context.Context, req *CompactRequest) (*CompactResponse, error) {
	c, ok := s.engine.(compacter)
	if !ok {
		return nil, status.Error(codes.Unimplemented, "engine does not support compaction")
	}
	if err := c.Compact(); err != nil {
		return nil, toStatus(err)
	}
	s.metrics.RecordCompaction()

	resp := &CompactResponse{}
	if st, ok := s.engine.(statser); ok {
		resp.Stats = statsResponse(st.Stats())
	}
	return resp, nil
}

// Stats handles statistics requests.
func (s *Server) Stats(ctx context.Context, req *StatsRequest) (*StatsResponse, error) {
	st, ok := s.engine.(statser)
	if !ok {
		return nil, status.Error(codes.Unimplemented, "engine does not report statistics")
	}
	resp := statsResponse(st.Stats())
	return &resp, nil
}

func statsResponse(s storage.Stats) StatsResponse {
	return StatsResponse{
		Keys:              s.Keys,
		Segments:          s.Segments,
		CurrentGeneration: s.CurrentGeneration,
		TotalBytes:        s.TotalBytes,
		LiveBytes:         s.LiveBytes,
		GarbageBytes:      s.GarbageBytes,
		Compactions:       s.Compactions,
		ReclaimedBytes:    s.ReclaimedBytes,
	}
}

// toStatus maps storage errors to gRPC status codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
		return status.Error(codes.NotFound, "Key not found")
	case errors.Is(err, storage.ErrCorruptRecord):
		return status.Error(codes.DataLoss, err.Error())
	case errors.Is(err, storage.ErrRecordTooLarge):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, storage.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
