package server

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/openzipkin/zipkin-go"
	zipkingrpc "github.com/openzipkin/zipkin-go/middleware/grpc"
	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/ledgerpool/config"
	"github.com/vadiminshakov/ledgerpool/core/ledgernode"
	"github.com/vadiminshakov/ledgerpool/io/gateway/grpc/ledgerpb"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type Option func(server *Server) error

// Server exposes one validator node over gRPC.
type Server struct {
	ledgerpb.UnimplementedLedgerServer
	Addr       string
	GRPCServer *grpc.Server
	Node       *ledgernode.Node
	SubmitHook func(payload []byte) bool
	Tracer     *zipkin.Tracer
	Config     *config.Node
	listener   net.Listener
}

func (s *Server) Submit(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	var span zipkin.Span
	if s.Tracer != nil {
		span, _ = s.Tracer.StartSpanFromContext(ctx, "SubmitHandle")
		defer span.Finish()
	}

	if s.SubmitHook != nil && !s.SubmitHook(req.GetValue()) {
		return nil, status.Errorf(codes.Unavailable, "request dropped by %s", s.Node.Alias())
	}
	reply, err := s.Node.Handle(req.GetValue())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "%s: %s", s.Node.Alias(), err)
	}
	return wrapperspb.Bytes(reply), nil
}

// New fabric func for Server
func New(conf *config.Node, tracer *zipkin.Tracer, node *ledgernode.Node, opts ...Option) (*Server, error) {
	log.SetFormatter(&log.TextFormatter{
		ForceColors:     true, // Seems like automatic color detection doesn't work on windows terminals
		FullTimestamp:   true,
		TimestampFormat: time.RFC822,
	})

	server := &Server{Addr: conf.Listen, Node: node, Config: conf, Tracer: tracer}
	var err error
	for _, option := range opts {
		err = option(server)
		if err != nil {
			return nil, err
		}
	}

	err = checkServerFields(server)
	return server, err
}

// WithSubmitHook installs a hook deciding whether a request is served.
func WithSubmitHook(hook func(payload []byte) bool) func(*Server) error {
	return func(server *Server) error {
		server.SubmitHook = hook
		return nil
	}
}

func checkServerFields(server *Server) error {
	if server.Node == nil {
		return errors.New("node is not set")
	}
	return nil
}

// Run starts non-blocking GRPC server
func (s *Server) Run(opts ...grpc.UnaryServerInterceptor) error {
	if s.Tracer != nil {
		s.GRPCServer = grpc.NewServer(grpc.ChainUnaryInterceptor(opts...), grpc.StatsHandler(zipkingrpc.NewServerHandler(s.Tracer)))
	} else {
		s.GRPCServer = grpc.NewServer(grpc.ChainUnaryInterceptor(opts...))
	}
	ledgerpb.RegisterLedgerServer(s.GRPCServer, s)

	l, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	s.listener = l
	log.Infof("%s listening on tcp://%s", s.Node.Alias(), l.Addr())

	go s.GRPCServer.Serve(l)
	return nil
}

// ListenAddr returns the bound address once Run succeeded.
func (s *Server) ListenAddr() string {
	if s.listener == nil {
		return s.Addr
	}
	return s.listener.Addr().String()
}

// Stop stops server
func (s *Server) Stop() {
	log.Info("stopping server")
	if s.GRPCServer != nil {
		s.GRPCServer.GracefulStop()
	}
	if err := s.Node.Close(); err != nil {
		log.Infof("failed to close ledgers, err: %s\n", err)
	}
	log.Info("server stopped")
}
