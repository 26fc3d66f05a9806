package client

import (
	"context"
	"time"

	"github.com/openzipkin/zipkin-go"
	zipkingrpc "github.com/openzipkin/zipkin-go/middleware/grpc"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
)

// createConnection creates a gRPC connection to the specified address. The
// connection is established in the background, so this never waits for the node.
func createConnection(addr string, tracer *zipkin.Tracer) (*grpc.ClientConn, error) {
	connParams := grpc.ConnectParams{
		Backoff: backoff.Config{
			BaseDelay:  100 * time.Millisecond,
			Multiplier: backoff.DefaultConfig.Multiplier,
			Jitter:     backoff.DefaultConfig.Jitter,
			MaxDelay:   10 * time.Second,
		},
		MinConnectTimeout: 200 * time.Millisecond,
	}

	opts := []grpc.DialOption{
		grpc.WithConnectParams(connParams),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if tracer != nil {
		opts = append(opts, grpc.WithStatsHandler(zipkingrpc.NewClientHandler(tracer)))
	}

	conn, err := grpc.DialContext(context.Background(), addr, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect")
	}

	return conn, nil
}
