// Package client dials a running chatlinkd and starts one when needed.
package client

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/matheus3301/chatlink/internal/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const probeTimeout = 2 * time.Second

// Client wraps the gRPC connection to the daemon.
type Client struct {
	conn     *grpc.ClientConn
	Realtime *api.RealtimeClient
	Health   healthpb.HealthClient
}

// New dials the daemon's Unix domain socket and returns typed service clients.
// Dialing is lazy; use Probe to check the daemon answers.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{
		conn:     conn,
		Realtime: api.NewRealtimeClient(conn),
		Health:   healthpb.NewHealthClient(conn),
	}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Probe reports whether the daemon answers a health check. Only the daemon
// itself is checked, not the realtime connection.
func (c *Client) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	resp, err := c.Health.Check(ctx, &healthpb.HealthCheckRequest{})
	return err == nil && resp.Status == healthpb.HealthCheckResponse_SERVING
}

// Connected reports whether the daemon's realtime connection is open.
func (c *Client) Connected(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	resp, err := c.Health.Check(ctx, &healthpb.HealthCheckRequest{Service: api.ServiceName})
	return err == nil && resp.Status == healthpb.HealthCheckResponse_SERVING
}

// WaitReady polls Probe until it succeeds or timeout passes.
func (c *Client) WaitReady(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.Probe(ctx) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(300 * time.Millisecond):
		}
	}
	return false
}

// StartDaemon launches chatlinkd for sessionName in the background. The
// binary next to the running executable is preferred over $PATH.
func StartDaemon(sessionName string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	daemon := filepath.Join(filepath.Dir(executable), "chatlinkd")
	if _, err := os.Stat(daemon); err != nil {
		daemon = "chatlinkd"
	}

	cmd := exec.Command(daemon, "--session", sessionName)
	// Inherit stderr so daemon startup errors are visible.
	cmd.Stderr = os.Stderr
	return cmd.Start()
}
