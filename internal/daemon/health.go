package daemon

import (
	"context"

	"github.com/matheus3301/chatlink/internal/api"
	"github.com/matheus3301/chatlink/internal/bus"
	"github.com/matheus3301/chatlink/internal/status"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthReporter publishes the gRPC health of the daemon. The overall ("")
// service is serving while the daemon runs; the realtime service is serving
// only while the connection is open.
type HealthReporter struct {
	server *health.Server
	bus    *bus.Bus
	cancel context.CancelFunc
	done   chan struct{}
}

func provideHealth(b *bus.Bus, m *status.Machine) *HealthReporter {
	h := &HealthReporter{server: health.NewServer(), bus: b}
	h.set(m.Current())
	return h
}

// Server returns the health service to register on the gRPC server.
func (h *HealthReporter) Server() *health.Server { return h.server }

// Start follows connection state changes until Stop.
func (h *HealthReporter) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})
	ch, unsub := h.bus.Subscribe(bus.KindStateChanged, 16)
	go func() {
		defer close(h.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if change, ok := evt.Payload.(status.StatusChange); ok {
					h.set(change.To)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop marks every service not serving and stops following state changes.
func (h *HealthReporter) Stop() {
	if h.cancel != nil {
		h.cancel()
		<-h.done
		h.cancel = nil
	}
	h.server.Shutdown()
}

func (h *HealthReporter) set(state status.State) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if state == status.Open {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus(api.ServiceName, st)
}
