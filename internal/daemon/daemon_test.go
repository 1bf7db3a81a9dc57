package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/chatlink/internal/api"
	"github.com/matheus3301/chatlink/internal/bus"
	"github.com/matheus3301/chatlink/internal/config"
	"github.com/matheus3301/chatlink/internal/lock"
	"github.com/matheus3301/chatlink/internal/session"
	"github.com/matheus3301/chatlink/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

const friendList = `{"type":"friend_list","payload":[{"friendId":5,"friendName":"Ana Souza","unreadCount":2,"lastMessage":"hi"}]}`

// chatServer answers every get_chat_list with a one-entry friend list.
func chatServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = c.Close() }()
		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				return
			}
			var frame struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(raw, &frame) == nil && frame.Type == "get_chat_list" {
				if err := c.WriteMessage(websocket.TextMessage, []byte(friendList)); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// shortHome points CHATLINK_HOME at a short /tmp path to stay under the
// Unix socket path limit.
func shortHome(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "chatlink-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	t.Setenv("CHATLINK_HOME", dir)
	return dir
}

func dial(t *testing.T, socketPath string) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient("unix://"+socketPath, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestDaemonLifecycle(t *testing.T) {
	home := shortHome(t)
	ws := chatServer(t)
	u, err := url.Parse(ws.URL)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.UserID = 42
	cfg.Server = config.ServerConfig{Scheme: "ws", Host: u.Host, Path: "/chat"}
	cfg.Reconnect.Policy = config.ReconnectNone
	cfgPath := filepath.Join(home, "config.toml")
	require.NoError(t, config.Save(cfgPath, cfg))

	app := fxtest.New(t, Module(Params{SessionName: "test", ConfigPath: cfgPath}))
	app.RequireStart()
	stopped := false
	defer func() {
		if !stopped {
			app.RequireStop()
		}
	}()

	conn := dial(t, session.SocketPath("test"))
	client := api.NewRealtimeClient(conn)
	ctx := context.Background()

	require.Eventually(t, func() bool {
		resp, err := client.GetStatus(ctx)
		return err == nil && api.BoolField(resp, "connected")
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := client.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test", api.StringField(resp, "session"))
	assert.Equal(t, int64(42), api.IntField(resp, "userId"))
	assert.Equal(t, string(status.Open), api.StringField(resp, "state"))

	health, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: api.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, health.Status)

	empty := &structpb.Struct{}
	require.Eventually(t, func() bool {
		resp, err := client.ListChats(ctx, empty)
		return err == nil && api.StringField(resp, "source") == "live" && len(api.ListField(resp, "chats")) == 1
	}, 5*time.Second, 20*time.Millisecond)

	// The sync engine persists the snapshot for offline reads.
	cachedReq, err := structpb.NewStruct(map[string]any{"cached": true})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		resp, err := client.ListChats(ctx, cachedReq)
		return err == nil && len(api.ListField(resp, "chats")) == 1
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		owner, err := lock.Read(session.Dir("test"))
		return err == nil && owner.PID == os.Getpid() && owner.UserID == 42
	}, 5*time.Second, 20*time.Millisecond)

	_, err = client.Logout(ctx)
	require.NoError(t, err)
	saved, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, int64(0), saved.UserID)

	// Signed out, the live list is gone and reads come from the cache.
	resp, err = client.ListChats(ctx, empty)
	require.NoError(t, err)
	assert.Equal(t, "cache", api.StringField(resp, "source"))
	assert.Len(t, api.ListField(resp, "chats"), 1)

	require.Eventually(t, func() bool {
		health, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: api.ServiceName})
		return err == nil && health.Status == healthpb.HealthCheckResponse_NOT_SERVING
	}, 5*time.Second, 20*time.Millisecond)

	app.RequireStop()
	stopped = true
	_, err = os.Stat(session.SocketPath("test"))
	assert.True(t, os.IsNotExist(err), "socket should be removed on stop")
}

func TestHealthFollowsConnectionState(t *testing.T) {
	b := bus.New()
	m := status.NewMachine(b)
	h := provideHealth(b, m)
	h.Start(context.Background())
	defer h.Stop()

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := h.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: api.ServiceName})
		require.NoError(t, err)
		return resp.Status
	}
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())

	require.NoError(t, m.Transition(status.Connecting))
	require.NoError(t, m.Transition(status.Open))
	require.Eventually(t, func() bool { return check() == healthpb.HealthCheckResponse_SERVING }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Transition(status.Error))
	require.Eventually(t, func() bool { return check() == healthpb.HealthCheckResponse_NOT_SERVING }, time.Second, 5*time.Millisecond)

	resp, err := h.Server().Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

// TestFxModuleWiring verifies the fx dependency graph resolves without errors.
func TestFxModuleWiring(t *testing.T) {
	shortHome(t)
	require.NoError(t, fx.ValidateApp(Module(Params{SessionName: "fxtest"})))
}

// TestSecondDaemonRefused verifies the session lock keeps a second daemon
// from starting against the same session.
func TestSecondDaemonRefused(t *testing.T) {
	shortHome(t)
	require.NoError(t, session.EnsureDir("busy"))
	lk, err := lock.Acquire(session.Dir("busy"))
	require.NoError(t, err)
	defer func() { _ = lk.Release() }()

	app := fx.New(Module(Params{SessionName: "busy", SocketPath: filepath.Join(session.Dir("busy"), "d.sock")}), fx.NopLogger)
	err = app.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session lock held")
}
