package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Neomon11/LibLocker/internal/agent"
	"github.com/Neomon11/LibLocker/internal/app"
	"github.com/Neomon11/LibLocker/internal/config"
	"github.com/Neomon11/LibLocker/internal/mirror"
	"github.com/Neomon11/LibLocker/pkg/types"
)

// testServer is a running server bound to loopback ephemeral ports
type testServer struct {
	app      *app.Application
	wsURL    string
	adminURL string
}

// newTestConfig returns defaults with the database in t.TempDir()
func newTestConfig(t *testing.T) *config.ServerConfig {
	t.Helper()
	cfg := config.Defaults()
	cfg.Database.DatabasePath = filepath.Join(t.TempDir(), "liblocker.db")
	cfg.Session.ExpiryCheckInterval = 50 * time.Millisecond
	// test clients heartbeat every 50ms
	cfg.Router.RateLimitPerMinute = 100000
	return cfg
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	return ln
}

func startServer(t *testing.T, cfg *config.ServerConfig) *testServer {
	t.Helper()

	application, err := app.NewApplication(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	application.SetListeners(listen(t), listen(t), listen(t))

	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start application: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		application.Stop(ctx)
	})

	return &testServer{
		app:      application,
		wsURL:    "ws://" + application.WebSocketAddr() + "/ws",
		adminURL: "http://" + application.AdminAddr(),
	}
}

// do sends an admin request and decodes the JSON response into out
func (s *testServer) do(t *testing.T, method, path string, body interface{}, out interface{}) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, s.adminURL+path, reader)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (s *testServer) clientView(t *testing.T, clientID string) *types.ClientView {
	t.Helper()
	var view types.ClientView
	if code := s.do(t, http.MethodGet, "/api/clients/"+clientID, nil, &view); code != http.StatusOK {
		t.Fatalf("GET client %s: status %d", clientID, code)
	}
	return &view
}

// recordingPresenter keeps every presenter call for assertions
type recordingPresenter struct {
	mu    sync.Mutex
	calls []string
}

func (p *recordingPresenter) add(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *recordingPresenter) SessionStarted(s mirror.Snapshot) { p.add("started") }
func (p *recordingPresenter) CountdownTick(s mirror.Snapshot)  {}
func (p *recordingPresenter) Warn(remaining time.Duration)     { p.add("warn") }
func (p *recordingPresenter) Lock(cause string, s mirror.Snapshot) {
	p.add("lock:" + cause)
}
func (p *recordingPresenter) Unlock()                         { p.add("unlock") }
func (p *recordingPresenter) TariffChanged(s mirror.Snapshot) { p.add("tariff") }
func (p *recordingPresenter) Shutdown()                       { p.add("shutdown") }

func (p *recordingPresenter) has(call string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.calls {
		if c == call {
			return true
		}
	}
	return false
}

// testClient is a full client stack: agent, mirror and presenter
type testClient struct {
	agent     *agent.Agent
	mirror    *mirror.Mirror
	presenter *recordingPresenter
	cancel    context.CancelFunc
	done      chan struct{}
}

func startClient(t *testing.T, wsURL, hwid string) *testClient {
	t.Helper()

	presenter := &recordingPresenter{}
	m := mirror.New(presenter, mirror.Config{WarningMinutes: 5, TickInterval: 20 * time.Millisecond}, zerolog.Nop())
	a := agent.New(
		agent.NewWebSocketDialer(wsURL, 2*time.Second),
		m,
		types.Registration{HardwareID: hwid, Name: "Reading room " + hwid},
		agent.Config{HeartbeatInterval: 50 * time.Millisecond, ReconnectInterval: 50 * time.Millisecond},
		zerolog.Nop(),
	)
	m.SetStopRequester(a)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go m.Run(ctx)
	go func() {
		defer close(done)
		a.Run(ctx)
	}()

	c := &testClient{agent: a, mirror: m, presenter: presenter, cancel: cancel, done: done}
	t.Cleanup(c.stop)

	eventually(t, "client registered", func() bool { return a.ClientID() != "" })
	return c
}

// stop disconnects the client and waits for its agent to exit
func (c *testClient) stop() {
	c.cancel()
	<-c.done
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}
