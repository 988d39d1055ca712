package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/kernelmux/kernel"
)

// fakeGateway serves the kernels REST API and a channels socket backed by
// an echoing kernel.
type fakeGateway struct {
	t      *testing.T
	token  string
	mute   bool
	server *httptest.Server

	mu      sync.Mutex
	created []string
	deleted []string
	auth    []string
}

func newFakeGateway(t *testing.T, token string) *fakeGateway {
	t.Helper()
	g := &fakeGateway{t: t, token: token}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/kernels", g.handleCreate)
	mux.HandleFunc("DELETE /api/kernels/{id}", g.handleDelete)
	mux.HandleFunc("GET /api/kernels/{id}/channels", g.handleChannels)

	g.server = httptest.NewServer(mux)
	t.Cleanup(g.server.Close)
	return g
}

func (g *fakeGateway) authorized(r *http.Request) bool {
	g.mu.Lock()
	g.auth = append(g.auth, r.Header.Get("Authorization"))
	g.mu.Unlock()
	return g.token == "" || r.Header.Get("Authorization") == "token "+g.token
}

func (g *fakeGateway) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !g.authorized(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	g.mu.Lock()
	id := body.Name + "-" + string(rune('a'+len(g.created)))
	g.created = append(g.created, id)
	g.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(kernelModel{ID: id, Name: body.Name})
}

func (g *fakeGateway) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !g.authorized(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	g.mu.Lock()
	g.deleted = append(g.deleted, r.PathValue("id"))
	g.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (g *fakeGateway) handleChannels(w http.ResponseWriter, r *http.Request) {
	if !g.authorized(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	send := func(msg kernel.Message) { _ = conn.WriteJSON(msg) }
	for {
		var req kernel.Message
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		switch req.Type() {
		case kernel.MsgKernelInfoRequest:
			if g.mute {
				continue
			}
			send(kernel.MustMessage(kernel.MsgKernelInfoReply, kernel.KernelInfoReplyContent{
				Status:          "ok",
				ProtocolVersion: kernel.ProtocolVersion,
				Implementation:  "fake",
			}).InReplyTo(req.ID()).On(kernel.ChannelShell))
		case kernel.MsgExecuteRequest:
			// Frames the client must ignore.
			_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0, 1})
			_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))

			er, err := kernel.ParseExecuteRequest(req)
			if err != nil {
				continue
			}
			for _, msg := range kernel.EchoResponder(er) {
				send(msg)
			}
		case kernel.MsgShutdownRequest:
			send(kernel.MustMessage(kernel.MsgShutdownReply, kernel.ShutdownContent{Status: "ok"}).
				InReplyTo(req.ID()).On(kernel.ChannelControl))
		}
	}
}

func (g *fakeGateway) snapshot() (created, deleted, auth []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.created...),
		append([]string(nil), g.deleted...),
		append([]string(nil), g.auth...)
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestChannelsURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:8888", "ws://localhost:8888/api/kernels/k1/channels"},
		{"https://hub.example.com/user/alice/", "wss://hub.example.com/user/alice/api/kernels/k1/channels"},
	}
	for _, tt := range tests {
		got, err := channelsURL(tt.base, "k1")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{URL: "http://localhost:8888"}, false},
		{"missing url", Config{}, true},
		{"bad scheme", Config{URL: "ftp://host"}, true},
		{"negative timeout", Config{URL: "http://h", StartupTimeout: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegisteredFactory(t *testing.T) {
	require.True(t, kernel.IsRegistered("gateway"))

	prov, err := kernel.New(kernel.Config{
		Backend: "gateway",
		Options: map[string]any{"url": "http://localhost:8888", "token": "secret"},
	})
	require.NoError(t, err)

	cfg := prov.(*Provisioner).Config()
	assert.Equal(t, "http://localhost:8888", cfg.URL)
	assert.Equal(t, "secret", cfg.Token)
	assert.Equal(t, DefaultKernelName, cfg.KernelName)

	_, err = kernel.New(kernel.Config{Backend: "gateway"})
	var kerr *kernel.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, "configure", kerr.Op)
}

func TestProvisioner_ExecuteAndShutdown(t *testing.T) {
	g := newFakeGateway(t, "secret")
	ctx := testCtx(t)

	p := NewProvisioner(g.server.URL, WithToken("secret"), WithKernelName("julia"))
	client, err := p.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, "julia-a", client.ID())

	id, err := client.Execute(ctx, kernel.ExecuteRequest{Code: "1+1"})
	require.NoError(t, err)

	var types []kernel.MsgType
	for {
		msg, err := client.Receive(ctx, kernel.ChannelIOPub)
		require.NoError(t, err)
		assert.Equal(t, id, msg.CorrelationID())
		types = append(types, msg.Type())
		if msg.IsIdle() {
			break
		}
	}
	assert.Equal(t, []kernel.MsgType{
		kernel.MsgStatus, kernel.MsgExecuteInput, kernel.MsgExecuteResult, kernel.MsgStatus,
	}, types)

	require.NoError(t, client.Shutdown(ctx))

	created, deleted, auth := g.snapshot()
	assert.Equal(t, []string{"julia-a"}, created)
	assert.Equal(t, []string{"julia-a"}, deleted)
	for _, a := range auth {
		assert.Equal(t, "token secret", a)
	}

	_, err = client.Receive(ctx, kernel.ChannelIOPub)
	assert.True(t, kernel.IsClosed(err), "Receive() after Shutdown() error = %v", err)
}

func TestProvisioner_Unauthorized(t *testing.T) {
	g := newFakeGateway(t, "secret")

	_, err := NewProvisioner(g.server.URL, WithToken("wrong")).Start(testCtx(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")

	created, _, _ := g.snapshot()
	assert.Empty(t, created)
}

func TestProvisioner_NotReadyDeletesKernel(t *testing.T) {
	g := newFakeGateway(t, "")
	g.mute = true

	p := NewProvisioner(g.server.URL, WithStartupTimeout(200*time.Millisecond))
	_, err := p.Start(testCtx(t))
	require.True(t, errors.Is(err, kernel.ErrNotReady), "Start() error = %v", err)

	created, deleted, _ := g.snapshot()
	assert.Equal(t, created, deleted)
}
