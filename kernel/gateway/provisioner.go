package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/randalmurphal/kernelmux/kernel"
)

const backendName = "gateway"

// Provisioner creates kernels on a gateway.
type Provisioner struct {
	cfg    Config
	http   *http.Client
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewProvisioner creates a provisioner for the gateway at baseURL.
func NewProvisioner(baseURL string, opts ...Option) *Provisioner {
	p := &Provisioner{
		cfg:    Config{URL: baseURL},
		http:   &http.Client{Timeout: 30 * time.Second},
		dialer: websocket.DefaultDialer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.cfg = p.cfg.WithDefaults()
	return p
}

// NewProvisionerWithConfig creates a provisioner from a Config.
func NewProvisionerWithConfig(cfg Config) *Provisioner {
	return &Provisioner{
		cfg:    cfg.WithDefaults(),
		http:   &http.Client{Timeout: 30 * time.Second},
		dialer: websocket.DefaultDialer,
		logger: slog.Default(),
	}
}

// Config returns the provisioner configuration.
func (p *Provisioner) Config() Config {
	return p.cfg
}

type kernelModel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Start implements kernel.Provisioner. It creates a kernel, opens its
// channels socket and performs the kernel_info handshake. A kernel that
// was created but never became ready is deleted again.
func (p *Provisioner) Start(ctx context.Context) (kernel.Client, error) {
	if err := p.cfg.Validate(); err != nil {
		return nil, kernel.NewError(backendName, "start", err)
	}

	startCtx, cancel := context.WithTimeout(ctx, p.cfg.StartupTimeout)
	defer cancel()

	id, err := p.createKernel(startCtx)
	if err != nil {
		return nil, kernel.NewError(backendName, "start", err)
	}

	ws, err := p.dial(startCtx, id)
	if err != nil {
		p.cleanup(id)
		return nil, kernel.NewError(backendName, "start", err)
	}

	c := &Client{
		Conn:    kernel.NewConn(id, newWSTransport(ws, p.logger), kernel.WithLogger(p.logger)),
		prov:    p,
		timeout: p.cfg.ShutdownTimeout,
	}

	info, err := c.KernelInfo(startCtx)
	if err != nil {
		_ = c.Conn.Close()
		p.cleanup(id)
		return nil, kernel.NewError(backendName, "start", fmt.Errorf("%w: %v", kernel.ErrNotReady, err))
	}

	p.logger.Debug("gateway kernel ready",
		slog.String("kernel", id),
		slog.String("implementation", info.Implementation))
	return c, nil
}

func (p *Provisioner) createKernel(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{"name": p.cfg.KernelName})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	resp, err := p.do(ctx, http.MethodPost, "/api/kernels", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("create kernel: gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var model kernelModel
	if err := json.NewDecoder(resp.Body).Decode(&model); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if model.ID == "" {
		return "", fmt.Errorf("create kernel: response has no kernel id")
	}
	return model.ID, nil
}

func (p *Provisioner) deleteKernel(ctx context.Context, id string) error {
	resp, err := p.do(ctx, http.MethodDelete, "/api/kernels/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK, http.StatusNotFound:
		return nil
	}
	return fmt.Errorf("delete kernel: gateway returned status %d", resp.StatusCode)
}

// cleanup deletes a kernel that failed to start.
func (p *Provisioner) cleanup(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ShutdownTimeout)
	defer cancel()
	if err := p.deleteKernel(ctx, id); err != nil {
		p.logger.Debug("delete unready kernel", slog.String("kernel", id), slog.Any("error", err))
	}
}

func (p *Provisioner) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(p.cfg.URL, "/")+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	p.authorize(req.Header)

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func (p *Provisioner) dial(ctx context.Context, id string) (*websocket.Conn, error) {
	wsURL, err := channelsURL(p.cfg.URL, id)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	p.authorize(header)

	conn, resp, err := p.dialer.DialContext(ctx, wsURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial channels: %w", err)
	}
	return conn, nil
}

func (p *Provisioner) authorize(h http.Header) {
	if p.cfg.Token != "" {
		h.Set("Authorization", "token "+p.cfg.Token)
	}
}

// channelsURL maps the gateway base URL to the kernel's websocket endpoint.
func channelsURL(base, id string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/kernels/" + url.PathEscape(id) + "/channels"
	return u.String(), nil
}

// Client is a kernel hosted by a gateway.
type Client struct {
	*kernel.Conn
	prov    *Provisioner
	timeout time.Duration
}

// Shutdown implements kernel.Client.
func (c *Client) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.Conn.RequestShutdown(shutdownCtx)
	if kernel.IsClosed(err) {
		err = nil
	}
	_ = c.Conn.Close()

	select {
	case <-c.Conn.Done():
	case <-shutdownCtx.Done():
	}

	if derr := c.prov.deleteKernel(shutdownCtx, c.ID()); err == nil {
		err = derr
	}
	if err != nil {
		return kernel.NewError(backendName, "shutdown", err)
	}
	return nil
}
