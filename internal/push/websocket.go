package push

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"order-reconciler/internal/models"
	"order-reconciler/internal/util"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultPingInterval = 20 * time.Second
	defaultPongWait     = 30 * time.Second
	writeWait           = 10 * time.Second
	lookupTimeout       = 10 * time.Second
	defaultPushPort     = "3001"
)

// WebsocketDialer connects to the push server, passing the token as a query parameter.
// When ConnectionInfoURL or TokenURL are set the endpoint and token are looked up
// again on every dial; URL and Token are the fallback.
type WebsocketDialer struct {
	URL          string
	Token        string
	PingInterval time.Duration
	PongWait     time.Duration
	Dialer       *websocket.Dialer

	ConnectionInfoURL string
	TokenURL          string
	// PublicHost replaces a loopback host announced by the connection info endpoint
	PublicHost string
	HTTPClient *http.Client
}

type connectionInfo struct {
	Data struct {
		Websocket struct {
			URL  string          `json:"url"`
			Port json.RawMessage `json:"port"`
		} `json:"websocket"`
	} `json:"data"`
}

func (d *WebsocketDialer) httpClient() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return &http.Client{Timeout: lookupTimeout}
}

func (d *WebsocketDialer) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := d.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", endpoint, resp.StatusCode)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
}

// publicHost is the host used in place of localhost
func (d *WebsocketDialer) publicHost() string {
	if d.PublicHost != "" {
		return d.PublicHost
	}
	if u, err := url.Parse(d.URL); err == nil && !isLoopback(u.Hostname()) {
		return u.Hostname()
	}
	return ""
}

// discoverURL asks the connection info endpoint for the push url; "" means fall back
func (d *WebsocketDialer) discoverURL(ctx context.Context) string {
	if d.ConnectionInfoURL == "" {
		return ""
	}
	logger := util.GetLogger()

	var info connectionInfo
	if err := d.getJSON(ctx, d.ConnectionInfoURL, &info); err != nil {
		logger.Warn("Push connection info unavailable, using configured url", zap.Error(err))
		return ""
	}

	ws := info.Data.Websocket
	if ws.URL != "" {
		return d.publicURL(httpToWS(ws.URL))
	}
	port := strings.Trim(string(ws.Port), `" `)
	if port != "" && port != "null" {
		host := d.publicHost()
		if host == "" {
			if u, err := url.Parse(d.URL); err == nil {
				host = u.Hostname()
			}
		}
		return "ws://" + net.JoinHostPort(host, port)
	}
	logger.Warn("Push connection info has neither url nor port, using configured url")
	return ""
}

// discoverToken fetches a fresh token; "" means fall back
func (d *WebsocketDialer) discoverToken(ctx context.Context) string {
	if d.TokenURL == "" {
		return ""
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := d.getJSON(ctx, d.TokenURL, &body); err != nil {
		util.GetLogger().Warn("Push token endpoint unavailable, using configured token", zap.Error(err))
		return ""
	}
	return body.Token
}

func (d *WebsocketDialer) publicURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || !isLoopback(u.Hostname()) {
		return raw
	}
	host := d.publicHost()
	if host == "" {
		return raw
	}
	port := u.Port()
	if port == "" {
		port = defaultPushPort
	}
	u.Host = net.JoinHostPort(host, port)
	return u.String()
}

func (d *WebsocketDialer) endpoint(ctx context.Context) (string, error) {
	raw := d.discoverURL(ctx)
	if raw == "" {
		raw = d.URL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid push url: %w", err)
	}

	q := u.Query()
	if q.Get("token") == "" {
		token := d.discoverToken(ctx)
		if token == "" {
			token = d.Token
		}
		if token != "" {
			q.Set("token", token)
			u.RawQuery = q.Encode()
		}
	}
	return u.String(), nil
}

func (d *WebsocketDialer) Dial(ctx context.Context) (Stream, error) {
	endpoint, err := d.endpoint(ctx)
	if err != nil {
		return nil, err
	}
	util.GetLogger().Info("Connecting to push server", zap.String("url", maskTokenInURL(endpoint)))

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	ping := d.PingInterval
	if ping <= 0 {
		ping = defaultPingInterval
	}
	pongWait := d.PongWait
	if pongWait <= 0 {
		pongWait = defaultPongWait
	}

	s := &websocketStream{
		conn:     conn,
		pongWait: pongWait,
		done:     make(chan struct{}),
		logger:   util.GetLogger(),
	}
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go s.heartbeat(ping)
	return s, nil
}

type websocketStream struct {
	conn     *websocket.Conn
	pongWait time.Duration
	logger   *zap.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// heartbeat pings until the stream is closed; a failed ping closes the connection
// so the blocked reader returns.
func (s *websocketStream) heartbeat(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				s.logger.Warn("Push heartbeat failed", zap.Error(err))
				_ = s.Close()
				return
			}
		}
	}
}

func (s *websocketStream) Next(ctx context.Context) (models.PushMessage, error) {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return models.PushMessage{}, ctx.Err()
			}
			return models.PushMessage{}, fmt.Errorf("websocket read failed: %w", err)
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.pongWait))

		var msg models.PushMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("Ignoring malformed push message", zap.Error(err))
			continue
		}
		return msg, nil
	}
}

func (s *websocketStream) Ack(context.Context) error { return nil }

func (s *websocketStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func httpToWS(raw string) string {
	switch {
	case strings.HasPrefix(raw, "https://"):
		return "wss://" + strings.TrimPrefix(raw, "https://")
	case strings.HasPrefix(raw, "http://"):
		return "ws://" + strings.TrimPrefix(raw, "http://")
	}
	return raw
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

func maskToken(token string) string {
	switch {
	case token == "":
		return "(empty)"
	case len(token) <= 8:
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// maskTokenInURL returns raw with its token query parameter masked, for logging
func maskTokenInURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "(invalid url)"
	}
	q := u.Query()
	token := q.Get("token")
	if token == "" {
		return u.String()
	}
	q.Del("token")
	masked := "token=" + maskToken(token)
	if rest := q.Encode(); rest != "" {
		masked = rest + "&" + masked
	}
	u.RawQuery = masked
	return u.String()
}
