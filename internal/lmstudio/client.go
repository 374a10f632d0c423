// Package lmstudio runs local generations through an LM Studio server
// over its websocket API. It implements llm.Runtime.
package lmstudio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/openllama/openllama/internal/llm"
)

const (
	llmNamespace     = "llm"
	handshakeTimeout = 15 * time.Second
	channelBuffer    = 256
)

// ErrDisconnected is returned to callers waiting on a connection that dropped.
var ErrDisconnected = errors.New("lmstudio: connection lost")

// LoadedModel describes a model instance held by the server.
type LoadedModel struct {
	ModelKey          string `json:"modelKey"`
	Identifier        string `json:"identifier"`
	InstanceReference string `json:"instanceReference"`
}

// envelope is every frame on the wire; which fields are set depends on Type.
type envelope struct {
	Type              string          `json:"type"`
	Endpoint          string          `json:"endpoint,omitempty"`
	CallID            *int            `json:"callId,omitempty"`
	ChannelID         *int            `json:"channelId,omitempty"`
	Parameter         any             `json:"parameter,omitempty"`
	CreationParameter any             `json:"creationParameter,omitempty"`
	Result            json.RawMessage `json:"result,omitempty"`
	Message           json.RawMessage `json:"message,omitempty"`
	Error             *remoteError    `json:"error,omitempty"`
	Content           *struct {
		Error *remoteError `json:"error,omitempty"`
	} `json:"content,omitempty"`
	Warning string `json:"warning,omitempty"`
}

type remoteError struct {
	Title     string `json:"title"`
	RootTitle string `json:"rootTitle"`
}

func (e *remoteError) String() string {
	if e == nil {
		return "unknown error"
	}
	if e.Title != "" {
		return e.Title
	}
	if e.RootTitle != "" {
		return e.RootTitle
	}
	return "unknown error"
}

// channelMessage is the payload of a channelSend frame.
type channelMessage struct {
	Type     string `json:"type"`
	Fragment *struct {
		Content string `json:"content"`
	} `json:"fragment,omitempty"`
	Token    string       `json:"token,omitempty"`
	Progress float64      `json:"progress,omitempty"`
	Info     *LoadedModel `json:"info,omitempty"`
}

type subscription struct {
	msgs chan envelope
	done chan struct{}
}

// Client is a lazily connected LM Studio websocket client. It reconnects
// on the next call after the connection drops.
type Client struct {
	host        string
	logger      *slog.Logger
	dialer      *websocket.Dialer
	loadTimeout time.Duration

	writeMu sync.Mutex

	mu       sync.Mutex
	conn     *websocket.Conn
	nextID   int
	calls    map[int]chan envelope
	channels map[int]*subscription
}

// Option configures a Client.
type Option func(*Client)

// WithLoadTimeout bounds how long a model load may take.
func WithLoadTimeout(d time.Duration) Option {
	return func(c *Client) { c.loadTimeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient targets host, e.g. "localhost:1234" or "http://box:1234".
func NewClient(host string, opts ...Option) *Client {
	c := &Client{
		host:        host,
		logger:      slog.Default(),
		dialer:      &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		loadTimeout: 2 * time.Minute,
		calls:       make(map[int]chan envelope),
		channels:    make(map[int]*subscription),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func namespaceURL(host, namespace string) string {
	u := url.URL{Scheme: "ws", Host: host, Path: "/" + namespace}
	switch {
	case strings.HasPrefix(host, "https://"):
		u.Scheme, u.Host = "wss", strings.TrimPrefix(host, "https://")
	case strings.HasPrefix(host, "http://"):
		u.Host = strings.TrimPrefix(host, "http://")
	case strings.HasPrefix(host, "wss://"):
		u.Scheme, u.Host = "wss", strings.TrimPrefix(host, "wss://")
	case strings.HasPrefix(host, "ws://"):
		u.Host = strings.TrimPrefix(host, "ws://")
	}
	u.Host = strings.TrimRight(u.Host, "/")
	return u.String()
}

// connect dials and authenticates if there is no live connection.
func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}

	target := namespaceURL(c.host, llmNamespace)
	c.logger.Debug("connecting to lmstudio", "url", target)
	conn, _, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	auth := map[string]any{
		"authVersion":      1,
		"clientIdentifier": uuid.NewString(),
		"clientPasskey":    uuid.NewString(),
	}
	if err := conn.WriteJSON(auth); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send auth: %w", err)
	}
	var resp struct {
		Success bool `json:"success"`
		Error   any  `json:"error"`
	}
	if err := conn.ReadJSON(&resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read auth response: %w", err)
	}
	if !resp.Success {
		conn.Close()
		return nil, fmt.Errorf("authentication rejected: %v", resp.Error)
	}
	_ = conn.SetReadDeadline(time.Time{})

	c.conn = conn
	go c.readLoop(conn)
	return conn, nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	var err error
	for {
		var env envelope
		if err = conn.ReadJSON(&env); err != nil {
			break
		}
		c.route(env)
	}

	if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
		!errors.Is(err, net.ErrClosed) {
		c.logger.Warn("lmstudio connection dropped", "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
	}
	for id, ch := range c.calls {
		close(ch)
		delete(c.calls, id)
	}
	for id, sub := range c.channels {
		close(sub.msgs)
		delete(c.channels, id)
	}
}

func (c *Client) route(env envelope) {
	switch {
	case env.Type == "communicationWarning":
		c.logger.Warn("lmstudio warning", "warning", env.Warning)

	case env.Type == "rpcResult" || env.Type == "rpcError":
		if env.CallID == nil {
			return
		}
		c.mu.Lock()
		ch, ok := c.calls[*env.CallID]
		delete(c.calls, *env.CallID)
		c.mu.Unlock()
		if ok {
			ch <- env
		}

	case strings.HasPrefix(env.Type, "channel"):
		if env.ChannelID == nil {
			return
		}
		c.mu.Lock()
		sub, ok := c.channels[*env.ChannelID]
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("message for unknown channel", "channel", *env.ChannelID, "type", env.Type)
			return
		}
		select {
		case sub.msgs <- env:
		case <-sub.done:
		}
	}
}

func (c *Client) write(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// call performs one RPC and decodes its result into out (if non-nil).
func (c *Client) call(ctx context.Context, endpoint string, param, out any) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	ch := make(chan envelope, 1)
	c.calls[id] = ch
	c.mu.Unlock()

	req := envelope{Type: "rpcCall", Endpoint: endpoint, CallID: &id, Parameter: param}
	if err := c.write(conn, req); err != nil {
		c.forgetCall(id)
		return fmt.Errorf("send %s: %w", endpoint, err)
	}

	select {
	case <-ctx.Done():
		c.forgetCall(id)
		return ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return ErrDisconnected
		}
		if resp.Type == "rpcError" {
			return fmt.Errorf("%s: %s", endpoint, resp.Error)
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", endpoint, err)
		}
		return nil
	}
}

func (c *Client) forgetCall(id int) {
	c.mu.Lock()
	delete(c.calls, id)
	c.mu.Unlock()
}

// channel is an open server-side channel.
type channel struct {
	c    *Client
	conn *websocket.Conn
	id   int
	sub  *subscription
}

func (c *Client) openChannel(ctx context.Context, endpoint string, creation any) (*channel, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	sub := &subscription{msgs: make(chan envelope, channelBuffer), done: make(chan struct{})}
	c.channels[id] = sub
	c.mu.Unlock()

	ch := &channel{c: c, conn: conn, id: id, sub: sub}
	req := envelope{Type: "channelCreate", Endpoint: endpoint, ChannelID: &id, CreationParameter: creation}
	if err := c.write(conn, req); err != nil {
		ch.close()
		return nil, fmt.Errorf("open %s channel: %w", endpoint, err)
	}
	return ch, nil
}

// next returns the next frame for the channel.
func (ch *channel) next(ctx context.Context) (envelope, error) {
	select {
	case <-ctx.Done():
		return envelope{}, ctx.Err()
	case env, ok := <-ch.sub.msgs:
		if !ok {
			return envelope{}, ErrDisconnected
		}
		return env, nil
	}
}

func (ch *channel) send(msg any) error {
	return ch.c.write(ch.conn, envelope{Type: "channelSend", ChannelID: &ch.id, Message: mustJSON(msg)})
}

func (ch *channel) close() {
	ch.c.mu.Lock()
	if _, ok := ch.c.channels[ch.id]; ok {
		delete(ch.c.channels, ch.id)
		close(ch.sub.done)
	}
	ch.c.mu.Unlock()
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("lmstudio: marshal %T: %v", v, err))
	}
	return raw
}

func decodeMessage(env envelope) (channelMessage, error) {
	var msg channelMessage
	if len(env.Message) == 0 {
		return msg, nil
	}
	err := json.Unmarshal(env.Message, &msg)
	return msg, err
}

func channelError(env envelope) error {
	if env.Error != nil {
		return errors.New(env.Error.String())
	}
	if env.Content != nil && env.Content.Error != nil {
		return errors.New(env.Content.Error.String())
	}
	return errors.New("unknown channel error")
}

// ListLoaded returns the model instances currently loaded on the server.
func (c *Client) ListLoaded(ctx context.Context) ([]LoadedModel, error) {
	var models []LoadedModel
	if err := c.call(ctx, "listLoaded", nil, &models); err != nil {
		return nil, err
	}
	return models, nil
}

// LoadModel asks the server to load modelKey and waits for it to finish.
func (c *Client) LoadModel(ctx context.Context, modelKey string) (LoadedModel, error) {
	ctx, cancel := context.WithTimeout(ctx, c.loadTimeout)
	defer cancel()

	ch, err := c.openChannel(ctx, "loadModel", map[string]any{
		"modelKey":        modelKey,
		"identifier":      modelKey,
		"loadConfigStack": map[string]any{"layers": []any{}},
	})
	if err != nil {
		return LoadedModel{}, err
	}
	defer ch.close()

	for {
		env, err := ch.next(ctx)
		if err != nil {
			return LoadedModel{}, err
		}
		switch env.Type {
		case "channelError":
			return LoadedModel{}, channelError(env)
		case "channelClose":
			return LoadedModel{}, fmt.Errorf("load channel closed before %s finished loading", modelKey)
		case "channelSend":
			msg, err := decodeMessage(env)
			if err != nil {
				c.logger.Debug("undecodable load message", "error", err)
				continue
			}
			switch msg.Type {
			case "progress":
				c.logger.Debug("loading model", "model", modelKey, "progress", msg.Progress)
			case "success":
				if msg.Info == nil || msg.Info.Identifier == "" {
					return LoadedModel{}, errors.New("load succeeded without model info")
				}
				return *msg.Info, nil
			}
		}
	}
}

// UnloadModel releases a loaded model instance.
func (c *Client) UnloadModel(ctx context.Context, identifier string) error {
	return c.call(ctx, "unloadModel", map[string]any{"identifier": identifier}, nil)
}

// Load implements llm.Runtime. Models already loaded on the server are
// reused and left loaded when the pipeline closes.
func (c *Client) Load(ctx context.Context, modelID string) (llm.Pipeline, error) {
	loaded, err := c.ListLoaded(ctx)
	if err != nil {
		return nil, fmt.Errorf("list loaded models: %w", err)
	}
	for _, m := range loaded {
		if m.Identifier == modelID || m.ModelKey == modelID {
			c.logger.Debug("reusing loaded model", "model", modelID, "instance", m.InstanceReference)
			return &pipeline{client: c, model: m}, nil
		}
	}

	c.logger.Info("asking lmstudio to load model", "model", modelID)
	m, err := c.LoadModel(ctx, modelID)
	if err != nil {
		return nil, err
	}
	if m.InstanceReference == "" {
		// Older servers omit the reference from the load reply.
		if loaded, err = c.ListLoaded(ctx); err != nil {
			return nil, fmt.Errorf("list loaded models: %w", err)
		}
		for _, l := range loaded {
			if l.Identifier == m.Identifier {
				m.InstanceReference = l.InstanceReference
			}
		}
	}
	if m.InstanceReference == "" {
		return nil, fmt.Errorf("no instance reference for %s", modelID)
	}
	return &pipeline{client: c, model: m, owned: true}, nil
}

// Close drops the connection. Pending calls fail with ErrDisconnected.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}
