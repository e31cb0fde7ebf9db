package xapi

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const jsonRPCVersion = "2.0"

// Paths of the statuses and events the lock depends on.
var (
	sessionStatusPath = []string{"Status", "Webex", "DevicePersonalization", "Hotdesking", "SessionStatus"}
	standbyStatePath  = []string{"Status", "Standby", "State"}

	feedbackPaths = []struct {
		kind EventKind
		path []string
	}{
		{EventPanelClicked, []string{"Event", "UserInterface", "Extensions", "Panel", "Clicked"}},
		{EventTextInputResponse, []string{"Event", "UserInterface", "Message", "TextInput", "Response"}},
		{EventTextInputClear, []string{"Event", "UserInterface", "Message", "TextInput", "Clear"}},
		{EventSessionStatus, sessionStatusPath},
		{EventStandbyState, standbyStatePath},
	}
)

// RPCError is an error object returned by the device.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("xapi error %d: %s: %s", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("xapi error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// WebSocketConfig configures DialWebSocket.
type WebSocketConfig struct {
	// URL of the device's xAPI endpoint, e.g. wss://10.0.0.5/ws.
	URL      string
	Username string
	Password string

	// InsecureSkipVerify disables TLS certificate verification. Devices often use self-signed
	// certificates.
	InsecureSkipVerify bool

	// SubscribeTimeout bounds the feedback subscription requests made by AddEventSignal.
	// Defaults to 10 seconds.
	SubscribeTimeout time.Duration

	// PingInterval enables WebSocket keepalive pings when non-zero.
	PingInterval time.Duration

	Logger *slog.Logger
}

// WebSocketHost is a Host backed by the device's JSON-RPC xAPI over a WebSocket.
type WebSocketHost struct {
	conn   *websocket.Conn
	cfg    WebSocketConfig
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan rpcMessage
	closed  bool
	done    chan struct{}
	readErr error

	muSignals       sync.Mutex
	eventSignals    map[chan<- Event]struct{}
	subscribed      bool
	subscriptionIDs []int
}

// DialWebSocket connects to the device and starts reading from it.
func DialWebSocket(ctx context.Context, cfg WebSocketConfig) (*WebSocketHost, error) {
	if cfg.URL == "" {
		return nil, errors.New("websocket url is empty")
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 15 * time.Second,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify},
	}
	header := http.Header{}
	if cfg.Username != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
		header.Set("Authorization", "Basic "+creds)
	}

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: %s: %s: %v", ErrNotConnected, cfg.URL, resp.Status, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrNotConnected, cfg.URL, err)
	}

	h := &WebSocketHost{
		conn:         conn,
		cfg:          cfg,
		logger:       logger.With("component", "xapi-websocket"),
		pending:      make(map[string]chan rpcMessage),
		done:         make(chan struct{}),
		eventSignals: make(map[chan<- Event]struct{}),
	}

	go h.readLoop()
	if cfg.PingInterval > 0 {
		go h.pingLoop(cfg.PingInterval)
	}

	return h, nil
}

// Done is closed when the connection to the device is lost or closed.
func (h *WebSocketHost) Done() <-chan struct{} {
	return h.done
}

// Err returns the error that ended the connection, if any.
func (h *WebSocketHost) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readErr
}

func (h *WebSocketHost) readLoop() {
	for {
		var msg rpcMessage
		if err := h.conn.ReadJSON(&msg); err != nil {
			h.shutdown(err)
			return
		}

		if msg.Method != "" {
			h.handleNotification(msg)
			continue
		}

		var id string
		if err := json.Unmarshal(msg.ID, &id); err != nil {
			h.logger.Warn("Dropping response with unexpected id", "id", string(msg.ID))
			continue
		}

		h.mu.Lock()
		ch, ok := h.pending[id]
		delete(h.pending, id)
		h.mu.Unlock()
		if !ok {
			continue
		}
		ch <- msg
	}
}

func (h *WebSocketHost) pingLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-t.C:
			h.writeMu.Lock()
			err := h.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(interval))
			h.writeMu.Unlock()
			if err != nil {
				h.logger.Warn("Ping failed", "error", err)
			}
		}
	}
}

// shutdown marks the connection as closed. Pending calls return ErrClosed.
func (h *WebSocketHost) shutdown(cause error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	if cause != nil && !websocket.IsCloseError(cause, websocket.CloseNormalClosure) {
		h.readErr = cause
	}
	clear(h.pending)
	close(h.done)
}

func (h *WebSocketHost) handleNotification(msg rpcMessage) {
	if msg.Method != "xFeedback/Event" {
		return
	}

	var params map[string]any
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		h.logger.Warn("Dropping malformed feedback", "error", err)
		return
	}

	e, ok := decodeFeedback(params)
	if !ok {
		h.logger.Debug("Ignoring unrelated feedback", "params", string(msg.Params))
		return
	}

	h.muSignals.Lock()
	defer h.muSignals.Unlock()
	if dropped := fanOut(h.eventSignals, e); dropped > 0 {
		h.logger.Warn("Event dropped, subscriber channel full", "kind", e.Kind, "subscribers", dropped)
	}
}

// decodeFeedback converts the params of an xFeedback/Event notification to an Event.
func decodeFeedback(params map[string]any) (Event, bool) {
	for _, fp := range feedbackPaths {
		v, ok := lookup(params, fp.path)
		if !ok {
			continue
		}

		e := Event{Kind: fp.kind}
		switch fp.kind {
		case EventPanelClicked:
			e.PanelID = field(v, "PanelId")
		case EventTextInputResponse:
			e.FeedbackID = field(v, "FeedbackId")
			e.Text = field(v, "Text")
		case EventTextInputClear:
			e.FeedbackID = field(v, "FeedbackId")
		case EventSessionStatus:
			s, ok := v.(string)
			if !ok {
				return Event{}, false
			}
			e.SessionStatus = SessionStatus(s)
		case EventStandbyState:
			s, ok := v.(string)
			if !ok {
				return Event{}, false
			}
			e.StandbyState = StandbyState(s)
		}
		return e, true
	}

	return Event{}, false
}

func lookup(m map[string]any, path []string) (any, bool) {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func field(v any, key string) string {
	obj, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	switch s := obj[key].(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

func (h *WebSocketHost) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if params == nil {
		params = struct{}{}
	}
	req := rpcRequest{
		JSONRPC: jsonRPCVersion,
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	}
	ch := make(chan rpcMessage, 1)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.pending[req.ID] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.pending, req.ID)
		h.mu.Unlock()
	}()

	h.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = h.conn.SetWriteDeadline(deadline)
	} else {
		_ = h.conn.SetWriteDeadline(time.Time{})
	}
	err := h.conn.WriteJSON(req)
	h.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	case <-h.done:
		return nil, ErrClosed
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("%s: %w", method, resp.Error)
		}
		return resp.Result, nil
	}
}

// command runs an xCommand. path uses the dotted notation, e.g. "Standby.Halfwake".
func (h *WebSocketHost) command(ctx context.Context, path string, params any) (json.RawMessage, error) {
	return h.call(ctx, "xCommand/"+strings.ReplaceAll(path, ".", "/"), params)
}

func (h *WebSocketHost) getString(ctx context.Context, path []string) (string, error) {
	result, err := h.call(ctx, "xGet", map[string]any{"Path": path})
	if err != nil {
		return "", err
	}

	var value string
	if err := json.Unmarshal(result, &value); err != nil {
		return "", fmt.Errorf("%s is not a string: %s", strings.Join(path, "."), result)
	}
	return value, nil
}

func (h *WebSocketHost) SavePanel(ctx context.Context, panel Panel) error {
	body, err := panel.Body()
	if err != nil {
		return err
	}
	_, err = h.command(ctx, "UserInterface.Extensions.Panel.Save", map[string]any{
		"PanelId": panel.ID,
		"body":    body,
	})
	return err
}

func (h *WebSocketHost) SetPanelVisibility(ctx context.Context, panelID string, visibility Visibility) error {
	_, err := h.command(ctx, "UserInterface.Extensions.Panel.Update", map[string]any{
		"PanelId":    panelID,
		"Visibility": visibility,
	})
	return err
}

func (h *WebSocketHost) DownloadIcon(ctx context.Context, url string) (string, error) {
	result, err := h.command(ctx, "UserInterface.Extensions.Icon.Download", map[string]any{"Url": url})
	if err != nil {
		return "", err
	}

	var out struct {
		IconID string `json:"IconId"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return "", fmt.Errorf("failed to decode icon download result: %w", err)
	}
	if out.IconID == "" {
		return "", fmt.Errorf("icon download of %s returned no icon id", url)
	}
	return out.IconID, nil
}

func (h *WebSocketHost) DisplayTextInput(ctx context.Context, input TextInput) error {
	_, err := h.command(ctx, "UserInterface.Message.TextInput.Display", map[string]any{
		"FeedbackId":  input.FeedbackID,
		"InputType":   input.InputType,
		"Placeholder": input.Placeholder,
		"SubmitText":  input.SubmitText,
		"Text":        input.Text,
		"Title":       input.Title,
	})
	return err
}

func (h *WebSocketHost) DisplayAlert(ctx context.Context, alert Alert) error {
	_, err := h.command(ctx, "UserInterface.Message.Alert.Display", map[string]any{
		"Duration": alert.Duration,
		"Text":     alert.Text,
		"Title":    alert.Title,
	})
	return err
}

func (h *WebSocketHost) Halfwake(ctx context.Context) error {
	_, err := h.command(ctx, "Standby.Halfwake", nil)
	return err
}

func (h *WebSocketHost) Logout(ctx context.Context) error {
	_, err := h.command(ctx, "Webex.Registration.Logout", nil)
	return err
}

func (h *WebSocketHost) SessionStatus(ctx context.Context) (SessionStatus, error) {
	s, err := h.getString(ctx, sessionStatusPath)
	return SessionStatus(s), err
}

func (h *WebSocketHost) StandbyState(ctx context.Context) (StandbyState, error) {
	s, err := h.getString(ctx, standbyStatePath)
	return StandbyState(s), err
}

func (h *WebSocketHost) AddEventSignal(c chan<- Event) error {
	if c == nil {
		return errors.New("AddEventSignal: channel cannot be nil")
	}

	h.muSignals.Lock()
	h.eventSignals[c] = struct{}{}
	needSubscribe := !h.subscribed
	h.subscribed = true
	h.muSignals.Unlock()

	if !needSubscribe {
		return nil
	}

	// Subscribing outside muSignals, the read loop needs it to deliver notifications.
	ids, err := h.subscribe()

	h.muSignals.Lock()
	defer h.muSignals.Unlock()
	h.subscriptionIDs = append(h.subscriptionIDs, ids...)
	if err != nil {
		h.subscribed = false
		delete(h.eventSignals, c)
		return err
	}

	return nil
}

func (h *WebSocketHost) subscribe() ([]int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SubscribeTimeout)
	defer cancel()

	var ids []int
	for _, fp := range feedbackPaths {
		result, err := h.call(ctx, "xFeedback/Subscribe", map[string]any{
			"Query":              fp.path,
			"NotifyCurrentValue": false,
		})
		if err != nil {
			return ids, fmt.Errorf("failed to subscribe to %s: %w", strings.Join(fp.path, "."), err)
		}

		var out struct {
			ID int `json:"Id"`
		}
		if err := json.Unmarshal(result, &out); err == nil {
			ids = append(ids, out.ID)
		}
	}

	return ids, nil
}

func (h *WebSocketHost) RemoveEventSignal(c chan<- Event) error {
	if c == nil {
		return errors.New("RemoveEventSignal: channel cannot be nil")
	}

	h.muSignals.Lock()
	delete(h.eventSignals, c)
	var ids []int
	if len(h.eventSignals) == 0 && h.subscribed {
		ids = h.subscriptionIDs
		h.subscriptionIDs = nil
		h.subscribed = false
	}
	h.muSignals.Unlock()

	return h.unsubscribe(ids)
}

func (h *WebSocketHost) unsubscribe(ids []int) error {
	if len(ids) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SubscribeTimeout)
	defer cancel()

	var err error
	for _, id := range ids {
		if _, callErr := h.call(ctx, "xFeedback/Unsubscribe", map[string]any{"Id": id}); callErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to unsubscribe feedback %d: %w", id, callErr))
		}
	}
	return err
}

func (h *WebSocketHost) Close() error {
	h.muSignals.Lock()
	clear(h.eventSignals)
	h.muSignals.Unlock()

	h.writeMu.Lock()
	msgErr := h.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	h.writeMu.Unlock()

	h.shutdown(nil)

	var err error
	if msgErr != nil && !errors.Is(msgErr, websocket.ErrCloseSent) {
		err = errors.Join(err, fmt.Errorf("failed to send close message: %w", msgErr))
	}
	if closeErr := h.conn.Close(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("failed to close websocket: %w", closeErr))
	}
	return err
}
