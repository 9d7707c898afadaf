// Package bridge reaches the platform collaborators (camera, radios, GPS and
// permission prompts) of a companion device over MQTT.
//
// Topics live under a configurable prefix:
//
//	{prefix}/barcode/detections       device -> gateway, []Detection
//	{prefix}/location                 device -> gateway, position fix
//	{prefix}/ble/advertisements       device -> gateway, Advertisement
//	{prefix}/ble/state                device -> gateway, adapter state
//	{prefix}/rpc/{method}/request     gateway -> device, request envelope
//	{prefix}/rpc/{method}/response    device -> gateway, response envelope
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	barcodemodels "scanmap/internal/barcode/models"
	btmodels "scanmap/internal/bluetooth/models"
	"scanmap/internal/geo"
	"scanmap/internal/platform/config"
	"scanmap/pkg/platform/circuit"
	"scanmap/pkg/platform/sentinel"
)

const (
	DefaultRequestTimeout = 10 * time.Second

	breakerFailures = 3
	breakerCooldown = 30 * time.Second

	qos          = 1
	disconnectMs = 250
)

// RPC methods served by the companion device.
const (
	MethodWifiEnabled       = "wifi.enabled"
	MethodWifiScan          = "wifi.scan"
	MethodWifiConnect       = "wifi.connect"
	MethodBLEStart          = "ble.start"
	MethodBLEStop           = "ble.stop"
	MethodPermissionCheck   = "permission.check"
	MethodPermissionRequest = "permission.request"
)

// Error codes carried by responses and mapped to sentinel errors.
const (
	CodePoweredOff       = "powered_off"
	CodeUnavailable      = "unavailable"
	CodeTimeout          = "timeout"
	CodePermissionDenied = "permission_denied"
)

// Request is the envelope published on a request topic.
type Request struct {
	ID     string          `json:"id"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the envelope the device publishes back.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
}

// Fix is a position published by the device.
type Fix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// AdapterState is published on the ble/state topic.
type AdapterState struct {
	State string `json:"state"`
}

const StatePoweredOff = "poweredOff"

// Bridge multiplexes all collaborators over one MQTT client.
type Bridge struct {
	client     mqtt.Client
	prefix     string
	timeout    time.Duration
	logger     *slog.Logger
	onPosition func(geo.Position, time.Time)
	detections chan []barcodemodels.Detection
	breaker    *circuit.Breaker

	mu      sync.Mutex
	pending map[string]chan Response
	ble     func(error, *btmodels.Advertisement)
}

// Option configures a Bridge.
type Option func(*Bridge)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithRequestTimeout bounds how long an RPC waits for its response.
func WithRequestTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithBreaker replaces the breaker that fails requests fast while the device
// is not answering.
func WithBreaker(br *circuit.Breaker) Option {
	return func(b *Bridge) {
		if br != nil {
			b.breaker = br
		}
	}
}

// WithPositionHandler receives every fix published by the device,
// typically geo.Tracker.Update.
func WithPositionHandler(fn func(geo.Position, time.Time)) Option {
	return func(b *Bridge) {
		b.onPosition = fn
	}
}

// Dial connects to the configured broker and starts the bridge.
func Dial(ctx context.Context, cfg config.MQTTConfig, opts ...Option) (*Bridge, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker not configured: %w", sentinel.ErrUnavailable)
	}
	var b *Bridge
	clientOpts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			if b != nil {
				b.logger.Warn("mqtt connection lost", "error", err)
			}
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			// Subscriptions do not survive a clean-session reconnect.
			if b != nil {
				if err := b.subscribe(); err != nil {
					b.logger.Error("mqtt resubscribe failed", "error", err)
				}
			}
		})

	b = New(mqtt.NewClient(clientOpts), cfg.TopicPrefix, opts...)
	token := b.client.Connect()
	if err := wait(ctx, token, b.timeout); err != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", cfg.Broker, err)
	}
	b.logger.Info("connected to mqtt broker", "broker", cfg.Broker, "client_id", cfg.ClientID)
	return b, nil
}

// New wraps an existing client. Start must be called once the client is
// connected.
func New(client mqtt.Client, prefix string, opts ...Option) *Bridge {
	b := &Bridge{
		client:     client,
		prefix:     strings.TrimSuffix(prefix, "/"),
		timeout:    DefaultRequestTimeout,
		logger:     slog.Default(),
		detections: make(chan []barcodemodels.Detection, 16),
		pending:    make(map[string]chan Response),
		breaker:    circuit.New("companion-device", circuit.WithFailureThreshold(breakerFailures), circuit.WithCooldown(breakerCooldown)),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "bridge")
	return b
}

// Start subscribes to every device topic.
func (b *Bridge) Start() error {
	return b.subscribe()
}

// Close disconnects from the broker.
func (b *Bridge) Close() {
	b.client.Disconnect(disconnectMs)
}

func (b *Bridge) topic(parts ...string) string {
	return b.prefix + "/" + strings.Join(parts, "/")
}

func (b *Bridge) subscribe() error {
	filters := map[string]byte{
		b.topic("barcode", "detections"): qos,
		b.topic("location"):              qos,
		b.topic("ble", "advertisements"): qos,
		b.topic("ble", "state"):          qos,
		b.topic("rpc", "+", "response"):  qos,
	}
	token := b.client.SubscribeMultiple(filters, b.route)
	if err := wait(context.Background(), token, b.timeout); err != nil {
		return fmt.Errorf("subscribe to device topics: %w", err)
	}
	return nil
}

func (b *Bridge) route(_ mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()
	switch {
	case topic == b.topic("barcode", "detections"):
		b.handleDetections(msg.Payload())
	case topic == b.topic("location"):
		b.handleFix(msg.Payload())
	case topic == b.topic("ble", "advertisements"):
		b.handleAdvertisement(msg.Payload())
	case topic == b.topic("ble", "state"):
		b.handleAdapterState(msg.Payload())
	case strings.HasPrefix(topic, b.topic("rpc")+"/") && strings.HasSuffix(topic, "/response"):
		b.handleResponse(msg.Payload())
	default:
		b.logger.Debug("ignoring message", "topic", topic)
	}
}

func (b *Bridge) handleDetections(payload []byte) {
	var detections []barcodemodels.Detection
	if err := json.Unmarshal(payload, &detections); err != nil {
		b.logger.Warn("invalid detections payload", "error", err)
		return
	}
	select {
	case b.detections <- detections:
	default:
		b.logger.Warn("detection queue full, dropping event", "codes", len(detections))
	}
}

func (b *Bridge) handleFix(payload []byte) {
	var fix Fix
	if err := json.Unmarshal(payload, &fix); err != nil {
		b.logger.Warn("invalid location payload", "error", err)
		return
	}
	if fix.Timestamp.IsZero() {
		fix.Timestamp = time.Now()
	}
	if b.onPosition != nil {
		b.onPosition(geo.Position{Latitude: fix.Latitude, Longitude: fix.Longitude}, fix.Timestamp)
	}
}

func (b *Bridge) handleAdvertisement(payload []byte) {
	var adv btmodels.Advertisement
	if err := json.Unmarshal(payload, &adv); err != nil {
		b.logger.Warn("invalid advertisement payload", "error", err)
		return
	}
	if handle := b.bleHandler(); handle != nil {
		handle(nil, &adv)
	}
}

func (b *Bridge) handleAdapterState(payload []byte) {
	var st AdapterState
	if err := json.Unmarshal(payload, &st); err != nil {
		b.logger.Warn("invalid adapter state payload", "error", err)
		return
	}
	if st.State != StatePoweredOff {
		return
	}
	if handle := b.bleHandler(); handle != nil {
		handle(fmt.Errorf("bluetooth adapter: %w", sentinel.ErrPoweredOff), nil)
	}
}

func (b *Bridge) handleResponse(payload []byte) {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		b.logger.Warn("invalid rpc response", "error", err)
		return
	}
	b.mu.Lock()
	ch, ok := b.pending[resp.ID]
	delete(b.pending, resp.ID)
	b.mu.Unlock()
	if !ok {
		b.logger.Debug("response without pending request", "id", resp.ID)
		return
	}
	ch <- resp
}

func (b *Bridge) bleHandler() func(error, *btmodels.Advertisement) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ble
}

func (b *Bridge) setBLEHandler(fn func(error, *btmodels.Advertisement)) {
	b.mu.Lock()
	b.ble = fn
	b.mu.Unlock()
}

// call publishes a request and decodes the matching response into out.
func (b *Bridge) call(ctx context.Context, method string, params, out any) error {
	if !b.breaker.Allow() {
		return fmt.Errorf("%s: companion device not responding: %w", method, sentinel.ErrUnavailable)
	}
	req := Request{ID: uuid.NewString()}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode %s params: %w", method, err)
		}
		req.Params = raw
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	ch := make(chan Response, 1)
	b.mu.Lock()
	b.pending[req.ID] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, req.ID)
		b.mu.Unlock()
	}()

	token := b.client.Publish(b.topic("rpc", method, "request"), qos, false, payload)
	if err := wait(ctx, token, b.timeout); err != nil {
		b.recordFailure(method)
		return fmt.Errorf("publish %s: %w", method, err)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		b.recordFailure(method)
		return fmt.Errorf("%s: no response after %s: %w", method, b.timeout, sentinel.ErrTimeout)
	case resp := <-ch:
		if _, change := b.breaker.RecordSuccess(); change.Closed {
			b.logger.Info("companion device answering again")
		}
		if resp.Error != "" {
			return fmt.Errorf("%s: %s: %w", method, resp.Error, codeError(resp.Code))
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	}
}

func (b *Bridge) recordFailure(method string) {
	if _, change := b.breaker.RecordFailure(); change.Opened {
		b.logger.Warn("companion device not responding, failing requests fast", "method", method)
	}
}

func codeError(code string) error {
	switch code {
	case CodePoweredOff:
		return sentinel.ErrPoweredOff
	case CodeTimeout:
		return sentinel.ErrTimeout
	case CodePermissionDenied:
		return sentinel.ErrPermissionDenied
	default:
		return sentinel.ErrUnavailable
	}
}

func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("mqtt operation: %w", sentinel.ErrTimeout)
	}
}
