// Command radio-sim plays the companion device: it answers the gateway's
// radio and permission requests and publishes GPS fixes, BLE advertisements
// and barcode detections over MQTT.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	barcodemodels "scanmap/internal/barcode/models"
	btmodels "scanmap/internal/bluetooth/models"
	"scanmap/internal/bridge"
	"scanmap/internal/permission"
	wifimodels "scanmap/internal/wifi/models"
)

type simulator struct {
	client  mqtt.Client
	prefix  string
	lat     float64
	lon     float64
	wifiOff bool
	blocked map[permission.Name]bool
	log     *slog.Logger

	mu      sync.Mutex
	bleStop context.CancelFunc
}

func main() {
	brokerAddr := flag.String("broker", "tcp://localhost:1883", "MQTT broker address, e.g. tcp://localhost:1883")
	prefix := flag.String("prefix", "scanmap", "Topic prefix shared with the gateway")
	lat := flag.Float64("lat", 50.4501, "Simulated latitude")
	lon := flag.Float64("lon", 30.5234, "Simulated longitude")
	interval := flag.Duration("interval", 2*time.Second, "Interval between GPS fixes")
	barcodeEvery := flag.Duration("barcode-interval", 0, "Interval between simulated barcode detections, 0 disables")
	wifiOff := flag.Bool("wifi-off", false, "Report the WiFi radio as disabled")
	blocked := flag.String("blocked", "", "Comma separated permissions answered with never_ask_again")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	sim := &simulator{
		prefix:  strings.TrimSuffix(*prefix, "/"),
		lat:     *lat,
		lon:     *lon,
		wifiOff: *wifiOff,
		blocked: map[permission.Name]bool{},
		log:     log,
	}
	for _, name := range strings.Split(*blocked, ",") {
		if name = strings.TrimSpace(name); name != "" {
			sim.blocked[permission.Name(name)] = true
		}
	}

	clientID := fmt.Sprintf("radio-sim-%d", time.Now().UnixNano())
	opts := mqtt.NewClientOptions().AddBroker(*brokerAddr).SetClientID(clientID).SetOrderMatters(false)
	sim.client = mqtt.NewClient(opts)
	if token := sim.client.Connect(); token.Wait() && token.Error() != nil {
		log.Error("failed to connect to broker", "error", token.Error())
		os.Exit(1)
	}
	log.Info("connected to MQTT broker", "broker", *brokerAddr, "client_id", clientID)

	if token := sim.client.Subscribe(sim.topic("rpc", "+", "request"), 1, sim.handleRequest); token.Wait() && token.Error() != nil {
		log.Error("failed to subscribe", "error", token.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	var barcodes <-chan time.Time
	if *barcodeEvery > 0 {
		t := time.NewTicker(*barcodeEvery)
		defer t.Stop()
		barcodes = t.C
	}

	sim.publishFix()
	for {
		select {
		case <-ctx.Done():
			log.Info("received shutdown signal, disconnecting")
			sim.client.Disconnect(250)
			return
		case <-ticker.C:
			sim.publishFix()
		case <-barcodes:
			sim.publish(sim.topic("barcode", "detections"), []barcodemodels.Detection{{
				Value: fmt.Sprintf("%013d", rand.Uint64N(1e13)),
				Type:  "ean-13",
			}})
		}
	}
}

func (s *simulator) topic(parts ...string) string {
	return s.prefix + "/" + strings.Join(parts, "/")
}

func (s *simulator) publish(topic string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("failed to encode payload", "topic", topic, "error", err)
		return
	}
	token := s.client.Publish(topic, 1, false, data)
	token.Wait()
	if err := token.Error(); err != nil {
		s.log.Error("publish error", "topic", topic, "error", err)
	}
}

func (s *simulator) publishFix() {
	s.publish(s.topic("location"), bridge.Fix{
		Latitude:  s.lat + (rand.Float64()-0.5)*0.0005,
		Longitude: s.lon + (rand.Float64()-0.5)*0.0005,
		Timestamp: time.Now().UTC(),
	})
}

func (s *simulator) handleRequest(_ mqtt.Client, msg mqtt.Message) {
	method := strings.TrimSuffix(strings.TrimPrefix(msg.Topic(), s.topic("rpc")+"/"), "/request")
	var req bridge.Request
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		s.log.Warn("invalid request", "method", method, "error", err)
		return
	}

	resp := bridge.Response{ID: req.ID}
	result, err := s.answer(method, req.Params)
	if err != nil {
		resp.Error = err.Error()
		resp.Code = bridge.CodeUnavailable
	} else if result != nil {
		resp.Result, _ = json.Marshal(result)
	}
	s.log.Info("answered request", "method", method, "error", resp.Error)
	s.publish(s.topic("rpc", method, "response"), resp)
}

func (s *simulator) answer(method string, params json.RawMessage) (any, error) {
	switch method {
	case bridge.MethodWifiEnabled:
		return map[string]bool{"enabled": !s.wifiOff}, nil
	case bridge.MethodWifiScan:
		return s.networks(), nil
	case bridge.MethodWifiConnect:
		return nil, nil
	case bridge.MethodBLEStart:
		s.startAdvertising()
		return nil, nil
	case bridge.MethodBLEStop:
		s.stopAdvertising()
		return nil, nil
	case bridge.MethodPermissionCheck, bridge.MethodPermissionRequest:
		var p struct {
			Name permission.Name `json:"name"`
		}
		_ = json.Unmarshal(params, &p)
		if method == bridge.MethodPermissionCheck {
			return map[string]bool{"granted": !s.blocked[p.Name]}, nil
		}
		if s.blocked[p.Name] {
			return map[string]permission.Result{"result": permission.NeverAskAgain}, nil
		}
		return map[string]permission.Result{"result": permission.Granted}, nil
	default:
		return nil, fmt.Errorf("unknown method %q", method)
	}
}

func (s *simulator) networks() []wifimodels.Network {
	n := 1 + rand.IntN(5)
	out := make([]wifimodels.Network, 0, n)
	for i := range n {
		out = append(out, wifimodels.Network{
			SSID:         fmt.Sprintf("sim-net-%d", i),
			BSSID:        fmt.Sprintf("02:00:00:00:00:%02x", i),
			Capabilities: "[WPA2-PSK-CCMP][ESS]",
			Frequency:    []int{2412, 2437, 5180}[rand.IntN(3)],
			Level:        -30 - rand.IntN(60),
			Timestamp:    time.Now().UnixMicro(),
		})
	}
	return out
}

func (s *simulator) startAdvertising() {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.bleStop != nil {
		s.bleStop()
	}
	s.bleStop = cancel
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				name := fmt.Sprintf("sim-tag-%d", i%4)
				connectable := i%2 == 0
				s.publish(s.topic("ble", "advertisements"), btmodels.Advertisement{
					ID:            fmt.Sprintf("C0:FF:EE:00:00:%02X", i%4),
					Name:          &name,
					RSSI:          -50 - rand.IntN(40),
					IsConnectable: &connectable,
				})
			}
		}
	}()
}

func (s *simulator) stopAdvertising() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bleStop != nil {
		s.bleStop()
		s.bleStop = nil
	}
}
