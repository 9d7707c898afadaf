package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"scanmap/internal/barcode"
	barcodemodels "scanmap/internal/barcode/models"
	"scanmap/internal/bluetooth"
	btmodels "scanmap/internal/bluetooth/models"
	"scanmap/internal/bridge"
	"scanmap/internal/geo"
	"scanmap/internal/identity"
	"scanmap/internal/mapview"
	"scanmap/internal/permission"
	"scanmap/internal/platform/config"
	"scanmap/internal/platform/httpserver"
	"scanmap/internal/platform/logger"
	"scanmap/internal/platform/metrics"
	"scanmap/internal/platform/telemetry"
	"scanmap/internal/sync/cache"
	"scanmap/internal/sync/service"
	httptransport "scanmap/internal/transport/http"
	"scanmap/internal/wifi"
	wifimodels "scanmap/internal/wifi/models"
)

const (
	shutdownGrace = 10 * time.Second
	flushTimeout  = 2 * time.Second
)

// main wires high-level dependencies and keeps the process lifecycle small.
// Scan and sync logic lives in the internal packages.
func main() {
	cfg, err := config.FromEnv()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	reporter, err := telemetry.NewSentry(telemetry.Options{
		DSN:         cfg.Telemetry.DSN,
		Environment: cfg.Telemetry.Environment,
		Release:     cfg.Telemetry.Release,
	})
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel, cfg.Server.LogFormat, reporter)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = run(ctx, cfg, log, reporter)
	reporter.Flush(flushTimeout)
	if err != nil {
		log.Error("scanmap gateway stopped", "error", err)
		os.Exit(1)
	}
	log.Info("scanmap gateway stopped")
}

func identityProvider(cfg config.Identity) identity.Provider {
	if cfg.InstallationID != "" {
		return identity.Static(cfg.InstallationID)
	}
	return identity.NewFileProvider(cfg.File)
}

// collaborators are the platform-side radios and prompts.
type collaborators struct {
	wifi     wifi.Radio
	ble      bluetooth.Radio
	prompter permission.Prompter
	bridge   *bridge.Bridge
}

func connectCollaborators(ctx context.Context, cfg config.MQTTConfig, tracker *geo.Tracker, log *slog.Logger) (collaborators, error) {
	if cfg.Broker == "" {
		log.Warn("no mqtt broker configured, scans are unavailable")
		return collaborators{wifi: bridge.Offline{}, ble: bridge.Offline{}, prompter: bridge.Offline{}}, nil
	}
	b, err := bridge.Dial(ctx, cfg, bridge.WithLogger(log), bridge.WithPositionHandler(tracker.Update))
	if err != nil {
		return collaborators{}, err
	}
	return collaborators{wifi: b.WiFi(), ble: b.BLE(), prompter: b.Prompter(), bridge: b}, nil
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger, reporter telemetry.Reporter) error {
	ident := identityProvider(cfg.Identity)
	installationID, err := ident.InstallationID(ctx)
	if err != nil {
		return err
	}
	log.Info("starting scanmap gateway", "addr", cfg.Server.Addr, "installation_id", installationID, "docstore", cfg.DocStore.Backend)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.New(reg)

	docs, err := openDocStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer docs.close()

	syncOpts := []service.Option{
		service.WithLogger(log),
		service.WithReporter(reporter),
		service.WithMetrics(service.NewMetrics(reg)),
		service.WithTracer(otel.Tracer("scanmap/sync")),
	}
	barcodes := service.New(barcode.Domain(), docs.store, ident, cache.New[string, barcodemodels.Barcode](), syncOpts...)
	networks := service.New(wifi.Domain(), docs.store, ident, cache.New[string, wifimodels.Record](), syncOpts...)
	devices := service.New(bluetooth.Domain(), docs.store, ident, cache.New[string, btmodels.Record](), syncOpts...)

	for _, sub := range []interface {
		Subscribe(context.Context) error
		Unsubscribe()
	}{barcodes, networks, devices} {
		if err := sub.Subscribe(ctx); err != nil {
			return err
		}
		defer sub.Unsubscribe()
	}

	tracker := geo.NewTracker(geo.WithTimeout(cfg.Scan.GeoTimeout), geo.WithMaximumAge(cfg.Scan.GeoMaxAge))
	collab, err := connectCollaborators(ctx, cfg.MQTT, tracker, log)
	if err != nil {
		return err
	}
	if collab.bridge != nil {
		defer collab.bridge.Close()
	}

	barcodeScanner := barcode.NewScanner(barcodes, barcodes.Cache(),
		barcode.WithDebounce(cfg.Scan.BarcodeDebounce),
		barcode.WithLogger(log),
		barcode.WithMetrics(appMetrics),
	)
	wifiScanner := wifi.NewScanner(collab.wifi, tracker, networks,
		wifi.WithLogger(log),
		wifi.WithMetrics(appMetrics),
	)
	placement := geo.NewRandomCircle(
		geo.Position{Latitude: cfg.Scan.RandomGeoLat, Longitude: cfg.Scan.RandomGeoLon},
		cfg.Scan.RandomGeoRadius,
		uint64(time.Now().UnixNano()),
	)
	bluetoothScanner := bluetooth.NewScanner(collab.ble, placement, devices,
		bluetooth.WithWindow(cfg.Scan.BLEWindow),
		bluetooth.WithLogger(log),
		bluetooth.WithMetrics(appMetrics),
	)
	permissions := permission.NewSet(collab.prompter,
		permission.WithLogger(log),
		permission.WithOnBlocked(func(name permission.Name) {
			log.Warn("permission blocked, it must be granted in the system settings", "permission", string(name))
		}),
	)

	handler := httptransport.NewHandler(httptransport.Deps{
		Collections: map[string]httptransport.Collection{
			barcodemodels.Collection: httptransport.NewCollection[barcodemodels.Barcode](barcodes),
			wifimodels.Collection:    httptransport.NewCollection[wifimodels.Record](networks),
			btmodels.Collection:      httptransport.NewCollection[btmodels.Record](devices),
		},
		Barcodes:    barcodeScanner,
		Networks:    wifiScanner,
		Devices:     bluetoothScanner,
		Map:         mapview.NewProjector(tracker, networks.Cache(), devices.Cache(), log),
		Permissions: permissions,
		Health:      docs.health,
		Gatherer:    reg,
		Metrics:     appMetrics,
		Logger:      log,
	})
	srv := httpserver.New(cfg.Server.Addr, httptransport.NewRouter(handler))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, srv, shutdownGrace)
	})
	if collab.bridge != nil {
		g.Go(func() error {
			return barcodeScanner.Run(gctx, collab.bridge.Detections())
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
