package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/signalsfoundry/incident-simulator/internal/animation"
	"github.com/signalsfoundry/incident-simulator/internal/config"
	"github.com/signalsfoundry/incident-simulator/internal/logging"
	"github.com/signalsfoundry/incident-simulator/internal/observability"
	"github.com/signalsfoundry/incident-simulator/internal/routing"
	"github.com/signalsfoundry/incident-simulator/internal/scheduler"
	"github.com/signalsfoundry/incident-simulator/internal/server"
	"github.com/signalsfoundry/incident-simulator/internal/simulator"
	"github.com/signalsfoundry/incident-simulator/internal/view"
	"github.com/signalsfoundry/incident-simulator/kb"
	"github.com/signalsfoundry/incident-simulator/model"
	"github.com/signalsfoundry/incident-simulator/timectrl"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (optional)")
	httpAddr := flag.String("http-addr", "", "HTTP address for /metrics, /map and /incidents (overrides config)")
	grpcAddr := flag.String("grpc-addr", "", "TCP address for the gRPC health server (overrides config)")
	catalogPath := flag.String("catalog", "", "Path to the facility catalog JSON (overrides config)")
	flag.Parse()

	bootLog := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loader, err := config.Load(*configPath)
	if err != nil {
		bootLog.Error(ctx, "failed to load config", logging.Err(err))
		os.Exit(1)
	}
	cfg := loader.Current()
	if *httpAddr != "" {
		cfg.Server.HTTPAddr = *httpAddr
	}
	if *grpcAddr != "" {
		cfg.Server.GRPCAddr = *grpcAddr
	}
	if *catalogPath != "" {
		cfg.Catalog.Path = *catalogPath
	}

	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, AddSource: true})
	if err := run(ctx, cfg, loader, log, nil, nil); err != nil {
		log.Error(ctx, "incident simulator exited", logging.Err(err))
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled. Nil listeners
// are opened on the configured addresses; loader may be nil to disable hot
// reload.
func run(ctx context.Context, cfg config.AppConfig, loader *config.Loader, log logging.Logger, grpcLis, httpLis net.Listener) error {
	if log == nil {
		log = logging.Noop()
	}

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := observability.NewSimulatorCollector(reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	schedMetrics, err := observability.NewSchedulerCollector(reg)
	if err != nil {
		return fmt.Errorf("scheduler metrics: %w", err)
	}

	loaded, err := kb.LoadCatalogFile(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	for _, key := range loaded.SkippedTypes {
		log.Warn(ctx, "skipping unknown facility type", logging.String("type", key), logging.String("path", cfg.Catalog.Path))
	}
	index := kb.NewFacilityIndex(loaded.Catalog)
	log.Info(ctx, "loaded facility catalog",
		logging.String("path", cfg.Catalog.Path),
		logging.Int("facilities", index.Len()),
	)

	mapView := view.NewMapView(view.WithMetricsRecorder(collector))
	placeFacilities(mapView, index)

	mode := timectrl.RealTime
	if strings.EqualFold(cfg.Simulation.Mode, "accelerated") {
		mode = timectrl.Accelerated
	}
	tc := timectrl.NewTimeController(time.Now(), cfg.Simulation.Tick, mode)
	sched := scheduler.NewEventScheduler(tc)
	tc.AddListener(tickListener(sched, schedMetrics))

	routes, err := routing.NewClient(cfg.Routing.BaseURL, cfg.Routing.APIKey,
		routing.WithHTTPClient(&http.Client{Timeout: cfg.Routing.Timeout}),
		routing.WithProfile(cfg.Routing.Profile),
		routing.WithLogger(log),
		routing.WithMetricsRecorder(collector),
	)
	if err != nil {
		return err
	}
	if cfg.Routing.APIKey == "" {
		log.Warn(ctx, "routing.api_key is empty; the provider will likely reject every request")
	}

	sim, err := simulator.New(simulatorConfig(cfg.Simulation), index, routes, mapView,
		animation.NewController(sched), sched,
		simulator.WithLogger(log),
		simulator.WithMetricsRecorder(collector),
	)
	if err != nil {
		return err
	}

	grpcSrv := server.NewGRPC(log, collector)
	if grpcLis == nil {
		if grpcLis, err = net.Listen("tcp", cfg.Server.GRPCAddr); err != nil {
			return fmt.Errorf("listen gRPC %s: %w", cfg.Server.GRPCAddr, err)
		}
	}
	if httpLis == nil {
		if httpLis, err = net.Listen("tcp", cfg.Server.HTTPAddr); err != nil {
			_ = grpcLis.Close()
			return fmt.Errorf("listen HTTP %s: %w", cfg.Server.HTTPAddr, err)
		}
	}
	httpSrv := &http.Server{
		Handler:           server.NewHTTPHandler(sim, mapView, collector.Handler(), log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info(ctx, "starting gRPC server", logging.String("addr", grpcLis.Addr().String()))
		if err := grpcSrv.Server.Serve(grpcLis); err != nil {
			log.Error(ctx, "gRPC server exited", logging.Err(err))
		}
	}()
	go func() {
		log.Info(ctx, "starting HTTP server", logging.String("addr", httpLis.Addr().String()))
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "HTTP server exited", logging.Err(err))
		}
	}()

	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := tc.Start(loopCtx, 0)

	trigger := newTrigger(sim, cfg.Simulation.SpawnPeriod)
	if loader != nil {
		var (
			reloadMu sync.Mutex
			applied  = loader.Current()
		)
		loader.OnChange(func(next config.AppConfig) {
			reloadMu.Lock()
			defer reloadMu.Unlock()

			if trigger.reset(next.Simulation.SpawnPeriod) {
				log.Info(ctx, "spawn period reloaded", logging.Duration("period", next.Simulation.SpawnPeriod))
			}
			if err := sim.Reconfigure(simulatorConfig(next.Simulation)); err != nil {
				log.Warn(ctx, "ignoring reloaded spawn area", logging.Err(err))
			} else {
				log.Info(ctx, "spawn area reloaded",
					logging.Float64("radius_m", next.Simulation.RadiusMeters),
					logging.Duration("step_interval", next.Simulation.StepInterval),
				)
			}
			if keys := restartOnlyChanges(applied, next); len(keys) > 0 {
				log.Warn(ctx, "reloaded settings take effect after restart", logging.String("keys", strings.Join(keys, ",")))
			}
			applied = next
		})
		loader.OnError(func(err error) {
			log.Warn(ctx, "ignoring invalid config reload", logging.Err(err))
		})
		loader.Watch()
	}
	grpcSrv.SetServing(true)
	log.Info(ctx, "incident simulation running",
		logging.String("mode", mode.String()),
		logging.Duration("spawn_period", cfg.Simulation.SpawnPeriod),
		logging.Float64("radius_m", cfg.Simulation.RadiusMeters),
	)

	<-ctx.Done()
	log.Info(context.Background(), "shutting down incident simulator")

	trigger.stop()
	grpcSrv.SetServing(false)
	sim.Close()
	stopLoop()
	<-loopDone

	grpcSrv.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "HTTP shutdown", logging.Err(err))
	}
	return nil
}

// tickListener runs due events on every controller tick, which makes the
// controller goroutine the loop that animations and the trigger run on.
func tickListener(sched scheduler.EventScheduler, metrics *observability.SchedulerCollector) func(time.Time) {
	return func(simNow time.Time) {
		start := time.Now()
		sched.RunDue()
		metrics.ObserveTick(time.Since(start), sched.Pending())
		metrics.SetSimTimeLag(time.Since(simNow))
	}
}

func simulatorConfig(s config.SimulationConfig) simulator.Config {
	cfg := simulator.DefaultConfig()
	cfg.Center = s.Center()
	cfg.RadiusMeters = s.RadiusMeters
	cfg.Bounds = s.Bounds()
	cfg.StepInterval = s.StepInterval
	cfg.History = s.History
	cfg.Seed = s.Seed
	return cfg
}

// restartOnlyChanges lists the reloaded sections that the running process
// cannot apply in place.
func restartOnlyChanges(prev, next config.AppConfig) []string {
	var keys []string
	if prev.Simulation.Mode != next.Simulation.Mode {
		keys = append(keys, "simulation.mode")
	}
	if prev.Simulation.Tick != next.Simulation.Tick {
		keys = append(keys, "simulation.tick")
	}
	if prev.Simulation.History != next.Simulation.History {
		keys = append(keys, "simulation.history")
	}
	if prev.Simulation.Seed != next.Simulation.Seed {
		keys = append(keys, "simulation.seed")
	}
	if prev.Log != next.Log {
		keys = append(keys, "log")
	}
	if prev.Routing != next.Routing {
		keys = append(keys, "routing")
	}
	if prev.Catalog != next.Catalog {
		keys = append(keys, "catalog")
	}
	if prev.Server != next.Server {
		keys = append(keys, "server")
	}
	if prev.Tracing != next.Tracing {
		keys = append(keys, "tracing")
	}
	return keys
}

// placeFacilities puts a static marker on the map for every facility.
func placeFacilities(v view.View, index *kb.FacilityIndex) {
	for _, ft := range model.FacilityTypes() {
		for _, f := range index.Facilities(ft) {
			v.AddMarker(f.Location, ft.String())
		}
	}
}

// trigger owns the repeating spawn so its period can change on reload.
type trigger struct {
	sim *simulator.Simulator

	mu     sync.Mutex
	period time.Duration
	cancel func()
}

func newTrigger(sim *simulator.Simulator, period time.Duration) *trigger {
	return &trigger{sim: sim, period: period, cancel: sim.StartTrigger(period)}
}

// reset restarts the trigger when period differs from the current one.
func (t *trigger) reset(period time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if period == t.period || t.cancel == nil {
		return false
	}
	t.cancel()
	t.period = period
	t.cancel = t.sim.StartTrigger(period)
	return true
}

func (t *trigger) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}
