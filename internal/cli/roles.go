package cli

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fieldcore/runtime/internal/broker"
	"github.com/fieldcore/runtime/internal/buffer"
	"github.com/fieldcore/runtime/internal/config"
	"github.com/fieldcore/runtime/internal/device"
	"github.com/fieldcore/runtime/internal/exec"
	"github.com/fieldcore/runtime/internal/process"
	"github.com/fieldcore/runtime/internal/rpc"
	"github.com/fieldcore/runtime/internal/studentcode"
	pkgdevice "github.com/fieldcore/runtime/pkg/device"
)

func loadCatalog(cfg *config.Config) (pkgdevice.Catalog, error) {
	catalog, err := pkgdevice.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("cli: load device catalog: %w", err)
	}
	return catalog, nil
}

func compileTimeoutRules(rules []config.TimeoutPattern) ([]exec.TimeoutRule, error) {
	out := make([]exec.TimeoutRule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("cli: compile timeout rule %q: %w", r.Pattern, err)
		}
		out = append(out, exec.TimeoutRule{Pattern: re, Timeout: r.Timeout})
	}
	return out, nil
}

// runDeviceRole hosts the serial device manager behind a ROUTER socket:
// the broker and executor processes reach list_uids/ping/subscribe/read/
// heartbeat here as RPC calls.
func runDeviceRole(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	var shutdown process.ShutdownStack
	defer shutdown.Unwind(logger)

	buffers := buffer.NewManager(catalog)
	shutdown.Push(buffers.CloseAll)

	observer := device.NewPollingObserver(cfg.Device.ObserveEvery, logger)
	manager := device.NewManager(catalog, buffers, observer, cfg.Device.Baud, logger)

	node := rpc.NewSocketNode(rpc.KindRouter, cfg.RPC.DeviceAddress, true, "", logger)
	if err := node.Open(ctx); err != nil {
		return fmt.Errorf("cli: open device rpc socket: %w", err)
	}
	shutdown.Push(node.Close)

	service := rpc.NewService(node, manager, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return manager.Run(gctx) })
	g.Go(func() error { return service.Run(gctx, cfg.RPC.Concurrency) })
	return waitForShutdown(g)
}

// runExecutorRole hosts the sync/async executors and the student code
// dispatcher behind a ROUTER socket.
func runExecutorRole(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var shutdown process.ShutdownStack
	defer shutdown.Unwind(logger)

	g, gctx := errgroup.WithContext(ctx)

	onIdle, err := deviceDisableHook(gctx, cfg, "executor", &shutdown, g, logger)
	if err != nil {
		return err
	}

	onEstop := func() {
		logger.Warn("emergency stop dispatched, exiting executor process")
		os.Exit(process.ExitEstop)
	}
	dispatcher, err := buildDispatcher(ctx, cfg, onEstop, onIdle, logger)
	if err != nil {
		return err
	}

	node := rpc.NewSocketNode(rpc.KindRouter, cfg.RPC.ExecutorAddress, true, "", logger)
	if err := node.Open(ctx); err != nil {
		return fmt.Errorf("cli: open executor rpc socket: %w", err)
	}
	shutdown.Push(node.Close)

	service := rpc.NewService(node, dispatcher, logger)

	g.Go(func() error { return dispatcher.syncExec.Run(gctx) })
	g.Go(func() error { return dispatcher.asyncExec.Run(gctx) })
	g.Go(func() error { return service.Run(gctx, cfg.RPC.Concurrency) })
	return waitForShutdown(g)
}

// dispatcherBundle pairs a Dispatcher with the executors it owns, since
// their Run loops must be started by the same errgroup that runs the RPC
// service in front of it.
type dispatcherBundle struct {
	*exec.Dispatcher
	syncExec  *exec.SyncExecutor
	asyncExec *exec.AsyncExecutor
}

// buildDispatcher assembles the student-code module, both executors, and
// the Dispatcher RPC handler — the piece runExecutorRole and
// runChallengeRole share, since challenge-service exposes the same API.
func buildDispatcher(ctx context.Context, cfg *config.Config, onEstop func(), onIdle func(context.Context) error, logger *zap.Logger) (*dispatcherBundle, error) {
	rules, err := compileTimeoutRules(cfg.Exec.TimeoutRules)
	if err != nil {
		return nil, err
	}

	loader := studentModuleLoader(cfg)
	module := studentcode.NewModule(loader)
	if err := module.Reload(ctx); err != nil {
		logger.Warn("initial student code reload failed", zap.Error(err))
	}

	syncExec := exec.NewSyncExecutor(logger)
	asyncExec := exec.NewAsyncExecutor(cfg.Exec.MaxAsyncActions, logger)
	dispatcher := exec.NewDispatcher(syncExec, asyncExec, module, rules, onEstop, onIdle, logger)
	return &dispatcherBundle{Dispatcher: dispatcher, syncExec: syncExec, asyncExec: asyncExec}, nil
}

// deviceDisableHook dials the device process as a DEALER client identified
// by identity and returns the closure Dispatcher.Idle calls to send
// disable() there. The returned hook is nil, with no error, if no
// device-service address is configured (e.g. a challenge process run
// without a serial device attached).
func deviceDisableHook(ctx context.Context, cfg *config.Config, identity string, shutdown *process.ShutdownStack, g *errgroup.Group, logger *zap.Logger) (func(context.Context) error, error) {
	if cfg.RPC.DeviceAddress == "" {
		return nil, nil
	}
	node := rpc.NewSocketNode(rpc.KindDealer, cfg.RPC.DeviceAddress, false, identity, logger)
	if err := node.Open(ctx); err != nil {
		return nil, fmt.Errorf("cli: dial device process: %w", err)
	}
	shutdown.Push(node.Close)
	tracker := rpc.NewRequestTracker(time.Now().UnixNano())
	client := rpc.NewClient(node, tracker)
	g.Go(func() error { return client.RecvLoop(ctx) })

	callTimeout := cfg.RPC.CallTimeout
	return func(ctx context.Context) error {
		_, err := client.Call(ctx, "", "disable", nil, callTimeout)
		return err
	}, nil
}

// studentModuleLoader picks the plugin-backed loader when a build path is
// configured, falling back to an empty static registry otherwise — the
// executor still starts and serves idle/estop even with no student code
// deployed yet.
func studentModuleLoader(cfg *config.Config) studentcode.Loader {
	if cfg.Exec.StudentPluginPath != "" {
		return studentcode.NewPluginLoader(cfg.Exec.StudentPluginPath)
	}
	return studentcode.StaticLoader{}
}

// runBrokerRole hosts broker-service's own RPC surface plus the remote-
// call fabric's single in-process router (two bridging ROUTER sockets),
// and periodically mirrors the device process's connected UIDs.
func runBrokerRole(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	var shutdown process.ShutdownStack
	defer shutdown.Unwind(logger)

	buffers := buffer.NewManager(catalog)
	shutdown.Push(buffers.CloseAll)

	linter := broker.NewGolangciLinter()
	brk := broker.New(buffers, map[string]any{}, linter, logger)

	serviceNode := rpc.NewSocketNode(rpc.KindRouter, cfg.RPC.BrokerAddress, true, "", logger)
	if err := serviceNode.Open(ctx); err != nil {
		return fmt.Errorf("cli: open broker rpc socket: %w", err)
	}
	shutdown.Push(serviceNode.Close)
	service := rpc.NewService(serviceNode, brk, logger)

	frontend := rpc.NewSocketNode(rpc.KindRouter, cfg.RPC.RouterFrontend, true, "", logger)
	if err := frontend.Open(ctx); err != nil {
		return fmt.Errorf("cli: open router frontend: %w", err)
	}
	shutdown.Push(frontend.Close)

	backend := rpc.NewSocketNode(rpc.KindRouter, cfg.RPC.RouterBackend, true, "", logger)
	if err := backend.Open(ctx); err != nil {
		return fmt.Errorf("cli: open router backend: %w", err)
	}
	shutdown.Push(backend.Close)

	router := rpc.NewRouter(frontend, backend, logger)

	deviceClientNode := rpc.NewSocketNode(rpc.KindDealer, cfg.RPC.DeviceAddress, false, "broker", logger)
	if err := deviceClientNode.Open(ctx); err != nil {
		return fmt.Errorf("cli: dial device process: %w", err)
	}
	shutdown.Push(deviceClientNode.Close)
	tracker := rpc.NewRequestTracker(time.Now().UnixNano())
	deviceClient := rpc.NewClient(deviceClientNode, tracker)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return service.Run(gctx, cfg.RPC.Concurrency) })
	g.Go(func() error { return router.Run(gctx) })
	g.Go(func() error { return deviceClient.RecvLoop(gctx) })
	g.Go(func() error { return mirrorDeviceUIDs(gctx, deviceClient, brk, cfg.RPC.CallTimeout, logger) })
	return waitForShutdown(g)
}

// mirrorDeviceUIDs polls the device process's list_uids once a second and
// keeps the broker's connected-UID set current.
func mirrorDeviceUIDs(ctx context.Context, client *rpc.Client, brk *broker.Broker, callTimeout time.Duration, logger *zap.Logger) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			result, err := client.Call(ctx, "", "list_uids", nil, callTimeout)
			if err != nil {
				logger.Debug("list_uids poll failed", zap.Error(err))
				continue
			}
			raw, ok := result.([]any)
			if !ok {
				continue
			}
			uids := make([]string, 0, len(raw))
			for _, v := range raw {
				if s, ok := v.(string); ok {
					uids = append(uids, s)
				}
			}
			brk.UpdateUIDStrings(uids)
		}
	}
}

// runChallengeRole hosts the field-state buffer, broadcasts match
// telemetry, and exposes the same execute/idle/auto/teleop/estop RPC
// surface as executor-service — a dedicated process for one-off
// programming-challenge evaluations, separate from the competition
// executor so a challenge run can't be mistaken for a live match. The
// field.send/field.recv surface itself stays a stub: no wire format is
// specified for match control.
func runChallengeRole(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	var shutdown process.ShutdownStack
	defer shutdown.Unwind(logger)

	buffers := buffer.NewManager(catalog)
	shutdown.Push(buffers.CloseAll)

	fieldBuf, err := buffers.OpenField()
	if err != nil {
		return fmt.Errorf("cli: open field buffer: %w", err)
	}
	if err := fieldBuf.SetValid(true); err != nil {
		return fmt.Errorf("cli: mark field buffer valid: %w", err)
	}
	shutdown.Push(func() error { return fieldBuf.SetValid(false) })

	telemetry := rpc.NewDatagramNode(fmt.Sprintf("udp://%s", cfg.Telemetry.MulticastAddr), nil, logger)
	if err := telemetry.Open(ctx); err != nil {
		return fmt.Errorf("cli: open telemetry multicast socket: %w", err)
	}
	shutdown.Push(telemetry.Close)

	g, gctx := errgroup.WithContext(ctx)

	onIdle, err := deviceDisableHook(gctx, cfg, "challenge", &shutdown, g, logger)
	if err != nil {
		return err
	}
	onEstop := func() {
		logger.Warn("emergency stop dispatched, exiting challenge process")
		os.Exit(process.ExitEstop)
	}
	dispatcher, err := buildDispatcher(ctx, cfg, onEstop, onIdle, logger)
	if err != nil {
		return err
	}

	node := rpc.NewSocketNode(rpc.KindRouter, cfg.RPC.ChallengeAddress, true, "", logger)
	if err := node.Open(ctx); err != nil {
		return fmt.Errorf("cli: open challenge rpc socket: %w", err)
	}
	shutdown.Push(node.Close)
	service := rpc.NewService(node, dispatcher, logger)

	g.Go(func() error { return dispatcher.syncExec.Run(gctx) })
	g.Go(func() error { return dispatcher.asyncExec.Run(gctx) })
	g.Go(func() error { return service.Run(gctx, cfg.RPC.Concurrency) })
	g.Go(func() error { return runFieldTelemetry(gctx, fieldBuf, telemetry, cfg.Telemetry.UpdateInterval, logger) })
	return waitForShutdown(g)
}

// runFieldTelemetry periodically broadcasts the field buffer's phase and
// alliance over the telemetry multicast socket.
func runFieldTelemetry(ctx context.Context, fieldBuf *buffer.Buffer, telemetry *rpc.DatagramNode, interval time.Duration, logger *zap.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			phase, _ := fieldBuf.GetValue("phase")
			alliance, _ := fieldBuf.GetValue("alliance")
			payload := fmt.Sprintf(`{"phase":%v,"alliance":%v}`, phase, alliance)
			if err := telemetry.Send(ctx, []rpc.Frame{[]byte(payload)}, ""); err != nil {
				logger.Debug("telemetry send failed", zap.Error(err))
			}
		}
	}
}

// waitForShutdown waits for the role's errgroup to finish, treating
// context cancellation (the SIGINT/SIGTERM shutdown path) as a clean
// exit rather than an error.
func waitForShutdown(g *errgroup.Group) error {
	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
