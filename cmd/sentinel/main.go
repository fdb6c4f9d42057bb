// Command sentinel is the on-device compliance agent daemon. It monitors
// device identity and tamper evidence, reconciles lock state with the
// financing backend, executes signed offline commands, and serves a local
// control API for the overlay UI.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/WatchBeam/clock"
	"golang.org/x/sync/errgroup"

	"github.com/nexivo/sentinel/internal/application/dto"
	appservice "github.com/nexivo/sentinel/internal/application/service"
	"github.com/nexivo/sentinel/internal/config"
	"github.com/nexivo/sentinel/internal/domain/models"
	"github.com/nexivo/sentinel/internal/domain/repository"
	domainservice "github.com/nexivo/sentinel/internal/domain/service"
	"github.com/nexivo/sentinel/internal/infrastructure/enforcement"
	"github.com/nexivo/sentinel/internal/infrastructure/identity"
	"github.com/nexivo/sentinel/internal/infrastructure/integrity"
	"github.com/nexivo/sentinel/internal/infrastructure/monitoring"
	"github.com/nexivo/sentinel/internal/infrastructure/persistence/sqlite"
	"github.com/nexivo/sentinel/internal/infrastructure/signature"
	"github.com/nexivo/sentinel/internal/infrastructure/spool"
	"github.com/nexivo/sentinel/internal/infrastructure/transport"
	"github.com/nexivo/sentinel/internal/infrastructure/watch"
	localhttp "github.com/nexivo/sentinel/internal/interfaces/http"
	"github.com/nexivo/sentinel/internal/interfaces/http/handlers"
	"github.com/nexivo/sentinel/pkg/constants"
	"github.com/nexivo/sentinel/pkg/logger"
)

const (
	agentNamespace = "agent"
	deviceIDKey    = "device_id"
)

func main() {
	configPath := flag.String("config", "", "directory containing sentinel.yaml")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	appLogger, err := monitoring.NewZapLogger(&cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, appLogger); err != nil && err != context.Canceled {
		appLogger.Error(context.Background(), "Agent exited with error", err)
	}
}

func run(ctx context.Context, cfg *config.Config, appLogger logger.Logger) error {
	audit := logger.NewAuditLogger(appLogger)
	metrics := monitoring.NewMetrics()

	// Durable stores.
	db, err := sqlite.NewDBConnection(ctx, cfg.Agent.DataDir, appLogger)
	if err != nil {
		return err
	}
	defer db.Close()

	sp, err := spool.Open(cfg.Agent.DataDir, appLogger)
	if err != nil {
		return err
	}
	defer sp.Close()

	lockRepo := sqlite.NewLockRepository(db.DB(), appLogger)
	softLockRepo := sqlite.NewSoftLockRepository(db.DB(), appLogger)
	escalationRepo := sqlite.NewEscalationRepository(db.DB(), appLogger)
	commandRepo := sqlite.NewCommandRepository(db.DB(), appLogger)
	baselineRepo := sqlite.NewBaselineRepository(db.DB(), appLogger)
	historyRepo := sqlite.NewChangeHistoryRepository(db.DB(), cfg.History.Limit, appLogger)
	incidentRepo := sqlite.NewIncidentRepository(db.DB(), appLogger)
	threatRepo := sqlite.NewThreatRepository(db.DB(), appLogger)
	prefRepo := sqlite.NewPreferenceRepository(db.DB(), appLogger)

	checkpoint := integrity.NewCheckpoint(prefRepo, appLogger)

	// Identity and enforcement bindings.
	provisioned, err := identity.LoadProvisioned(cfg.Agent.DataDir)
	if err != nil {
		return err
	}
	source := identity.NewHostSource(provisioned)
	enforcer := enforcement.NewStubEnforcer(appLogger)
	overlay := enforcement.NewStubOverlay(appLogger)

	backend := transport.NewClient(cfg.Agent.ServerURL, cfg.Agent.APIKey, appLogger)

	deviceID, err := ensureRegistered(ctx, cfg, checkpoint, prefRepo, source, backend, appLogger)
	if err != nil {
		return err
	}
	ctx = context.WithValue(ctx, constants.ContextKeyDeviceID, deviceID)

	var watcher *watch.SystemWatcher
	if len(cfg.Integrity.WatchPaths) > 0 {
		watcher, err = watch.NewSystemWatcher(cfg.Integrity.WatchPaths, appLogger)
		if err != nil {
			appLogger.Warn(ctx, "System file watcher unavailable",
				logger.String("reason", err.Error()),
			)
		} else {
			defer watcher.Close()
		}
	}

	// Heartbeat service is constructed later but feeds the mismatch probe;
	// bind it lazily.
	var heartbeat *appservice.HeartbeatService

	overrides := map[constants.TamperFlag]domainservice.ProbeFunc{
		constants.TamperFlagLocalDataTampered: func(ctx context.Context) (bool, error) {
			for _, ns := range cfg.Integrity.Namespaces {
				tampered, err := checkpoint.Verify(ctx, ns)
				if err != nil {
					return false, err
				}
				if tampered {
					return true, nil
				}
			}
			return false, nil
		},
		constants.TamperFlagSystemFilesModified: func(ctx context.Context) (bool, error) {
			if watcher == nil {
				return false, nil
			}
			modified, _ := watcher.Modified()
			return modified, nil
		},
		constants.TamperFlagBackendDataMismatch: func(ctx context.Context) (bool, error) {
			if heartbeat == nil {
				return false, nil
			}
			return heartbeat.MismatchLatched(ctx)
		},
	}

	// Domain services.
	tamper := domainservice.NewTamperDetector(source, overrides, incidentRepo, audit, appLogger,
		constants.DefaultAdvancedCheckTTL, deviceID, metrics)
	changes := domainservice.NewChangeDetector(source, baselineRepo, historyRepo, audit, appLogger)

	engine := domainservice.NewLockEngine(deviceID, lockRepo, softLockRepo, enforcer, overlay,
		cfg.Escalation.Window, audit, appLogger, metrics)
	escalation := domainservice.NewEscalationService(escalationRepo, clock.C, appLogger)
	engine.SetScheduler(escalation)
	escalation.SetEscalateFunc(engine.EscalateSoftLock)
	defer escalation.Stop()

	verifier := signature.NewVerifier(cfg.Agent.CommandSecret)
	queue := domainservice.NewCommandQueue(deviceID, commandRepo, incidentRepo, verifier,
		engine, enforcer, overlay, nil, audit, appLogger, metrics)
	protect := domainservice.NewProtectionService(threatRepo, enforcer, audit, appLogger)
	protect.SetCriticalLockFunc(func(ctx context.Context) error {
		lock := models.NewDeviceLock(deviceID, constants.LockTypeHard, constants.LockReasonSecurityViolation,
			"Device security compromised: threat level critical")
		lock.LockID = models.DeriveLockID("protection:" + deviceID)
		return engine.ApplyLock(ctx, lock)
	})

	heartbeat = appservice.NewHeartbeatService(deviceID, tamper, changes, engine, queue, protect,
		backend, sp, incidentRepo,
		cfg.Heartbeat.Interval, cfg.Heartbeat.MinInterval, cfg.Escalation.PaymentReminder,
		audit, appLogger, metrics)

	// A signed UNLOCK_DEVICE is the server acknowledging the evidence that
	// caused the lock: advance the baseline and release the mismatch latch so
	// the cleared evidence does not re-lock the device on the next cycle.
	queue.SetUnlockAckFunc(func(ctx context.Context) error {
		if err := changes.UpdateBaseline(ctx); err != nil {
			return err
		}
		heartbeat.AcknowledgeMismatch()
		return nil
	})

	var monitorWatch appservice.SystemWatch
	if watcher != nil {
		monitorWatch = watcher
	}
	monitor := appservice.NewSecurityMonitor(deviceID, engine, tamper, source, enforcer, monitorWatch,
		cfg.Monitor.Interval, audit, appLogger)
	processor := appservice.NewCommandProcessor(queue, cfg.Commands.PollInterval, appLogger)

	// Startup reconciliation: seed the baseline on first run and restore
	// escalation deadlines persisted before the last shutdown.
	if _, err := changes.CheckForChanges(ctx); err != nil {
		appLogger.Error(ctx, "Initial baseline check failed", err)
	}
	if err := escalation.Restore(ctx); err != nil {
		appLogger.Error(ctx, "Failed to restore escalation deadlines", err)
	}
	engine.ReconcileEnforcement(ctx)

	// Local control API.
	statusHandler := handlers.NewStatusHandler(deviceID, engine, queue, protect, heartbeat, appLogger)
	healthHandler := handlers.NewHealthHandler(db)
	router := localhttp.NewRouter(&cfg.LocalAPI, appLogger, statusHandler, healthHandler)

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return heartbeat.Run(groupCtx) })
	g.Go(func() error { return monitor.Run(groupCtx) })
	g.Go(func() error { return processor.Run(groupCtx) })
	g.Go(func() error { return router.Start() })
	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return router.Stop(shutdownCtx)
	})

	appLogger.Info(ctx, "Agent started",
		logger.String("device_id", deviceID),
		logger.String("local_api", cfg.LocalAPI.ListenAddr),
	)
	return g.Wait()
}

// ensureRegistered loads the persisted device id or enrolls the device with
// the backend on first start. The id is written through the integrity
// checkpoint so tampering with it trips LOCAL_DATA_TAMPERED.
func ensureRegistered(
	ctx context.Context,
	cfg *config.Config,
	checkpoint *integrity.Checkpoint,
	prefs repository.PreferenceRepository,
	source domainservice.IdentitySource,
	backend domainservice.Transport,
	appLogger logger.Logger,
) (string, error) {
	deviceID, err := prefs.Get(ctx, agentNamespace, deviceIDKey)
	if err != nil {
		return "", err
	}
	if deviceID != "" {
		return deviceID, nil
	}

	profile, err := source.Collect(ctx)
	if err != nil {
		return "", err
	}

	deviceID, err = backend.RegisterDevice(ctx, &dto.RegistrationPayload{
		Profile:   profile,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}

	if err := checkpoint.Write(ctx, agentNamespace, deviceIDKey, deviceID); err != nil {
		return "", err
	}
	appLogger.Info(ctx, "Device registered", logger.String("device_id", deviceID))
	return deviceID, nil
}
