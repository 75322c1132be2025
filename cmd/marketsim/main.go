// Command marketsim drives one simulator run end to end: it loads a
// scenario file, optionally replays a recorded action log against it (for
// offline determinism checks), then serves the kernel over HTTP/JSON until
// a shutdown signal arrives. Config is loaded via the envOrDefault/
// envIntOrDefault helpers below, each env var falling back to a default.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketsim/internal/amount"
	"marketsim/internal/event"
	"marketsim/internal/ingestion"
	"marketsim/internal/kernel"
	"marketsim/internal/observability"
	"marketsim/internal/persistence"
	"marketsim/internal/query"
	"marketsim/internal/server"
	"marketsim/internal/world"
)

// Config is the process-level configuration, entirely env-driven. The
// per-run simulation parameters (seed, balances, fee schedule) live in the
// scenario file instead, since those vary per run while these do not.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	ScenarioFile string
	ActionsFile  string

	PostgresDSN           string
	MigrationsDir         string
	PersistChanSize       int
	PersistBatchSize      int
	PersistFlushTimeout   time.Duration
	SnapshotIntervalTicks int64

	NATSURL string
}

func DefaultConfig() Config {
	return Config{
		HTTPAddr:              envOrDefault("MARKETSIM_HTTP_ADDR", ":8080"),
		MetricsAddr:           envOrDefault("MARKETSIM_METRICS_ADDR", ":9091"),
		ScenarioFile:          envOrDefault("MARKETSIM_SCENARIO_FILE", "scenario.json"),
		ActionsFile:           envOrDefault("MARKETSIM_ACTIONS_FILE", ""),
		PostgresDSN:           envOrDefault("MARKETSIM_POSTGRES_DSN", ""),
		MigrationsDir:         envOrDefault("MARKETSIM_MIGRATIONS_DIR", "migrations"),
		PersistChanSize:       envIntOrDefault("MARKETSIM_PERSIST_CHAN_SIZE", 1024),
		PersistBatchSize:      envIntOrDefault("MARKETSIM_PERSIST_BATCH_SIZE", 50),
		PersistFlushTimeout:   10 * time.Millisecond,
		SnapshotIntervalTicks: int64(envIntOrDefault("MARKETSIM_SNAPSHOT_INTERVAL_TICKS", 1000)),
		NATSURL:               envOrDefault("MARKETSIM_NATS_URL", ""),
	}
}

// ScenarioFile is the JSON description of one run's initial conditions:
// the seed and world.Config that together determine the entire run's
// deterministic behavior, plus the agents to create at startup.
type ScenarioFile struct {
	Seed               uint32        `json:"seed"`
	InitialCash        amount.Amount `json:"initial_cash"`
	InitialAsset       amount.Amount `json:"initial_asset"`
	TradingFeeBps      int64         `json:"trading_fee_bps"`
	DecayRateBps       int64         `json:"decay_rate_bps"`
	DecayIntervalTicks int64         `json:"decay_interval_ticks"`
	MaxActionsPerTick  int64         `json:"max_actions_per_tick"`
	MinPrice           amount.Amount `json:"min_price"`
	MaxPrice           amount.Amount `json:"max_price"`
	MinQuantity        amount.Amount `json:"min_quantity"`
	Agents             []string      `json:"agents"`
}

func (s ScenarioFile) toWorldConfig() world.Config {
	return world.Config{
		InitialCash:        s.InitialCash,
		InitialAsset:       s.InitialAsset,
		TradingFeeBps:      s.TradingFeeBps,
		DecayRateBps:       s.DecayRateBps,
		DecayIntervalTicks: s.DecayIntervalTicks,
		MaxActionsPerTick:  s.MaxActionsPerTick,
		MinPrice:           s.MinPrice,
		MaxPrice:           s.MaxPrice,
		MinQuantity:        s.MinQuantity,
	}
}

func loadScenario(path string) (ScenarioFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ScenarioFile{}, fmt.Errorf("read scenario file: %w", err)
	}
	var sc ScenarioFile
	if err := json.Unmarshal(data, &sc); err != nil {
		return ScenarioFile{}, fmt.Errorf("parse scenario file: %w", err)
	}
	return sc, nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("INFO: marketsim starting...")

	cfg := DefaultConfig()
	logger := observability.NewLogger("marketsim")
	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	scenario, err := loadScenario(cfg.ScenarioFile)
	if err != nil {
		log.Fatalf("FATAL: load scenario: %v", err)
	}

	k := kernel.New(scenario.Seed, scenario.toWorldConfig(), logger, metrics, func() int64 {
		return time.Now().UnixMicro()
	})
	if err := k.Start(); err != nil {
		log.Fatalf("FATAL: start run: %v", err)
	}

	agentIDs := make([]string, 0, len(scenario.Agents))
	for _, name := range scenario.Agents {
		id, apiKey, err := k.CreateAgent(name)
		if err != nil {
			log.Fatalf("FATAL: create agent %q: %v", name, err)
		}
		agentIDs = append(agentIDs, id)
		log.Printf("INFO: created agent %s (%s) key=%s", id, name, apiKey)
	}

	if cfg.ActionsFile != "" {
		if err := replayActionsFile(k, cfg.ActionsFile); err != nil {
			log.Fatalf("FATAL: replay actions file: %v", err)
		}
		log.Printf("INFO: replayed actions file, current_tick=%d", k.World().CurrentTick())
	}

	errChan := make(chan error, 8)

	// --- optional Postgres persistence ---
	var persistChan chan persistence.EventRow
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("FATAL: postgres open: %v", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("FATAL: postgres ping: %v", err)
		}

		migrator := persistence.NewMigrator(db, cfg.MigrationsDir)
		if err := migrator.Up(ctx); err != nil {
			log.Fatalf("FATAL: run migrations: %v", err)
		}
		log.Println("INFO: postgres connected, migrations applied")

		persistChan = make(chan persistence.EventRow, cfg.PersistChanSize)
		worker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics)
		go func() { errChan <- worker.Run(ctx) }()

		snapMgr := persistence.NewSnapshotManager(db)
		go runPeriodicSnapshots(ctx, k, snapMgr, cfg.SnapshotIntervalTicks, metrics)
	}

	// --- optional NATS event export ---
	var publishChan chan ingestion.PublishableEvent
	if cfg.NATSURL != "" {
		nc, js, err := ingestion.ConnectNATS(cfg.NATSURL)
		if err != nil {
			log.Fatalf("FATAL: nats connect: %v", err)
		}
		defer nc.Close()

		if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
			log.Fatalf("FATAL: ensure outbound stream: %v", err)
		}

		publishChan = make(chan ingestion.PublishableEvent, 4096)
		publisher := ingestion.NewOutboundPublisher(js, publishChan)
		go func() { errChan <- publisher.Run(ctx) }()
		log.Println("INFO: NATS connected, outbound stream ensured")
	}

	if persistChan != nil || publishChan != nil {
		go fanOutEvents(ctx, k, persistChan, publishChan, metrics)
	}

	// --- HTTP/JSON server ---
	queryService := query.NewService(k)
	httpServer := server.New(cfg.HTTPAddr, server.Deps{
		Kernel: k, Query: queryService, Log: logger, Metrics: metrics, Health: health,
	})
	go func() { errChan <- httpServer.Start(ctx) }()

	// --- Prometheus metrics server ---
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		log.Printf("INFO: metrics server listening on %s/metrics", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	health.SetReady(true)
	log.Printf("INFO: marketsim ready (run_id=%s, http=%s, metrics=%s)", k.RunID(), cfg.HTTPAddr, cfg.MetricsAddr)

	select {
	case sig := <-sigChan:
		log.Printf("INFO: received signal %s, shutting down...", sig)
	case err := <-errChan:
		log.Printf("ERROR: goroutine failed: %v, shutting down...", err)
	}

	health.SetReady(false)
	cancel()
	if k.Status() == kernel.StatusRunning {
		_ = k.Stop("shutdown")
	}

	if persistChan != nil {
		close(persistChan)
	}
	if publishChan != nil {
		close(publishChan)
	}

	time.Sleep(200 * time.Millisecond) // let workers drain their final batch
	log.Println("INFO: marketsim shutdown complete")
}

// replayActionsFile reads a newline-delimited action log. Each line is
// either {"advance_tick": true} or an ingestion.SubmissionRecord. Lines are
// applied in file order, exactly reproducing a prior run given the same
// scenario file.
func replayActionsFile(k *kernel.Kernel, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open actions file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var marker struct {
			AdvanceTick bool `json:"advance_tick"`
		}
		if err := json.Unmarshal(line, &marker); err == nil && marker.AdvanceTick {
			k.AdvanceTick()
			continue
		}

		agentID, actions, idempotencyKey, err := ingestion.ParseSubmission(line)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		k.SubmitActions(agentID, actions, idempotencyKey)
	}
	return scanner.Err()
}

// fanOutEvents drains events appended since the last call and forwards
// them to whichever of persistence/NATS export is configured. The kernel
// is synchronous, so this is polled rather than pushed.
func fanOutEvents(
	ctx context.Context,
	k *kernel.Kernel,
	persistOut chan<- persistence.EventRow,
	publishOut chan<- ingestion.PublishableEvent,
	metrics *observability.Metrics,
) {
	var lastSeq int64
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			all := k.Store().All()
			if int64(len(all)) <= lastSeq {
				continue
			}
			for _, e := range all[lastSeq:] {
				if persistOut != nil {
					persistOut <- toEventRow(e)
				}
				if publishOut != nil {
					select {
					case publishOut <- toPublishableEvent(e):
					default:
						if metrics != nil {
							metrics.PublishErrors.Inc()
						}
					}
				}
			}
			lastSeq = int64(len(all))
		}
	}
}

func toEventRow(e event.Event) persistence.EventRow {
	payload, _ := json.Marshal(e.Payload.Canonical())
	var agentID *string
	if e.AgentID != "" {
		agentID = &e.AgentID
	}
	return persistence.EventRow{
		RunID:     e.RunID,
		TickID:    e.TickID,
		EventSeq:  e.EventSeq,
		EventType: string(e.EventType),
		AgentID:   agentID,
		Payload:   payload,
		PrevHash:  e.PrevHash,
		EventHash: e.EventHash,
		CreatedAt: time.UnixMicro(e.CreatedAt),
	}
}

func toPublishableEvent(e event.Event) ingestion.PublishableEvent {
	var agentID *string
	if e.AgentID != "" {
		agentID = &e.AgentID
	}
	return ingestion.PublishableEvent{
		RunID:     e.RunID,
		TickID:    e.TickID,
		EventSeq:  e.EventSeq,
		EventType: string(e.EventType),
		AgentID:   agentID,
		Payload:   e.Payload.Canonical(),
		PrevHash:  e.PrevHash,
		EventHash: e.EventHash,
		CreatedAt: time.UnixMicro(e.CreatedAt),
	}
}

// runPeriodicSnapshots takes a world snapshot every intervalTicks ticks.
func runPeriodicSnapshots(
	ctx context.Context,
	k *kernel.Kernel,
	snapMgr *persistence.SnapshotManager,
	intervalTicks int64,
	metrics *observability.Metrics,
) {
	if intervalTicks <= 0 {
		intervalTicks = 1000
	}
	lastSnapshotTick := k.World().CurrentTick()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := k.World().CurrentTick()
			if current-lastSnapshotTick < intervalTicks {
				continue
			}
			start := time.Now()
			snap := k.World().TakeSnapshot()
			data := &persistence.SnapshotData{
				RunID:     k.RunID(),
				TickID:    current,
				EventSeq:  k.Store().Count() - 1,
				PrevHash:  k.Store().LastHash(),
				World:     snap,
				CreatedAt: time.Now(),
			}
			if err := snapMgr.SaveSnapshot(ctx, data); err != nil {
				log.Printf("WARN: periodic snapshot failed: %v", err)
				continue
			}
			if res := k.Store().VerifyChain(); !res.Valid {
				log.Printf("WARN: chain verification failed at event %d, snapshot left unverified", res.MismatchIdx)
			} else if err := snapMgr.MarkVerified(ctx, k.RunID(), data.EventSeq); err != nil {
				log.Printf("WARN: mark snapshot verified failed: %v", err)
			}
			if metrics != nil {
				metrics.SnapshotTaken.Inc()
				metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
			}
			lastSnapshotTick = current
			log.Printf("INFO: snapshot taken at tick %d", current)
		}
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var i int
	if _, err := fmt.Sscanf(v, "%d", &i); err != nil {
		return defaultVal
	}
	return i
}
