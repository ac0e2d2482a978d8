package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"allotment-engine/internal/config"
	"allotment-engine/internal/events"
	"allotment-engine/internal/httpapi"
	"allotment-engine/internal/queue"
	"allotment-engine/internal/registrar"
	"allotment-engine/internal/registrar/bigshare"
	"allotment-engine/internal/registrar/kfintech"
	"allotment-engine/internal/registrar/linkintime"
	"allotment-engine/internal/resolve"
	"allotment-engine/internal/scheduler"
	"allotment-engine/internal/secrets"
	"allotment-engine/internal/store"
	"allotment-engine/internal/sweep"
	"allotment-engine/internal/worker"
)

func main() {
	// Engine data dir: use env if provided, else local folder.
	dataDir := os.Getenv("ALLOTMENT_DATA_DIR")
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatal(err)
	}

	// One engine per data dir; a second instance would fight over the
	// sqlite file and double-deliver queue jobs.
	lock := flock.New(filepath.Join(dataDir, "engine.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		log.Fatalf("data dir lock failed: %v", err)
	}
	if !locked {
		log.Fatalf("another engine instance holds %s", lock.Path())
	}
	defer lock.Unlock()

	defaultCfgPath := filepath.Join("config", "config.yml")
	userCfgPath, err := config.EnsureUserConfig(dataDir, defaultCfgPath)
	if err != nil {
		log.Fatalf("config bootstrap failed: %v", err)
	}

	// Load config and keep it reloadable
	var cfgVal atomic.Value // stores config.Config
	loadCfg := func() (config.Config, error) {
		cfg, err := config.Load(userCfgPath)
		if err != nil {
			return cfg, err
		}
		if err := config.OverlayRegistrars(&cfg, filepath.Join(dataDir, "registrars.yml")); err != nil {
			return cfg, err
		}
		cfg, res := config.NormalizeAndValidate(cfg)
		for _, w := range res.Warnings {
			log.Printf("[config] warning: %s", w)
		}
		if !res.OK() {
			log.Printf("[config] invalid: %s; falling back to defaults", strings.Join(res.Errors, "; "))
			return config.Default(), nil
		}
		return cfg, nil
	}
	cfg, err := loadCfg()
	if err != nil {
		log.Fatalf("config load failed (%s): %v", userCfgPath, err)
	}
	cfgVal.Store(cfg)

	dbPath := filepath.Join(dataDir, "allotment.db")
	db, err := store.Open(dbPath)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	if err := store.Migrate(db.Pool); err != nil {
		log.Fatal(err)
	}

	hub := events.NewHub()

	q := queue.New(db.Pool, queue.Config{
		MaxAttempts: cfg.Queue.MaxAttempts,
		KeepFailed:  cfg.Queue.KeepFailed,
	})
	resolver := resolve.New(db.Pool, q)

	solverKey, err := secrets.GetSolverKey()
	if err != nil {
		// keyring is optional; registrars just run without a solver
		log.Printf("[secrets] no solver key: %v", err)
	}

	limiter := registrar.NewHostLimiter(cfg.Scrape.RequestsPerSec, cfg.Scrape.Burst)
	router := registrar.NewRouter()
	if cfg.Scrape.Linkintime.Enabled {
		router.Register(registrar.FamilyLinkintime, linkintime.New(linkintime.Config{
			BaseURL:   cfg.Scrape.Linkintime.BaseURL,
			SolverKey: solverKey,
		}, limiter))
	}
	if cfg.Scrape.Kfintech.Enabled {
		router.Register(registrar.FamilyKfintech, kfintech.New(kfintech.Config{
			BaseURL:   cfg.Scrape.Kfintech.BaseURL,
			SolverKey: solverKey,
		}, limiter))
	}
	if cfg.Scrape.Bigshare.Enabled {
		router.Register(registrar.FamilyBigshare, bigshare.New(bigshare.Config{
			BaseURL:   cfg.Scrape.Bigshare.BaseURL,
			SolverKey: solverKey,
		}, limiter))
	}

	pool := &worker.Pool{
		DB:          db.Pool,
		Queue:       q,
		Router:      router,
		Hub:         hub,
		Concurrency: cfg.Queue.Workers,
	}

	sweeper := &sweep.Sweeper{
		DB:         db.Pool,
		Resolver:   resolver,
		Hub:        hub,
		WindowDays: cfg.Sweep.WindowDays,
	}

	var sweepVal atomic.Value // stores httpapi.SweepStatus
	runSweep := func(ctx context.Context) error {
		sweepVal.Store(httpapi.SweepStatus{
			LastRunAt: time.Now().Format(time.RFC3339),
			Running:   true,
		})
		err := sweeper.RunOnce(ctx)
		st := httpapi.SweepStatus{LastRunAt: time.Now().Format(time.RFC3339)}
		if err != nil {
			st.LastError = err.Error()
		} else {
			st.LastOkAt = st.LastRunAt
		}
		sweepVal.Store(st)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(ctx) })
	g.Go(func() error {
		scheduler.Every(ctx, time.Duration(cfg.Sweep.IntervalMinutes)*time.Minute, "sweep", runSweep)
		return nil
	})
	g.Go(func() error {
		scheduler.Every(ctx, time.Hour, "queue-prune", func(ctx context.Context) error {
			n, err := q.PruneFailed(ctx)
			if n > 0 {
				log.Printf("[queue] pruned %d failed jobs", n)
			}
			return err
		})
		return nil
	})

	mux := httpapi.NewMux(httpapi.Deps{
		DB:           db.Pool,
		Hub:          hub,
		Resolver:     resolver,
		Queue:        q,
		CfgVal:       &cfgVal,
		SweepStatus:  &sweepVal,
		UserCfgPath:  userCfgPath,
		LoadCfg:      loadCfg,
		RunSweepOnce: runSweep,
		SweepBacklog: sweeper.PANsInScope,
	})

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.App.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("engine listening on http://%s (db=%s)", addr, dbPath)

	srv := &http.Server{
		Handler: httpapi.Chain(mux,
			httpapi.RequestID,
			httpapi.Recover,
			httpapi.AccessLog,
			httpapi.Cors,
		),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Local shutdown endpoint for the hosting desktop app
	token, err := writeShutdownToken(dataDir)
	if err != nil {
		log.Fatalf("shutdown token: %v", err)
	}
	mux.HandleFunc("/shutdown", shutdownHandler(&token, srv))

	g.Go(func() error {
		err := srv.Serve(ln)
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
	log.Println("engine stopped")
}
