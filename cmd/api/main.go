package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collabflow/auth"
	"collabflow/collaboration"
	"collabflow/config"
	"collabflow/contract"
	"collabflow/db"
	"collabflow/escrow"
	"collabflow/httpapi"
	"collabflow/notify"
	"collabflow/outbox"
	"collabflow/storage/dynamo"
	"collabflow/storage/memory"
	"collabflow/storage/postgres"
	"collabflow/storage/sqlite"
	"collabflow/telemetry"

	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		log.Fatalf("setup tracing: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer a.close()

	if err := a.run(ctx); err != nil {
		log.Fatalf("collabflow stopped: %v", err)
	}
	log.Printf("collabflow stopped")
}

// backend bundles the persistence ports one storage driver provides.
type backend struct {
	collaborations collaboration.Store
	outbox         outbox.Store
	contracts      contract.Repository
	holds          escrow.HoldStore
	close          func()
}

func openBackend(ctx context.Context, cfg config.Config) (backend, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		s := memory.New()
		return backend{collaborations: s, outbox: s, contracts: s, holds: escrow.NewMemoryHoldStore(), close: func() {}}, nil
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns})
		if err != nil {
			return backend{}, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return backend{}, err
		}
		s := postgres.New(pool)
		return backend{collaborations: s, outbox: s, contracts: s, holds: s, close: pool.Close}, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return backend{}, err
		}
		return backend{collaborations: s, outbox: s, contracts: s, holds: s, close: func() { _ = s.Close() }}, nil
	case config.DriverDynamo:
		client, err := dynamo.NewClient(ctx, dynamo.ClientOptions{
			Region:          cfg.Dynamo.Region,
			Endpoint:        cfg.Dynamo.Endpoint,
			AccessKeyID:     cfg.Dynamo.AccessKeyID,
			SecretAccessKey: cfg.Dynamo.SecretAccessKey,
		})
		if err != nil {
			return backend{}, err
		}
		s := dynamo.New(client, dynamo.DefaultTables(cfg.Dynamo.TablePrefix))
		if cfg.Dynamo.CreateTables {
			if err := s.EnsureTables(ctx); err != nil {
				return backend{}, err
			}
		}
		return backend{collaborations: s, outbox: s, contracts: s, holds: s, close: func() {}}, nil
	default:
		return backend{}, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

type app struct {
	cfg        config.Config
	handler    http.Handler
	dispatcher *outbox.Dispatcher
	engine     *collaboration.Service
	contracts  *contract.Service
	holds      escrow.HoldStore
	close      func()
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	be, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rate, err := cfg.Commission()
	if err != nil {
		be.close()
		return nil, err
	}
	fees, err := collaboration.NewFeeCalculator(rate)
	if err != nil {
		be.close()
		return nil, err
	}
	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		be.close()
		return nil, err
	}
	gateway, err := escrow.NewMercadoPagoGateway(cfg.MercadoPagoAccessToken, be.holds, cfg.MercadoPagoMock)
	if err != nil {
		be.close()
		return nil, err
	}

	contracts := contract.NewService(be.contracts)
	engine := collaboration.NewService(be.collaborations, contracts, fees)

	notifications := collaboration.NotificationHandler(notify.LogNotifier{})
	handlers := map[string]outbox.Handler{
		collaboration.TopicCreated:       notifications,
		collaboration.TopicStatusChanged: notifications,
		collaboration.TopicContractSent:  collaboration.ContractIssueHandler(contracts),
		collaboration.TopicEscrow:        collaboration.EscrowHandler(gateway),
	}
	d := cfg.Dispatcher
	dispatcher := outbox.NewDispatcher(be.outbox, handlers, outbox.Config{
		Consumer:      d.Consumer,
		PollInterval:  d.PollInterval,
		LeaseTTL:      d.LeaseTTL,
		BatchSize:     d.BatchSize,
		MaxAttempts:   d.MaxAttempts,
		RetryBackoff:  d.RetryBackoff,
		RetryMaxDelay: d.RetryMaxDelay,
		InlineRetries: d.InlineRetries,
	}, time.Now)

	server := httpapi.NewServer(engine, contracts, verifier, cfg.WebhookSecret)
	return &app{
		cfg:        cfg,
		handler:    server.Handler(),
		dispatcher: dispatcher,
		engine:     engine,
		contracts:  contracts,
		holds:      be.holds,
		close:      be.close,
	}, nil
}

// run serves HTTP and drains the outbox until ctx is cancelled.
func (a *app) run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("collabflow listening on %s (store=%s)", a.cfg.HTTPAddr, a.cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.dispatcher.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
