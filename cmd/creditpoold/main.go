package main

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"creditpool/config"
	"creditpool/core/events"
	"creditpool/core/types"
	"creditpool/native/creditpool"
	"creditpool/observability/logging"
	"creditpool/rpc"
	"creditpool/state"
	"creditpool/storage"
)

// auditLogger writes every pool audit event to the structured log, giving
// external auditors a reconstructable history.
type auditLogger struct {
	logger *slog.Logger
}

type eventPayload interface {
	Event() *types.Event
}

func (a auditLogger) Emit(evt events.Event) {
	payload, ok := evt.(eventPayload)
	if !ok || payload.Event() == nil {
		return
	}
	record := payload.Event()
	attrs := make([]any, 0, 2+2*len(record.Attributes))
	attrs = append(attrs, "event", record.Type)
	for key, value := range record.Attributes {
		attrs = append(attrs, key, value)
	}
	a.logger.Info("pool audit", attrs...)
}

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "pool.toml", "path to creditpoold config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CREDITPOOL_ENV"))
	logger := logging.Setup("creditpoold", env)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	moduleAddr, err := cfg.ModuleAddr()
	if err != nil {
		log.Fatalf("module address: %v", err)
	}
	adminAddr, err := cfg.AdminAddr()
	if err != nil {
		log.Fatalf("admin address: %v", err)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "pool"))
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	engine := creditpool.NewEngine(moduleAddr, adminAddr)
	engine.SetState(state.NewPoolState(db))
	engine.SetEmitter(auditLogger{logger: logger})
	engine.SetLockDuration(cfg.LockDurationSeconds)
	engine.SetMinScore(cfg.MinScore)
	engine.SetPauses(cfg.Pauses)

	server := rpc.NewServer(engine, adminAddr, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.RPCAddress)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("rpc server: %v", err)
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}
}
