package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shaiyago/server/internal/config"
	"github.com/shaiyago/server/internal/data"
	"github.com/shaiyago/server/internal/handler"
	gonet "github.com/shaiyago/server/internal/net"
	"github.com/shaiyago/server/internal/net/packet"
	"github.com/shaiyago/server/internal/persist"
	"github.com/shaiyago/server/internal/scripting"
	"github.com/shaiyago/server/internal/world"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string, serverID int) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m            shaiyago  v0.1.0               \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m        Shaiya world server in Go          \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mserver:\033[0m %s \033[90m(id: %d)\033[0m\n\n", serverName, serverID)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("SHAIYAGO_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name, cfg.Server.ID)

	// 3. Connect to PostgreSQL and run migrations
	printSection("database")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := persist.NewDB(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	printOK("PostgreSQL connected")

	if err := persist.RunMigrations(ctx, db.Pool); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	printOK("migrations applied")
	fmt.Println()

	// 4. Create repositories
	userRepo := persist.NewUserRepo(db)
	charRepo := persist.NewCharacterRepo(db)
	itemRepo := persist.NewItemRepo(db)
	skillRepo := persist.NewSkillRepo(db)

	// 5. Load data tables and scripts
	printSection("data")

	skillTable, err := data.LoadSkillTable("data/skills.yaml")
	if err != nil {
		return fmt.Errorf("load skill table: %w", err)
	}
	printStat("skill templates", skillTable.Count())

	itemTable, err := data.LoadItemTable("data/items.yaml")
	if err != nil {
		return fmt.Errorf("load item table: %w", err)
	}
	printStat("item templates", itemTable.Count())

	luaEngine, err := scripting.NewEngine("scripts", log)
	if err != nil {
		return fmt.Errorf("lua engine: %w", err)
	}
	defer luaEngine.Close()
	printOK("lua scripts loaded")
	fmt.Println()

	// 6. Create world state, handler registry, worker pool
	worldState := world.NewState()

	pktReg := packet.NewRegistry(log)
	deps := &handler.Deps{
		Users:      userRepo,
		Characters: charRepo,
		Items:      itemRepo,
		Skills:     skillRepo,
		Config:     cfg,
		Log:        log,
		World:      worldState,
		Scripts:    luaEngine,
		SkillTable: skillTable,
		ItemTable:  itemTable,
	}
	handler.RegisterAll(pktReg, deps)

	pool := gonet.NewPool(cfg.Network.Workers, cfg.Network.TaskQueueSize)

	// A dying session evicts its player and saves the transient position.
	// RemoveSession is a no-op when a reconnect already replaced the entry.
	onClose := func(sess *gonet.Session) {
		charID := sess.CharID()
		if charID == 0 {
			return
		}
		p := worldState.RemoveSession(charID, sess)
		if p == nil {
			return
		}
		mapID, x, y, z, angle := p.Position()
		saveCtx, saveCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer saveCancel()
		if err := charRepo.SavePosition(saveCtx, charID, int32(mapID), x, y, z, angle); err != nil {
			log.Error("save position on logout", zap.Int32("char", charID), zap.Error(err))
		}
		log.Info(fmt.Sprintf("player left world  char=%d  name=%s", charID, p.Name))
	}

	// 7. Create network server
	netServer, err := gonet.NewServer(
		cfg.Network.BindAddress,
		pktReg,
		pool,
		cfg.Network.OutQueueSize,
		cfg.Network.PacketsPerSecond,
		cfg.Network.WriteTimeout,
		onClose,
		log,
	)
	if err != nil {
		return fmt.Errorf("net server: %w", err)
	}
	go netServer.AcceptLoop()

	printSection("server ready")
	printReady(fmt.Sprintf("listening on %s", netServer.Addr().String()))
	printReady(fmt.Sprintf("worker pool started (workers: %d)", cfg.Network.Workers))
	fmt.Println()

	// 8. Wait for shutdown signal
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-shutdownCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	// Stop accepting, close sessions (their close callbacks save positions),
	// then drain the worker pool so in-flight handlers finish their durable
	// writes before the db handle goes away.
	netServer.Shutdown()
	pool.Shutdown()

	// Close callbacks run after each session's tasks drain; give the
	// position saves a moment to land.
	deadline := time.Now().Add(10 * time.Second)
	for netServer.SessionCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	log.Info("server stopped")
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
