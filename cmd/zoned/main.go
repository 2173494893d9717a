package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/subzone/server/internal/auth"
	"github.com/subzone/server/internal/chat"
	"github.com/subzone/server/internal/config"
	"github.com/subzone/server/internal/core/broker"
	"github.com/subzone/server/internal/core/mainloop"
	"github.com/subzone/server/internal/game/ball"
	"github.com/subzone/server/internal/game/flags"
	"github.com/subzone/server/internal/game/freqman"
	"github.com/subzone/server/internal/game/jackpot"
	"github.com/subzone/server/internal/game/kill"
	"github.com/subzone/server/internal/game/koth"
	"github.com/subzone/server/internal/game/periodic"
	"github.com/subzone/server/internal/game/speed"
	znet "github.com/subzone/server/internal/net"
	"github.com/subzone/server/internal/persist"
	"github.com/subzone/server/internal/scripting"
	"github.com/subzone/server/internal/stats"
	"github.com/subzone/server/internal/world"
)

// Process exit codes understood by the startup supervisor: 0 and 1 are
// deliberate stops (1 asks for a restart), the rest classify failures.
const (
	exitShutdown = 0
	exitRecycle  = 1
	exitError    = 2
	exitConfig   = 4
	exitModule   = 5
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
	}
	os.Exit(code)
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(zoneName string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m             subzone  v0.1.0               \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m         subspace zone server              \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mzone:\033[0m %s\n\n", zoneName)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() (int, error) {
	// 1. Load config
	cfgPath := "conf/zone.toml"
	if p := os.Getenv("ZONED_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return exitConfig, fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return exitConfig, fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Zone.Name)

	// 3. Connect to PostgreSQL and run migrations
	printSection("database")

	dbCtx, dbCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer dbCancel()

	db, err := persist.Open(dbCtx, cfg.Database, log)
	if err != nil {
		return exitError, fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	printOK("postgres connected, schema current")
	fmt.Println()

	// 4. Scripting engine
	printSection("scripting")

	engine, err := scripting.NewEngine(cfg.Zone.ScriptDir, log)
	if err != nil {
		return exitModule, fmt.Errorf("scripting: %w", err)
	}
	defer engine.Close()
	printOK(fmt.Sprintf("scripts loaded from %s", cfg.Zone.ScriptDir))
	fmt.Println()

	// 5. Core services: broker tree, mainloop, player registry, arenas
	root := broker.New("zone", log)
	loop := mainloop.New(cfg.Network.TickRate, cfg.Network.Workers, log)
	reg := world.NewRegistry(log)
	arenas := world.NewManager(root, loop, reg, cfg.Arenas, log)
	lc := world.NewLifecycle(root, loop, reg, arenas, log)
	clock := world.WallClock{}

	// 6. Network transport and packet dispatch
	disp := znet.NewDispatcher(log)
	server := znet.NewServer(loop, reg, lc, disp, log)

	if _, err := broker.RegisterInterface[world.PacketSender](root, server); err != nil {
		return exitModule, fmt.Errorf("register sender: %w", err)
	}
	if _, err := broker.RegisterInterface[world.SessionNotifier](root, server); err != nil {
		return exitModule, fmt.Errorf("register notifier: %w", err)
	}

	// 7. Authentication
	authenticator := auth.NewAuthenticator(auth.NewAccountRepo(db), cfg.Auth, log)
	if _, err := broker.RegisterInterface[world.Authenticator](root, authenticator); err != nil {
		return exitModule, fmt.Errorf("register authenticator: %w", err)
	}

	// 8. Chat routing and command dispatch
	cmds := chat.NewCommands(log)
	router := chat.NewRouter(reg, server, cmds, log)
	if _, err := broker.RegisterInterface[world.Chat](root, router); err != nil {
		return exitModule, fmt.Errorf("register chat: %w", err)
	}

	znet.RegisterCoreHandlers(disp, znet.Deps{
		Log:       log,
		Root:      root,
		Lifecycle: lc,
		Chat:      router,
		Clock:     clock,
	})

	// 9. Persistence bridge and scoring
	bridge := persist.NewBridge(root, loop, arenas, persist.NewScoreRepo(db), log)
	if err := bridge.Setup(); err != nil {
		return exitModule, fmt.Errorf("persist bridge: %w", err)
	}

	statsMod := stats.New(root, reg, server, clock, log)
	if err := statsMod.Setup(bridge, cmds); err != nil {
		return exitModule, fmt.Errorf("stats: %w", err)
	}

	jackpotMod := jackpot.New(root, log)
	if err := jackpotMod.Setup(bridge); err != nil {
		return exitModule, fmt.Errorf("jackpot: %w", err)
	}

	// 10. Game rules modules, attached per arena by the manager
	printSection("modules")

	arenas.RegisterModule(freqman.New(root, reg, clock, log))
	arenas.RegisterModule(freqman.NewLockSpec())
	arenas.RegisterModule(kill.New(root, reg, log))

	flagsMod := flags.New(root, reg, log)
	flagsMod.SetupCommands(cmds)
	arenas.RegisterModule(flagsMod)

	ballMod := ball.New(root, reg, log)
	ballMod.SetupCommands(cmds)
	arenas.RegisterModule(ballMod)

	kothMod := koth.New(root, reg, loop, clock, log)
	kothMod.SetupCommands(cmds)
	arenas.RegisterModule(kothMod)

	speedMod := speed.New(root, reg, loop, clock, log)
	speedMod.SetupCommands(cmds)
	arenas.RegisterModule(speedMod)

	periodicMod := periodic.New(root, reg, loop, log)
	periodicMod.SetupCommands(cmds)
	arenas.RegisterModule(periodicMod)

	scriptMod := scripting.NewModule(root, engine, log)
	scriptMod.Setup(cmds)

	// Operator stop commands. ?recycle exits with the code the supervisor
	// restarts on; ?shutdown exits clean.
	stopCh := make(chan int, 1)
	requestStop := func(code int) {
		select {
		case stopCh <- code:
		default:
		}
	}
	cmds.Register("shutdown", func(p *world.Player, args string) {
		if p.HasCap("shutdown") {
			requestStop(exitShutdown)
		}
	})
	cmds.Register("recycle", func(p *world.Player, args string) {
		if p.HasCap("shutdown") {
			requestStop(exitRecycle)
		}
	})

	printOK("freqman, lockspec, kill, flags, ball, koth, speed, periodic, scripting")
	fmt.Println()

	// 11. Bind the socket and start the loop
	if err := server.Listen(cfg.Network.BindAddress); err != nil {
		return exitError, fmt.Errorf("listen: %w", err)
	}

	loop.OnTick = func() {
		broker.Fire(root, world.MainloopEvent{Now: clock.Now()})
		lc.Process()
		arenas.Process()
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loopDone := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(loopDone)
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve() }()

	printSection("zone ready")
	printReady(fmt.Sprintf("listening on %s", cfg.Network.BindAddress))
	printReady(fmt.Sprintf("mainloop running (tick: %s, workers: %d)", cfg.Network.TickRate, cfg.Network.Workers))
	fmt.Println()

	exitCode := exitShutdown
	select {
	case sig := <-shutdownCh:
		log.Info("shutdown signal", zap.String("signal", sig.String()))
	case exitCode = <-stopCh:
		log.Info("operator stop", zap.Int("code", exitCode))
	case err := <-serveErr:
		log.Error("transport stopped", zap.Error(err))
		exitCode = exitError
	}

	// Stop accepting traffic, then kick every player so their scores flush
	// through the persist chain before the loop stops.
	server.Close()
	loop.Post(func() {
		for _, p := range reg.Snapshot() {
			lc.Disconnected(p)
		}
	})

	drainDeadline := time.Now().Add(5 * time.Second)
	for reg.Count() > 0 && time.Now().Before(drainDeadline) {
		time.Sleep(cfg.Network.TickRate)
	}
	if n := reg.Count(); n > 0 {
		log.Warn("players still draining at shutdown", zap.Int("count", n))
	}

	cancel()
	<-loopDone
	log.Info("zone stopped")
	return exitCode, nil
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
