package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/codefionn/personachat/internal/backend"
	"github.com/codefionn/personachat/internal/chat"
	"github.com/codefionn/personachat/internal/config"
	"github.com/codefionn/personachat/internal/engine"
	"github.com/codefionn/personachat/internal/group"
	"github.com/codefionn/personachat/internal/lockfile"
	"github.com/codefionn/personachat/internal/logger"
	"github.com/codefionn/personachat/internal/pprof"
	"github.com/codefionn/personachat/internal/server"
	"github.com/codefionn/personachat/internal/store"
	"github.com/codefionn/personachat/internal/tokenizer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "path to the config file")
		port        = flag.Int("port", 0, "HTTP port (overrides config)")
		backendName = flag.String("backend", "", "active backend (overrides config)")
		userName    = flag.String("user", "You", "persona user name")
		logLevel    = flag.String("log-level", "", "log level: debug, info, warn, error")
		pprofAddr   = flag.String("pprof", "", "serve pprof on this address (e.g. localhost:6060)")
	)
	flag.Parse()

	path := *configPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return err
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *port > 0 {
		cfg.ServerPort = *port
	}
	if *backendName != "" {
		cfg.ActiveBackend = *backendName
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogFile); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = filepath.Join(filepath.Dir(path), "data")
	}

	if *pprofAddr != "" {
		prof, err := pprof.Start(*pprofAddr)
		if err != nil {
			return fmt.Errorf("failed to start pprof: %w", err)
		}
		defer prof.Stop()
	}

	lock, err := lockfile.Acquire(dataDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.Open(filepath.Join(dataDir, "personachat.db"))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	session := chat.NewSession(*userName)
	if err := loadRoster(session, st); err != nil {
		return err
	}

	b, err := backend.New(cfg.ActiveBackend, cfg)
	if err != nil {
		return fmt.Errorf("failed to create backend: %w", err)
	}

	eng := engine.New(session, cfg, b, tokenizer.NewTiktokenEstimator(cfg.Backend(cfg.ActiveBackend).Model))
	sched := group.NewScheduler(session, eng)

	saver := store.NewDebouncer(time.Second, func() error {
		return saveActiveChat(session, st)
	})
	eng.SetSaveHook(saver.Trigger)

	watcher, err := config.NewWatcher(path, func(next *config.Config) {
		eng.SetConfig(next)
	})
	if err != nil {
		logger.Warn("config watching disabled: %v", err)
	} else {
		defer watcher.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := server.NewServer(cfg, eng, sched, st)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	sched.StartAutoMode(ctx, time.Duration(cfg.GroupAutoModeSeconds)*time.Second)

	if err := eng.Connect(ctx); err != nil {
		logger.Warn("backend %s is not reachable yet: %v", b.Name(), err)
	} else {
		logger.Info("connected to backend %s", b.Name())
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	eng.Abort()
	sched.StopAutoMode()
	cancel()
	saver.Flush()
	return srv.Stop()
}

// loadRoster seeds the session with the stored characters and groups.
func loadRoster(session *chat.Session, st *store.Store) error {
	characters, err := st.ListCharacters()
	if err != nil {
		return fmt.Errorf("failed to load characters: %w", err)
	}
	for _, c := range characters {
		session.AddCharacter(c)
	}

	groups, err := st.ListGroups()
	if err != nil {
		return fmt.Errorf("failed to load groups: %w", err)
	}
	for _, g := range groups {
		session.AddGroup(g)
	}

	logger.Info("loaded %d characters and %d groups", len(characters), len(groups))
	return nil
}

// saveActiveChat persists the transcript under the active character or group.
func saveActiveChat(session *chat.Session, st *store.Store) error {
	turns := session.Transcript().Turns()
	if g := session.ActiveGroup(); g != nil {
		return st.SaveChat("group-"+g.ID, g.ID, true, turns)
	}
	if c := session.ActiveCharacter(); c != nil {
		return st.SaveChat("char-"+c.ID, c.ID, false, turns)
	}
	return nil
}
