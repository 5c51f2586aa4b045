package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/KilimcininKorOglu/cruise/internal/config"
	"github.com/KilimcininKorOglu/cruise/internal/logging"
	"github.com/KilimcininKorOglu/cruise/internal/raft"
	"github.com/KilimcininKorOglu/cruise/internal/store"
)

// nodeStore is a raft store that can walk its committed entries.
type nodeStore interface {
	raft.Store
	Replay(fn func(*raft.Entry) error) error
}

// Server is one running cluster node with its store and transport.
type Server struct {
	config     *config.Config
	configFile string
	logger     logging.Logger
	node       *raft.Node
	store      nodeStore
	closeStore func() error
	applied    atomic.Uint64
	mu         sync.Mutex
}

// NewServer creates a node from cfg. The node does not listen until Start.
func NewServer(cfg *config.Config) (*Server, error) {
	logger := logging.New(cfg.LoggerSettings())

	addr, err := raft.NormalizeAddr(cfg.Node.Address)
	if err != nil {
		return nil, err
	}

	var (
		st         nodeStore
		closeStore = func() error { return nil }
	)
	if cfg.Store.DataDir != "" {
		fs, err := store.OpenFileStore(cfg.Store.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		st, closeStore = fs, fs.Close
	} else {
		st = store.NewMemoryStore()
	}

	transport := raft.NewTCPTransport(addr)
	transport.SetTimeout(cfg.NodeSettings().RPCTimeout)

	node, err := raft.NewNode(cfg.NodeSettings(), transport, st)
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("failed to create node: %w", err)
	}

	s := &Server{
		config:     cfg,
		logger:     logger,
		node:       node,
		store:      st,
		closeStore: closeStore,
	}
	node.SetLogger(logger.WithFields("node", node.ID()))
	node.SetApplier(s.apply)
	return s, nil
}

// apply receives committed records in log order.
func (s *Server) apply(e *raft.Entry) {
	s.applied.Add(1)
	s.logger.Debug("record committed", "index", e.Index, "term", e.Term, "size", len(e.Value))
}

// Start replays the stored history into the applier and starts the node.
func (s *Server) Start() error {
	replayed, err := s.replay()
	if err != nil {
		return fmt.Errorf("failed to replay store: %w", err)
	}

	if err := s.node.Start(); err != nil {
		return err
	}
	s.logger.Info("node started",
		"version", version,
		"commit", commit,
		"id", s.node.ID(),
		"address", s.node.Addr(),
		"peers", s.config.Cluster.Peers,
		"dataDir", s.config.Store.DataDir,
		"quorum", s.node.QuorumSize(),
		"replayed", replayed)
	return nil
}

// replay feeds every stored command entry to apply. The node itself only
// delivers entries committed after its recovered base.
func (s *Server) replay() (int, error) {
	count := 0
	err := s.store.Replay(func(e *raft.Entry) error {
		if e.Type == raft.EntryCommand {
			s.apply(e)
			count++
		}
		return nil
	})
	return count, err
}

// Stop stops the node and closes the store.
func (s *Server) Stop() error {
	err := s.node.Stop()
	if cerr := s.closeStore(); err == nil {
		err = cerr
	}
	s.logger.Info("node stopped", "applied", s.applied.Load())
	s.logger.Sync()
	return err
}

// handleConfigReload applies the parts of a new configuration that can
// change at runtime. It compares against the running configuration, which
// includes command-line and environment overrides.
func (s *Server) handleConfigReload(_, newCfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldCfg := s.config

	if oldCfg.Logging.Level != newCfg.Logging.Level {
		s.logger.SetLevel(logging.ParseLevel(newCfg.Logging.Level))
		s.logger.Info("log level changed", "old", oldCfg.Logging.Level, "new", newCfg.Logging.Level)
	}

	if !reflect.DeepEqual(oldCfg.Node, newCfg.Node) ||
		!reflect.DeepEqual(oldCfg.Cluster, newCfg.Cluster) ||
		!reflect.DeepEqual(oldCfg.Raft, newCfg.Raft) ||
		oldCfg.Store != newCfg.Store {
		s.logger.Warn("configuration change requires restart", "file", s.configFile)
	}

	s.config = newCfg
}

// handleSIGHUP re-reads the config file.
func (s *Server) handleSIGHUP() {
	if s.configFile == "" {
		s.logger.Warn("SIGHUP ignored, no config file")
		return
	}

	newCfg, err := config.LoadConfig(s.configFile)
	if err != nil {
		s.logger.Error("failed to reload config", "file", s.configFile, "error", err)
		return
	}
	if errs := config.ValidateConfig(newCfg); len(errs) > 0 {
		s.logger.Error("reloaded config is invalid", "file", s.configFile, "error", errs[0])
		return
	}

	s.handleConfigReload(nil, newCfg)
}

// serveCmd handles the serve command.
func serveCmd(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	configFile := fs.String("config", "", "Path to configuration file")
	id := fs.String("id", "", "Node ID (overrides config)")
	address := fs.String("address", "", "Listen address (overrides config)")
	peers := fs.String("peers", "", "Comma-separated peer addresses (overrides config)")
	dataDir := fs.String("data-dir", "", "Data directory path (overrides config)")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printServeUsage(os.Stdout)
		return 0
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	// Command-line overrides take priority over the config file.
	if *id != "" {
		cfg.Node.ID = *id
	}
	if *address != "" {
		cfg.Node.Address = *address
	}
	if *peers != "" {
		cfg.Cluster.Peers = splitList(*peers)
	}
	if *dataDir != "" {
		cfg.Store.DataDir = *dataDir
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	// Environment variables take priority over both.
	applyEnvOverrides(cfg)

	if !reportValidation(cfg) {
		return 1
	}

	srv, err := NewServer(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create server: %v\n", err)
		return 1
	}
	srv.configFile = *configFile

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start node: %v\n", err)
		srv.closeStore()
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *configFile != "" {
		watcher, err := config.NewWatcher(&config.WatcherConfig{
			FilePath: *configFile,
			OnChange: srv.handleConfigReload,
			OnError: func(err error) {
				srv.logger.Warn("config reload failed", "file", *configFile, "error", err)
			},
		})
		if err != nil {
			srv.logger.Warn("failed to create config watcher", "error", err)
		} else {
			go watcher.Run(ctx)
			srv.logger.Info("config file watcher started", "file", *configFile)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			srv.handleSIGHUP()
		case syscall.SIGINT, syscall.SIGTERM:
			srv.logger.Info("received signal, shutting down", "signal", sig.String())
			if err := srv.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "Shutdown error: %v\n", err)
				return 1
			}
			return 0
		}
	}
	return 0
}
