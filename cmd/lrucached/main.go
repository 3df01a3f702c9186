// Command lrucached is the in-memory key/value cache server.
//
// It speaks the memcached text protocol over TCP and, optionally, over a
// named pipe pair. The storage backend (locking strategy) and the network
// engine are selectable at startup.
//
// Usage:
//
//	# defaults: epoll engine, global-lock store, port 8080
//	./lrucached
//
//	# striped store, blocking engine, custom port
//	./lrucached --storage map_striped --network blocking --port 11211
//
//	# serve a pipe pair next to the TCP port
//	./lrucached --read-fifo /tmp/cache.in --write-fifo /tmp/cache.out
//
// Settings are layered: defaults → config file → LRUCACHED_* environment
// variables → flags. Changes to logLevel in the config file are applied
// live.
package main

import (
	"bytes"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/agilira/argus"
	"github.com/natefinch/atomic"
	"github.com/spf13/pflag"

	"lrucached/internal/config"
	"lrucached/internal/logger"
	"lrucached/internal/management"
	"lrucached/internal/metrics"
	"lrucached/internal/server"
	"lrucached/internal/server/blocking"
	"lrucached/internal/server/epoll"
	"lrucached/internal/storage"
)

// Version of the server binary.
const Version = "1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		cfgPath        = pflag.String("config", config.DefaultConfigFile, "config file (HuJSON)")
		port           = pflag.Int("port", 0, "TCP listen port")
		workers        = pflag.Int("workers", 0, "worker count")
		storageKind    = pflag.String("storage", "", "storage backend: map_global | map_rwlock | map_striped")
		network        = pflag.String("network", "", "network engine: blocking | epoll | nonblocking")
		maxSize        = pflag.Int("max-size", 0, "store entry capacity")
		readFifo       = pflag.String("read-fifo", "", "command pipe path")
		writeFifo      = pflag.String("write-fifo", "", "reply pipe path")
		pidFile        = pflag.String("pidfile", "", "write the process id here")
		managementPort = pflag.Int("management-port", -1, "HTTP status plane port, 0 disables")
		logLevel       = pflag.String("log-level", "", "debug | info | warn | error")
		showVersion    = pflag.BoolP("version", "v", false, "print version and exit")
	)
	pflag.Parse()

	if *showVersion {
		fmt.Printf("lrucached %s\n", Version)
		return 0
	}

	cfg := config.Load(*cfgPath)
	applyFlags(cfg, *port, *workers, *storageKind, *network, *maxSize,
		*readFifo, *writeFifo, *pidFile, *managementPort, *logLevel)

	log := logger.New("MAIN", cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Errorf("config", "%v", err)
		return 1
	}

	// Mask SIGPIPE before any worker thread exists so descendants inherit
	// it: a write to a closed peer must surface as EPIPE, not kill us.
	signal.Ignore(syscall.SIGPIPE)

	printBanner(cfg)

	store := buildStore(cfg)
	m := metrics.New()
	loggers := []*logger.Logger{log}

	if cfg.PidFile != "" {
		pid := strconv.Itoa(os.Getpid()) + "\n"
		if err := atomic.WriteFile(cfg.PidFile, bytes.NewReader([]byte(pid))); err != nil {
			log.Errorf("pidfile", "write %s: %v", cfg.PidFile, err)
			return 1
		}
		defer os.Remove(cfg.PidFile)
	}

	if cfg.ManagementPort > 0 {
		mgmtLog := logger.New("MGMT", cfg.LogLevel)
		loggers = append(loggers, mgmtLog)
		mgmt := management.New(cfg, store, m, mgmtLog)
		go func() {
			if err := mgmt.ListenAndServe(); err != nil {
				mgmtLog.Errorf("serve", "%v", err)
			}
		}()
	}

	eng, engLog := buildEngine(cfg, store, m)
	loggers = append(loggers, engLog)

	if watcher := watchLogLevel(*cfgPath, loggers, log); watcher != nil {
		defer watcher.Stop()
	}

	if err := eng.Start(); err != nil {
		log.Errorf("start", "%v", err)
		return 1
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Infof("shutdown", "caught %s, stopping", sig)
	eng.Stop()

	if err := eng.Join(); err != nil {
		log.Errorf("shutdown", "worker failure: %v", err)
		return 1
	}
	log.Info("shutdown", "all workers stopped")
	return 0
}

// applyFlags lays explicitly set flags over the loaded config.
func applyFlags(cfg *config.Config, port, workers int, storageKind, network string,
	maxSize int, readFifo, writeFifo, pidFile string, managementPort int, logLevel string) {
	if port > 0 {
		cfg.Port = port
	}
	if workers > 0 {
		cfg.Workers = workers
	}
	if storageKind != "" {
		cfg.Storage = storageKind
	}
	if network != "" {
		cfg.Network = network
	}
	if maxSize > 0 {
		cfg.MaxSize = maxSize
	}
	if readFifo != "" {
		cfg.ReadFifo = readFifo
	}
	if writeFifo != "" {
		cfg.WriteFifo = writeFifo
	}
	if pidFile != "" {
		cfg.PidFile = pidFile
	}
	if managementPort >= 0 {
		cfg.ManagementPort = managementPort
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
}

// buildStore selects the concurrency wrapper around the bounded LRU core.
func buildStore(cfg *config.Config) storage.Backend {
	switch cfg.Storage {
	case config.StorageRWLock:
		return storage.NewRWLock(cfg.MaxSize)
	case config.StorageStriped:
		return storage.NewStriped(cfg.MaxSize, cfg.Stripes)
	default:
		return storage.NewGlobalLock(cfg.MaxSize)
	}
}

// buildEngine selects the network frontend. The nonblocking mode is the
// reactor engine with a single worker and one listening socket.
func buildEngine(cfg *config.Config, store storage.Backend, m *metrics.Metrics) (server.Engine, *logger.Logger) {
	switch cfg.Network {
	case config.NetworkBlocking:
		log := logger.New("BLOCKING", cfg.LogLevel)
		if cfg.ReadFifo != "" {
			log.Warn("fifo", "pipe pair requires the epoll engine; ignoring")
		}
		return blocking.New(cfg.Port, cfg.Workers, store, m, log), log
	case config.NetworkNonblocking:
		log := logger.New("EPOLL", cfg.LogLevel)
		return epoll.New(cfg.Port, 1, cfg.ReadFifo, cfg.WriteFifo, store, m, log), log
	default:
		log := logger.New("EPOLL", cfg.LogLevel)
		return epoll.New(cfg.Port, cfg.Workers, cfg.ReadFifo, cfg.WriteFifo, store, m, log), log
	}
}

// watchLogLevel applies config-file logLevel changes to every module
// logger while the server runs. Absent config file means no watcher.
func watchLogLevel(path string, loggers []*logger.Logger, log *logger.Logger) *argus.Watcher {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	watcher, err := argus.UniversalConfigWatcherWithConfig(path,
		func(data map[string]interface{}) {
			level, ok := data["logLevel"].(string)
			if !ok {
				return
			}
			for _, l := range loggers {
				l.SetLevel(level)
			}
			log.Infof("reload", "log level set to %s", level)
		},
		argus.Config{PollInterval: time.Second})
	if err != nil {
		log.Warnf("reload", "config watcher: %v", err)
		return nil
	}
	if err := watcher.Start(); err != nil {
		log.Warnf("reload", "config watcher start: %v", err)
		return nil
	}
	return watcher
}

func printBanner(cfg *config.Config) {
	fifo := "(none)"
	if cfg.ReadFifo != "" {
		fifo = cfg.ReadFifo + " → " + cfg.WriteFifo
	}
	fmt.Printf(`
╔══════════════════════════════════════════════════════╗
║          lrucached  —  in-memory cache (Go)          ║
╚══════════════════════════════════════════════════════╝
  Port        : %d
  Storage     : %s  (capacity %d)
  Network     : %s  (%d workers)
  Pipe pair   : %s
  Management  : %s

  Talk to it:
    printf 'set greeting 0 0 5\r\nhello\r\nget greeting\r\n' | nc localhost %d
`, cfg.Port, cfg.Storage, cfg.MaxSize, cfg.Network, cfg.Workers, fifo,
		managementAddr(cfg), cfg.Port)
}

func managementAddr(cfg *config.Config) string {
	if cfg.ManagementPort <= 0 {
		return "(disabled)"
	}
	return fmt.Sprintf("http://127.0.0.1:%d/status", cfg.ManagementPort)
}
