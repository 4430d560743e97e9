// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// objectfs-mount serves a demonstration object namespace over FUSE.
// It exposes the running process itself as the object hierarchy:
// scheduler and memory statistics as attribute files, the raw
// environment block as a binary attribute, and a symlink from the
// process directory to the runtime directory.
//
// The namespace doubles as a smoke test for the library: every
// attribute value is produced on open by a show callback, and
// gomaxprocs is writable through its store callback.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/objectfs/lib/clock"
	"github.com/bureau-foundation/objectfs/lib/objectfs"
	objectfuse "github.com/bureau-foundation/objectfs/lib/objectfs/fuse"
	"github.com/bureau-foundation/objectfs/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// config is the optional YAML configuration file. Flags override file
// values.
type config struct {
	// Mountpoint is the directory to mount the namespace at.
	Mountpoint string `yaml:"mountpoint"`

	// AllowOther permits other users to access the mount.
	AllowOther bool `yaml:"allow_other"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

func run() error {
	var (
		configPath string
		mountpoint string
		allowOther bool
		logLevel   string
	)

	flagSet := pflag.NewFlagSet("objectfs-mount", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to YAML configuration file (optional)")
	flagSet.StringVar(&mountpoint, "mountpoint", "", "directory to mount the namespace at")
	flagSet.BoolVar(&allowOther, "allow-other", false, "permit other users to access the mount")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default info)")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("objectfs-mount %s\n", version.Info())
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			flagSet.PrintDefaults()
			return nil
		}
		return err
	}

	cfg := config{LogLevel: "info"}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parsing config %s: %w", configPath, err)
		}
	}
	if mountpoint != "" {
		cfg.Mountpoint = mountpoint
	}
	if allowOther {
		cfg.AllowOther = true
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if cfg.Mountpoint == "" {
		return fmt.Errorf("--mountpoint (or mountpoint in the config file) is required")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ns := objectfs.New(objectfs.Options{
		Clock:  clock.Real(),
		Logger: logger,
	})

	server, err := objectfuse.Mount(objectfuse.Options{
		Mountpoint: cfg.Mountpoint,
		Namespace:  ns,
		AllowOther: cfg.AllowOther,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	rt, err := populate(ns, logger)
	if err != nil {
		server.Unmount()
		return fmt.Errorf("populating namespace: %w", err)
	}
	logger.Info("namespace ready", "mountpoint", cfg.Mountpoint)

	// Wake uptime watchers once a second until shutdown.
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ns.Notify(rt, "uptime")
			}
		}
	}()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		if err := server.Unmount(); err != nil {
			logger.Error("unmount failed", "error", err)
		}
	}()

	server.Wait()
	return nil
}

// object is the owner type of the demonstration hierarchy. Identity is
// by name: two objects with the same name and parent chain address the
// same directory.
type object struct {
	name   string
	parent *object
}

func (o *object) ObjectName() string { return o.name }

func (o *object) ObjectParent() objectfs.Owner {
	if o.parent == nil {
		return nil
	}
	return o.parent
}

// populate builds the demonstration namespace and returns the runtime
// owner for later notifications.
func populate(ns *objectfs.Namespace, logger *slog.Logger) (*object, error) {
	started := time.Now()

	rt := &object{name: "runtime"}
	if err := ns.CreateDirectory(rt); err != nil {
		return nil, err
	}

	attrs := []objectfs.Attribute{
		{
			Name: "goroutines",
			Show: func() ([]byte, error) {
				return []byte(strconv.Itoa(runtime.NumGoroutine()) + "\n"), nil
			},
		},
		{
			Name: "gomaxprocs",
			Show: func() ([]byte, error) {
				return []byte(strconv.Itoa(runtime.GOMAXPROCS(0)) + "\n"), nil
			},
			Store: func(data []byte) error {
				n, err := strconv.Atoi(strings.TrimSpace(string(data)))
				if err != nil || n < 1 {
					return fmt.Errorf("gomaxprocs: %q is not a positive integer: %w", data, os.ErrInvalid)
				}
				old := runtime.GOMAXPROCS(n)
				logger.Info("gomaxprocs changed", "old", old, "new", n)
				return nil
			},
		},
		{
			Name: "version",
			Show: func() ([]byte, error) {
				return []byte(runtime.Version() + "\n"), nil
			},
		},
		{
			Name: "uptime",
			Show: func() ([]byte, error) {
				return []byte(time.Since(started).Truncate(time.Second).String() + "\n"), nil
			},
		},
	}
	for _, attr := range attrs {
		if err := ns.AddAttribute(rt, attr); err != nil {
			return nil, err
		}
	}

	if err := ns.AddGroup(rt, objectfs.Group{
		Name: "memory",
		Attributes: []objectfs.Attribute{
			memStat("alloc_bytes", func(s *runtime.MemStats) uint64 { return s.Alloc }),
			memStat("sys_bytes", func(s *runtime.MemStats) uint64 { return s.Sys }),
			memStat("gc_cycles", func(s *runtime.MemStats) uint64 { return uint64(s.NumGC) }),
		},
	}); err != nil {
		return nil, err
	}

	proc := &object{name: "process"}
	if err := ns.CreateDirectory(proc); err != nil {
		return nil, err
	}
	hostname, _ := os.Hostname()
	procAttrs := []objectfs.Attribute{
		{Name: "pid", Show: func() ([]byte, error) {
			return []byte(strconv.Itoa(os.Getpid()) + "\n"), nil
		}},
		{Name: "hostname", Show: func() ([]byte, error) {
			return []byte(hostname + "\n"), nil
		}},
	}
	for _, attr := range procAttrs {
		if err := ns.AddAttribute(proc, attr); err != nil {
			return nil, err
		}
	}

	environ := []byte(strings.Join(os.Environ(), "\x00"))
	if err := ns.AddBinAttribute(proc, objectfs.BinAttribute{
		Name: "environ",
		Size: int64(len(environ)),
		ReadAt: func(p []byte, off int64) (int, error) {
			if off >= int64(len(environ)) {
				return 0, nil
			}
			return copy(p, environ[off:]), nil
		},
	}); err != nil {
		return nil, err
	}

	return rt, ns.CreateSymlink(proc, rt, "runtime")
}

// memStat builds a read-only attribute over one MemStats field.
func memStat(name string, field func(*runtime.MemStats) uint64) objectfs.Attribute {
	return objectfs.Attribute{
		Name: name,
		Show: func() ([]byte, error) {
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			return []byte(strconv.FormatUint(field(&stats), 10) + "\n"), nil
		},
	}
}
