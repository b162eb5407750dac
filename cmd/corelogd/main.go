// corelogd is a minimal daemon exercising a corelog.Log over a TCP
// listener: it opens (or creates) a log at a configured path, accepts
// replication connections, and appends lines read from stdin.
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/teneriv/corelog"
	"github.com/teneriv/corelog/core"
	"github.com/teneriv/corelog/replicator"
)

type daemonConfig struct {
	Path       string `yaml:"path"`
	ListenAddr string `yaml:"listen_addr"`
	Writable   bool   `yaml:"writable"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		path       string
		listenAddr string
		writable   bool
	)

	flagSet := pflag.NewFlagSet("corelogd", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a YAML config file")
	flagSet.StringVar(&path, "path", "", "directory holding the log's storage")
	flagSet.StringVar(&listenAddr, "listen", ":7417", "address to accept replication connections on")
	flagSet.BoolVar(&writable, "writable", false, "generate a signer and allow local appends")
	flagSet.BoolP("help", "h", false, "show help")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		flagSet.PrintDefaults()
		return nil
	}

	cfg := daemonConfig{Path: path, ListenAddr: listenAddr, Writable: writable}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	}
	if cfg.Path == "" {
		return fmt.Errorf("--path (or config path:) is required")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var opts []corelog.Option
	if cfg.Writable {
		signer, err := core.NewSigner()
		if err != nil {
			return fmt.Errorf("generate signer: %w", err)
		}
		opts = append(opts, corelog.WithSigner(signer))
	}

	log, err := corelog.OpenPath(cfg.Path, opts...)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer log.Close()

	logger.Info("log opened", "length", log.Length(), "writable", log.Writable())

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()
	logger.Info("listening for replication peers", "addr", cfg.ListenAddr)

	go acceptLoop(ln, log, logger)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Bytes()
		if !log.Writable() {
			logger.Warn("ignoring stdin line, log is not writable")
			continue
		}
		idx, err := log.Append(append([]byte(nil), line...))
		if err != nil {
			logger.Error("append failed", "err", err)
			continue
		}
		logger.Info("appended", "index", idx)
	}
	return scanner.Err()
}

func acceptLoop(ln net.Listener, log *corelog.Log, logger *slog.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.Error("accept failed", "err", err)
			return
		}
		peer := log.Replicate(replicator.NewSecureStream(conn))
		logger.Info("peer connected", "id", peer.ID)
	}
}
