// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/momentics/hioload-daq/config"
	"github.com/momentics/hioload-daq/facade"
	"github.com/momentics/hioload-daq/internal/datagen"
	"github.com/momentics/hioload-daq/internal/logging"
	"github.com/momentics/hioload-daq/pool"
	"github.com/momentics/hioload-daq/transport"
	"github.com/momentics/hioload-daq/transport/tcp"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a sender or receiver node",
	Long: `Run a sender or receiver node. Every flag can also be set through the
environment as DAQ_<KEY>, e.g. DAQ_NET_ROLE=sender.`,
	RunE: runServe,
}

func init() {
	addServeFlags(serveCmd.Flags())
}

func addServeFlags(f *pflag.FlagSet) {
	f.String("config", "", "path to a YAML configuration file (or DAQ_CONFIG)")
	f.String("role", "", "sender or receiver")
	f.String("listen", "", "receiver listen address")
	f.String("connect", "", "sender peer address")
	f.String("metrics", "", "address of the /metrics endpoint, empty disables it")
	f.String("log-level", "", "debug, info, warn or error")
	f.Uint64("count", 0, "sender: payloads to send, 0 until interrupted")
	f.Int("size", 4096, "sender: payload size in bytes")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := config.NewViper()
	for key, flag := range map[string]string{
		"net.role":       "role",
		"net.listen":     "listen",
		"net.connect":    "connect",
		"metrics.listen": "metrics",
		"log.level":      "log-level",
	} {
		// only flags given on the command line override file and env
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}
	path, _ := cmd.Flags().GetString("config")
	return config.LoadViper(v, path)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := logging.Setup(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	node, err := facade.New(cfg, log)
	if err != nil {
		return err
	}
	if err := node.Start(); err != nil {
		return err
	}
	defer func() {
		if err := node.Stop(shutdownTimeout); err != nil {
			log.Warn("node stop", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Listen != "" {
		srv := metricsServer(cfg.Metrics.Listen, node, log)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	switch cfg.Net.Role {
	case "sender":
		count, _ := cmd.Flags().GetUint64("count")
		size, _ := cmd.Flags().GetInt("size")
		return runSender(ctx, cfg, node, log, count, size)
	default:
		return runReceiver(ctx, cfg, node, log)
	}
}

func metricsServer(addr string, node *facade.Node, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", node.Metrics().Handler())
	mux.HandleFunc("/debug/probes", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(node.Probes().DumpState())
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("metrics endpoint", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics endpoint failed", zap.Error(err))
		}
	}()
	return srv
}

func runReceiver(ctx context.Context, cfg *config.Config, node *facade.Node, log *zap.Logger) error {
	ln, err := tcp.Listen(cfg.Net.Listen, tcp.WithLogger(log))
	if err != nil {
		return err
	}
	conn, err := ln.AcceptContext(ctx)
	_ = ln.Close()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	tr, err := node.AddTransport("link", conn)
	if err != nil {
		_ = conn.Close()
		return err
	}

	var v datagen.Verifier
	tr.SetSink(transport.SinkFunc(func(buf *pool.Buffer) bool {
		if err := v.Check(buf); err != nil {
			log.Warn("payload check failed", zap.Error(err))
		}
		buf.Release()
		return true
	}))

	select {
	case <-ctx.Done():
		_ = tr.Close()
	case <-tr.Done():
	}
	// the sink runs on the transport thread; read the verifier from there
	th, _ := node.Thread(cfg.Transport.Thread)
	_ = th.Stop(shutdownTimeout)
	received, bytes, errs := v.Stats()
	log.Info("receiver finished",
		zap.Uint64("payloads", received), zap.Uint64("bytes", bytes), zap.Uint64("errors", errs),
		zap.NamedError("transport_error", tr.Err()))
	if errs > 0 {
		return errors.New("payload verification failed")
	}
	return nil
}

func runSender(ctx context.Context, cfg *config.Config, node *facade.Node, log *zap.Logger, count uint64, size int) error {
	gen, err := datagen.NewGenerator(size)
	if err != nil {
		return err
	}
	p, ok := node.Pool(cfg.Transport.Pool)
	if !ok {
		return errors.New("transport pool not configured")
	}
	if err := gen.Fits(p); err != nil {
		return err
	}
	conn, err := tcp.Dial(ctx, cfg.Net.Connect, tcp.WithLogger(log))
	if err != nil {
		return err
	}
	tr, err := node.AddTransport("link", conn)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer tr.Close()

	ready := make(chan struct{}, 1)
	tr.OnSendReady(func() {
		select {
		case ready <- struct{}{}:
		default:
		}
	})
	wait := func() error {
		select {
		case <-ready:
		case <-time.After(10 * time.Millisecond):
		case <-tr.Done():
			return tr.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	start := time.Now()
	for count == 0 || gen.Seq() < count {
		buf := gen.Next(p)
		if buf == nil {
			if err := wait(); err != nil {
				return finishSend(ctx, err, log)
			}
			continue
		}
		for {
			err := tr.Send(buf)
			if err == nil {
				break
			}
			if !transport.IsBackpressure(err) {
				buf.Release()
				return finishSend(ctx, err, log)
			}
			if err := wait(); err != nil {
				buf.Release()
				return finishSend(ctx, err, log)
			}
		}
	}
	for tr.Stats().SentBuffers < gen.Seq() {
		if err := wait(); err != nil {
			return finishSend(ctx, err, log)
		}
	}
	elapsed := time.Since(start)
	st := tr.Stats()
	log.Info("sender finished",
		zap.Uint64("payloads", st.SentBuffers), zap.Uint64("bytes", st.SentBytes),
		zap.Duration("elapsed", elapsed),
		zap.Float64("mib_per_s", float64(st.SentBytes)/(1<<20)/elapsed.Seconds()))
	return nil
}

func finishSend(ctx context.Context, err error, log *zap.Logger) error {
	if ctx.Err() != nil {
		log.Info("sender interrupted")
		return nil
	}
	return err
}
