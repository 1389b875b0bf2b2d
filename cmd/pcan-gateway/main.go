package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/canops/go-pcan-gateway/internal/channel"
	"github.com/canops/go-pcan-gateway/internal/httpapi"
	"github.com/canops/go-pcan-gateway/internal/metrics"
	"github.com/canops/go-pcan-gateway/internal/stream"
	"github.com/canops/go-pcan-gateway/internal/tpms"
	"github.com/canops/go-pcan-gateway/internal/wire"
)

const txQueueSize = 1024 // capacity of the stream-to-bus TX queue

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("pcan-gateway %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	dev, cleanup, err := initDevice(ctx, cfg, l, &wg)
	if err != nil {
		l.Error("backend_init_error", "error", err)
		return
	}

	sess := channel.NewSession(dev, l)
	// The adapter must never be left initialized when the process
	// terminates normally.
	defer sess.Close()
	coll := &tpms.Session{}

	api := httpapi.NewServer(sess, coll, l)
	httpSrv := &http.Server{Addr: cfg.httpAddr, Handler: api.Handler()}
	go func() {
		l.Info("http_listen", "addr", cfg.httpAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("http_server_error", "error", err)
			cancel()
		}
	}()

	var streamSrv *stream.Server
	var txq *stream.TxQueue
	if cfg.streamListen != "" {
		h := initHub(cfg, l)
		txq = stream.NewTxQueue(ctx, txQueueSize, sess.WriteFrame)
		streamSrv = stream.NewServer(
			stream.WithListenAddr(cfg.streamListen),
			stream.WithHub(h),
			stream.WithSend(func(rec wire.Record) error { return txq.SendFrame(rec.Frame) }),
			stream.WithLogger(l),
			stream.WithMaxClients(cfg.maxClients),
			stream.WithHandshakeTimeout(cfg.handshakeTO),
			stream.WithReadDeadline(cfg.clientReadTO),
		)
		go func() {
			if err := streamSrv.Serve(ctx); err != nil {
				l.Error("stream_server_error", "error", err)
				cancel()
			}
		}()
		stream.StartPoller(ctx, sess, h, cfg.streamPoll, l, &wg)
	}

	// Start mDNS advertisement for the HTTP API.
	go func() {
		if !cfg.mdnsEnable {
			return
		}
		var portNum int
		if _, p, err := net.SplitHostPort(cfg.httpAddr); err == nil {
			if pn, perr := strconv.Atoi(p); perr == nil {
				portNum = pn
			}
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, portNum)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", portNum)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvMetrics := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvMetrics.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case <-ctx.Done():
	}
	cancel()

	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	_ = httpSrv.Shutdown(shCtx)
	if streamSrv != nil {
		_ = streamSrv.Shutdown(shCtx)
	}
	if txq != nil {
		txq.Close()
	}
	cleanup()
	wg.Wait()
}
