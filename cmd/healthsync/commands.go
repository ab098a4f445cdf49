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

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"healthtrack/syncd/internal/httpapi"
	"healthtrack/syncd/internal/telemetry"
)

var (
	listenAddr string
	clearQueue bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the connectivity monitor, sync engine and local HTTP API",
	RunE:  runServe,
}

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Probe connectivity once and drain the queue once",
	RunE:  runDrain,
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Print the pending operations",
	RunE:  runQueue,
}

func init() {
	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "address for the HTTP API (overrides config)")
	queueCmd.Flags().BoolVar(&clearQueue, "clear", false, "discard every pending operation after printing")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	a.monitor.Start(ctx)
	a.engine.Start(ctx)
	if pending, err := a.queue.Len(ctx); err == nil && pending > 0 {
		glog.Infof("[serve]%d operations pending from a previous run\n", pending)
		a.engine.Trigger()
	}

	api := httpapi.NewServer(a.docs, a.engine, a.registry)
	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           telemetry.Middleware(api.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		glog.Infof("[serve]listening on %s online=%t\n", cfg.Listen, a.monitor.IsOnline())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		glog.Infof("[serve]shutting down\n")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		glog.Warningf("[serve]http shutdown: %v\n", err)
	}
	return nil
}

func runDrain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Sync.DisableAutoSync = true
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	online := a.monitor.Check(ctx)
	a.engine.Start(ctx)
	result, err := a.engine.Drain(ctx)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"online": online, "result": result})
}

func runQueue(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Sync.DisableAutoSync = true
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	ops, err := a.queue.List(ctx)
	if err != nil {
		return err
	}
	if err := printJSON(map[string]any{"operations": ops}); err != nil {
		return err
	}
	if clearQueue {
		if err := a.queue.Clear(ctx); err != nil {
			return err
		}
		glog.Warningf("[queue]discarded %d pending operations\n", len(ops))
	}
	return nil
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
