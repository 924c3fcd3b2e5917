package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/heathdorn/overseer/internal/bus"
	"github.com/heathdorn/overseer/internal/executor"
	"github.com/heathdorn/overseer/internal/gateway"
	"github.com/heathdorn/overseer/internal/server"
	"github.com/heathdorn/overseer/internal/store"
	"github.com/heathdorn/overseer/internal/workflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the overseer server",
	Long:  "Starts the HTTP API, the event stream, and the executor's gateway\nconnection. Runs until interrupted.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	st, cfg, err := mustStore()
	if err != nil {
		return err
	}
	defer st.Close()

	b := bus.New(0)
	svc := workflow.New(st, b)

	deviceKeyPath := cfg.Gateway.DeviceKeyPath
	if deviceKeyPath == "" {
		deviceKeyPath = overseerPath("device.json")
	}
	device, err := gateway.LoadOrCreateDevice(deviceKeyPath)
	if err != nil {
		return fmt.Errorf("device identity: %w", err)
	}

	gwCfg := gateway.Config{
		Addr:     cfg.Gateway.Addr,
		Token:    cfg.Gateway.EffectiveToken(),
		ClientID: "overseer",
		Version:  version,
		Device:   device,
	}
	if cfg.Gateway.HandshakeTimeout > 0 {
		gwCfg.HandshakeTimeout = time.Duration(cfg.Gateway.HandshakeTimeout) * time.Second
	}
	gw := gateway.NewClient(gwCfg)
	defer gw.Close()

	exec := executor.New(svc, gw, b, executor.Config{
		PollInterval:  cfg.Executor.PollInterval(),
		AgentPoolSize: cfg.Executor.AgentPoolSize,
		EligibleOwner: store.OwnerType(cfg.Executor.EligibleOwner),
	})

	srv := server.New(svc, exec, b, server.Config{Heartbeat: cfg.Stream.Heartbeat()})
	httpSrv := &http.Server{Addr: cfg.Listen, Handler: srv.Handler()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The gateway connection is best-effort at boot: the board and the API
	// work without it, and the client reconnects on its own once up.
	go connectGateway(ctx, gw)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Printf("overseer listening on %s\n", cfg.Listen)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		exec.Stop()
		gw.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func connectGateway(ctx context.Context, gw *gateway.Client) {
	backoff := time.Second
	for {
		if err := gw.Connect(ctx); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}
