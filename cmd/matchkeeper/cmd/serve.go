package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/matchkeeper/internal/core/api"
	"github.com/solatis/matchkeeper/internal/core/auth"
	"github.com/solatis/matchkeeper/internal/core/config"
	"github.com/solatis/matchkeeper/internal/core/httpapi"
	"github.com/solatis/matchkeeper/internal/core/mqttbridge"
	"github.com/solatis/matchkeeper/internal/core/server"
	"github.com/solatis/matchkeeper/internal/props"
	"github.com/solatis/matchkeeper/internal/rules"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the matcher over gRPC, HTTP and MQTT",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "0.0.0.0", "listen host")
	serveCmd.Flags().Int("grpc-port", 50051, "gRPC server port")
	serveCmd.Flags().Int("http-port", 8080, "HTTP server port (0 disables)")
	serveCmd.Flags().String("rules", "", "rules file (YAML or JSON)")
}

func applyServeFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("host") {
		cfg.Service.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("grpc-port") {
		cfg.Service.GRPCPort, _ = cmd.Flags().GetInt("grpc-port")
	}
	if cmd.Flags().Changed("http-port") {
		cfg.Service.HTTPPort, _ = cmd.Flags().GetInt("http-port")
	}
	if cmd.Flags().Changed("rules") {
		cfg.Service.RulesFile, _ = cmd.Flags().GetString("rules")
	}
	return config.Validate(cfg)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyServeFlags(cmd, cfg); err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}

	raw, err := config.LoadRules(cfg.Service.RulesFile)
	if err != nil {
		return err
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	resolver := props.New(props.WithFlow(st.flow), props.WithGlobal(st.global))
	matcher, err := rules.NewMatcher(raw, resolver, rules.WithLogger(logger))
	if err != nil {
		return err
	}
	for _, e := range rules.Check(matcher.Rules()) {
		logger.Warn("rule configuration problem", "error", e)
	}

	fe, err := buildFrontends(ctx, cfg, matcher, st, logger, dialMQTT)
	if err != nil {
		return err
	}
	defer fe.close()

	logger.Info("starting matchkeeper",
		"version", Version,
		"rules", len(raw),
		"grpc", net.JoinHostPort(cfg.Service.Host, fmt.Sprint(cfg.Service.GRPCPort)))
	return serveFrontends(ctx, fe, logger)
}

// mqttDialer connects to the broker and returns a disconnect func.
type mqttDialer func(ctx context.Context, cfg config.MQTTConfig, logger *slog.Logger) (mqttbridge.Client, func(), error)

func dialMQTT(ctx context.Context, cfg config.MQTTConfig, logger *slog.Logger) (mqttbridge.Client, func(), error) {
	client, err := mqttbridge.Dial(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return client, func() { client.Disconnect(250) }, nil
}

// frontends are the gRPC, HTTP and MQTT surfaces of one serve run. They are
// fully built before any listener starts.
type frontends struct {
	grpc    *server.GRPCServer
	http    *http.Server
	cleanup []func()
}

// close runs cleanups in reverse order of registration.
func (f *frontends) close() {
	for i := len(f.cleanup) - 1; i >= 0; i-- {
		f.cleanup[i]()
	}
	f.cleanup = nil
}

func buildFrontends(ctx context.Context, cfg *config.Config, matcher *rules.Matcher, st *stores, logger *slog.Logger, dial mqttDialer) (_ *frontends, err error) {
	fe := &frontends{}
	defer func() {
		if err != nil {
			fe.close()
		}
	}()

	authn := auth.NewAuthenticator(cfg.Service.APIToken)
	if !authn.Enabled() {
		logger.Warn("API token not set, gRPC and HTTP APIs are unauthenticated")
	}

	service, err := api.NewMatcherService(matcher, cfg.Service.RequestTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	fe.grpc, err = server.NewGRPCServer(&cfg.Service, service, authn)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	if cfg.Service.HTTPPort != 0 {
		handler, err := httpapi.New(matcher, httpapi.Stores{Flow: st.flow, Global: st.global}, authn, cfg.Service.RequestTimeout, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP API: %w", err)
		}
		fe.http = &http.Server{
			Addr:              net.JoinHostPort(cfg.Service.Host, fmt.Sprint(cfg.Service.HTTPPort)),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	if cfg.MQTT.Enabled() {
		client, disconnect, err := dial(ctx, cfg.MQTT, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		fe.cleanup = append(fe.cleanup, disconnect)

		bridge, err := mqttbridge.New(client, matcher, cfg.MQTT, logger)
		if err != nil {
			return nil, err
		}
		if err := bridge.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start MQTT bridge: %w", err)
		}
		fe.cleanup = append(fe.cleanup, func() {
			if err := bridge.Stop(); err != nil {
				logger.Warn("mqtt bridge stop failed", "error", err)
			}
		})
	}
	return fe, nil
}

// serveFrontends runs the listeners until ctx ends or one of them fails.
// Either way both servers go through shutdown.
func serveFrontends(ctx context.Context, fe *frontends, logger *slog.Logger) error {
	errChan := make(chan error, 2)
	go func() {
		errChan <- fe.grpc.Start(ctx)
	}()
	if fe.http != nil {
		logger.Info("starting HTTP API", "addr", fe.http.Addr)
		go func() {
			if err := fe.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()
	}

	var runErr error
	select {
	case runErr = <-errChan:
	case <-ctx.Done():
		logger.Info("shutting down gracefully")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if fe.http != nil {
		if err := fe.http.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP shutdown failed", "error", err)
		}
	}
	if err := fe.grpc.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
