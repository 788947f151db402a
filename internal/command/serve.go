package command

import (
	"fmt"
	"net/http"
	"os"

	"cloud.google.com/go/compute/metadata"
	"github.com/blendle/zapdriver"
	"github.com/collabterm/collabterm/internal/relay"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logLevel string
var serverAddress string
var allowedOrigins []string

func serve(cmd *cobra.Command, args []string) error {
	logger, gcpProjectID, err := buildLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	websocketOriginFunc := func(request *http.Request) bool {
		origin := request.Header.Get("Origin")

		// Non-browser clients don't send an Origin header
		if origin == "" {
			return true
		}

		for _, allowedOrigin := range allowedOrigins {
			if origin == allowedOrigin {
				return true
			}
		}

		return false
	}

	terminalRelay, err := relay.New(
		relay.WithLogger(logger),
		relay.WithServerAddress(serverAddress),
		relay.WithWebsocketOriginFunc(websocketOriginFunc),
		relay.WithGCPProjectID(gcpProjectID),
	)
	if err != nil {
		return err
	}

	return terminalRelay.Run(cmd.Context())
}

func buildLogger() (*zap.Logger, string, error) {
	level, err := zapcore.ParseLevel(logLevel)
	if err != nil {
		return nil, "", err
	}

	// On GCE, emit Stackdriver-shaped logs and pick up the project ID for
	// trace correlation
	if metadata.OnGCE() {
		gcpProjectID, err := metadata.ProjectID()
		if err != nil {
			return nil, "", err
		}

		logger, err := zapdriver.NewProductionWithCore(zapdriver.WrapCore(
			zapdriver.ReportAllErrors(true),
			zapdriver.ServiceName("collabterm-relay"),
		))
		if err != nil {
			return nil, "", err
		}

		return logger, gcpProjectID, nil
	}

	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(level)

	logger, err := config.Build()
	if err != nil {
		return nil, "", err
	}

	return logger, "", nil
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [flags]",
		Short: "Run a relay that routes envelopes between a project's host and its guests",
		RunE:  serve,
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "logging level")

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	cmd.PersistentFlags().StringVarP(&serverAddress, "listen", "l", fmt.Sprintf(":%s", port),
		"address to listen on")

	cmd.PersistentFlags().StringSliceVar(&allowedOrigins, "allowed-origins", []string{},
		"comma-separated list of origins that browser clients may connect from")

	return cmd
}
