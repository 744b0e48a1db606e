package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/plates/internal/handlers"
)

var (
	serveFlags modelFlags
	servePort  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve predictions over HTTP",
	Long: `Starts the prediction service.

Endpoints:
  GET  /health         Health check
  GET  /labels         Class labels ordered by id
  POST /predict        Raw array prediction, {"image": [...]} scaled to [0, 1]
  POST /predict/image  Predict from an image upload (form field "image")

Example:
  curl -X POST -F "image=@plate.jpg" http://localhost:8080/predict/image`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveFlags.register(serveCmd, true)
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "Listen port (default: from config or PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	adapter, server, err := serveFlags.openAdapter()
	if err != nil {
		return err
	}
	defer server.Close()

	port := cfg.Server.Port
	if servePort != "" {
		port = servePort
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handlers.NewRouter(handlers.NewHandler(adapter, logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("port", port), zap.Strings("labels", adapter.Labels()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-cmd.Context().Done():
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
