package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hrygo/fincue/internal/profile"
	"github.com/hrygo/fincue/server"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	instanceProfile, err := loadProfile()
	if err != nil {
		return err
	}
	logger := setupLogger(instanceProfile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, instanceProfile, appOptions{Persist: true}, logger)
	if err != nil {
		printDatabaseError(err, instanceProfile)
		return err
	}

	s, err := server.NewServer(ctx, instanceProfile, a.router, server.Options{
		Metrics:       a.exporter.Handler(),
		SnapshotQueue: a.persister.QueueSize,
		Logger:        logger,
	})
	if err != nil {
		_ = a.close()
		return err
	}

	c := make(chan os.Signal, 1)
	// Trigger graceful shutdown on SIGINT or SIGTERM.
	signal.Notify(c, terminationSignals...)
	defer signal.Stop(c)

	a.start(ctx)
	if err := s.Start(ctx); err != nil {
		_ = a.close()
		return err
	}

	printGreetings(instanceProfile, a)

	sig := <-c
	logger.Info("shutting down", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}
	cancel()
	return a.close()
}

func printGreetings(profile *profile.Profile, a *app) {
	fmt.Printf("fincue %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if profile.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", profile.DSN)
		}
	}

	fmt.Printf("Data directory: %s\n", profile.Data)
	fmt.Printf("Database driver: %s\n", profile.Driver)
	fmt.Printf("Mode: %s\n", profile.Mode)
	fmt.Printf("Routing strategy: %s\n", a.router.Strategy().Current())
	if profile.IsRemoteEnabled() {
		fmt.Printf("Remote backend: %s (%s)\n", profile.RemoteProvider, profile.RemoteModel)
	} else {
		fmt.Println("Remote backend: disabled")
	}

	if len(profile.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", profile.Port)
		fmt.Printf("API available at: http://localhost:%d/api/v1\n", profile.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", profile.Addr, profile.Port)
		fmt.Printf("API available at: http://%s:%d/api/v1\n", profile.Addr, profile.Port)
	}
}

// printDatabaseError provides user-friendly error messages for database connection issues
func printDatabaseError(err error, profile *profile.Profile) {
	if profile.Driver != "postgres" {
		return
	}
	fmt.Fprintln(os.Stderr, "\nDatabase connection failed")

	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "no such host"):
		fmt.Fprintln(os.Stderr, "  PostgreSQL is not reachable.")
		fmt.Fprintln(os.Stderr, "  Or use SQLite: FINCUE_DRIVER=sqlite, or --driver=sqlite --data=./data")

	case strings.Contains(errMsg, "SSL is not enabled") || strings.Contains(errMsg, "sslmode"):
		fmt.Fprintln(os.Stderr, "  PostgreSQL SSL configuration mismatch, add ?sslmode=disable to the DSN.")

	case strings.Contains(errMsg, "password authentication failed"):
		fmt.Fprintln(os.Stderr, "  PostgreSQL authentication failed, check the credentials in the DSN.")

	default:
		fmt.Fprintln(os.Stderr, "  Error:", errMsg)
	}
}
