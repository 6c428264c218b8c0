package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/classeye/attendance/internal/config"
	"github.com/classeye/attendance/internal/database"
	"github.com/classeye/attendance/internal/database/mysql"
	"github.com/classeye/attendance/internal/database/postgres"
	"github.com/classeye/attendance/internal/faceapi"
	"github.com/classeye/attendance/internal/match"
	"github.com/classeye/attendance/internal/pipeline"
	"github.com/classeye/attendance/internal/registry"
	"github.com/classeye/attendance/internal/session"
	"github.com/classeye/attendance/internal/web"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the attendance engine and its HTTP API",
	Long: `Start the attendance engine: camera capture, face matching, session
tracking and the HTTP control surface for the teacher interface.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().String("cameras", "cameras.yaml", "Path to the camera declaration file")
	serveCmd.Flags().StringSlice("courses", nil, "Courses to preload registries for at startup")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

// buildStore opens the PostgreSQL store and layers the retrying writer and
// the optional legacy MySQL mirror over its attendance writes.
func buildStore(cfg *config.Config) (database.Store, func(), error) {
	pool, err := postgres.Initialize(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	cleanup := func() { pool.Close() }
	store := postgres.NewStore(pool)

	var writer database.AttendanceWriter = store
	if cfg.Database.MySQLDSN != "" {
		mysqlPool, err := mysql.NewPool(cfg.Database.MySQLDSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to connect legacy MySQL mirror: %w", err)
		}
		prev := cleanup
		cleanup = func() { mysqlPool.Close(); prev() }
		writer = pipeline.NewMirrorWriter(writer, mysql.NewMirror(mysqlPool))
		fmt.Println("Legacy MySQL attendance mirror enabled")
	}
	writer = pipeline.NewRetryWriter(writer, cfg.Pipeline.StoreRetryMax)

	return database.WithWriter(store, writer), cleanup, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	if cfg.FaceAPI.URL == "" {
		return errors.New("FACE_API_URL environment variable is required")
	}
	if err := cfg.LoadCameras(mustGetString(cmd, "cameras")); err != nil {
		return err
	}

	fmt.Printf("Connecting to PostgreSQL database...\n")
	store, cleanup, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	faceClient := faceapi.NewClient(cfg.FaceAPI.URL, cfg.FaceAPI.Dim)
	reg := registry.New(faceClient, cfg.Match.ANNCutoff)
	matcher := match.New(cfg.Match.Threshold, cfg.Match.Epsilon)
	manager := session.NewManager(store, cfg.Session.ConfirmWindow, cfg.Session.SingleSighting)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, courseID := range mustGetStringSlice(cmd, "courses") {
		snap, err := reg.LoadCourse(ctx, store, courseID)
		if err != nil {
			return fmt.Errorf("preload registry for %s: %w", courseID, err)
		}
		fmt.Printf("Registry for %s ready: %d students, %d embeddings\n",
			courseID, snap.Students(), snap.Size())
	}

	pl := pipeline.New(faceClient, faceClient, reg, matcher, manager, store, cfg.Pipeline)
	go manager.RunSweeper(ctx, time.Second)
	go func() {
		if err := pl.Run(ctx, cfg.Cameras); err != nil {
			fmt.Printf("Pipeline stopped: %v\n", err)
			cancel()
		}
	}()

	port, host := resolveServeHostPort(cmd)
	server := web.NewServer(host, port, manager, reg, store)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting attendance engine on http://%s:%d with %d cameras\n", host, port, len(cfg.Cameras))
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
