// Command deepthinks-backup snapshots the Deepthinks database on a schedule,
// or performs one-off snapshot, restore and list operations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deepthinks/deepthinks/internal/backup"
	"github.com/deepthinks/deepthinks/internal/config"
)

var (
	dbPath   = flag.String("db", "", "Path to database file (overrides config)")
	dir      = flag.String("dir", "./backups", "Snapshot directory")
	interval = flag.Duration("interval", time.Hour, "Snapshot interval")
	verify   = flag.Bool("verify", true, "Verify snapshots after creation")
	oneshot  = flag.Bool("oneshot", false, "Take a single snapshot and exit")
	restore  = flag.String("restore", "", "Restore database from snapshot file and exit")
	listCmd  = flag.Bool("list", false, "List all snapshots and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db := cfg.Storage.SQLitePath
	if *dbPath != "" {
		db = *dbPath
	}

	service, err := backup.NewService(backup.Config{
		DBPath:   db,
		Dir:      *dir,
		Interval: *interval,
		Verify:   *verify,
	})
	if err != nil {
		log.Fatalf("Failed to create snapshot service: %v", err)
	}

	ctx := context.Background()

	switch {
	case *restore != "":
		handleRestore(ctx, service, *restore)
	case *listCmd:
		handleList(service)
	case *oneshot:
		handleOneshot(ctx, service)
	default:
		runSchedule(service)
	}
}

func handleRestore(ctx context.Context, service *backup.Service, path string) {
	log.Printf("Restoring database from snapshot: %s", path)
	if err := service.Restore(ctx, path); err != nil {
		log.Fatalf("Restore failed: %v", err)
	}
	log.Println("Database restored successfully")
}

func handleList(service *backup.Service) {
	snapshots, err := service.List()
	if err != nil {
		log.Fatalf("Failed to list snapshots: %v", err)
	}

	if len(snapshots) == 0 {
		fmt.Println("No snapshots found")
		return
	}

	fmt.Printf("Found %d snapshot(s):\n\n", len(snapshots))
	for i, snap := range snapshots {
		fmt.Printf("%d. %s\n", i+1, snap.Path)
		fmt.Printf("   Size: %.2f MB\n", float64(snap.Size)/(1024*1024))
		fmt.Printf("   Created: %s (%s ago)\n",
			snap.Timestamp.Format(time.RFC3339),
			time.Since(snap.Timestamp).Round(time.Minute))
		fmt.Println()
	}
}

func handleOneshot(ctx context.Context, service *backup.Service) {
	result, err := service.Snapshot(ctx)
	if err != nil {
		log.Fatalf("Snapshot failed: %v", err)
	}

	log.Printf("Snapshot completed:")
	log.Printf("  Path: %s", result.Path)
	log.Printf("  Size: %.2f MB", float64(result.Size)/(1024*1024))
	log.Printf("  Duration: %v", result.Duration)
	log.Printf("  Verified: %v", result.Verified)
}

func runSchedule(service *backup.Service) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Snapshot schedule error: %v", err)
		}
	}()

	log.Println("Deepthinks backup service started")
	log.Println("Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down backup service...")
	cancel()
}
