// Package backup creates point-in-time snapshots of the Deepthinks SQLite
// database. Snapshots are plain database files written with VACUUM INTO, so
// any of them can be copied back over the live path to restore.
package backup

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Config configures a snapshot Service.
type Config struct {
	DBPath   string        // Live database file to snapshot
	Dir      string        // Directory snapshots are written to
	Interval time.Duration // Delay between scheduled snapshots (default: 1h)
	Verify   bool          // Run an integrity check on every new snapshot
	Policy   Policy        // Retention policy applied after each snapshot
}

// Result describes one completed snapshot.
type Result struct {
	Path     string
	Size     int64
	Duration time.Duration
	Verified bool
}

// Info describes a snapshot file on disk.
type Info struct {
	Path      string
	Timestamp time.Time
	Size      int64
}

// Service writes snapshots on demand or on a schedule and prunes old ones.
type Service struct {
	cfg Config

	mu      sync.Mutex
	running bool
	now     func() time.Time
}

// NewService validates the configuration and creates the snapshot directory.
func NewService(cfg Config) (*Service, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("snapshot directory is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	cfg.Policy = cfg.Policy.withDefaults()

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	return &Service{cfg: cfg, now: time.Now}, nil
}

// Run takes a snapshot every interval until ctx is cancelled. Failures are
// logged and the schedule continues.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("snapshot service is already running")
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log.Printf("[Backup] snapshot schedule started: interval=%s dir=%s", s.cfg.Interval, s.cfg.Dir)

	for {
		select {
		case <-ctx.Done():
			log.Println("[Backup] snapshot schedule stopped")
			return ctx.Err()
		case <-ticker.C:
			result, err := s.Snapshot(ctx)
			if err != nil {
				log.Printf("[Backup] scheduled snapshot failed: %v", err)
				continue
			}
			log.Printf("[Backup] snapshot written: path=%s size=%d duration=%s verified=%v",
				result.Path, result.Size, result.Duration.Round(time.Millisecond), result.Verified)
		}
	}
}

// Snapshot writes one snapshot now and applies the retention policy.
func (s *Service) Snapshot(ctx context.Context) (*Result, error) {
	start := time.Now()

	if _, err := os.Stat(s.cfg.DBPath); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}

	// Microseconds keep names unique when snapshots land in the same second.
	name := fmt.Sprintf("deepthinks-%s.db", s.now().UTC().Format("20060102-150405.000000"))
	dest := filepath.Join(s.cfg.Dir, name)

	if err := snapshotSQLite(ctx, s.cfg.DBPath, dest); err != nil {
		return nil, err
	}

	fi, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}

	result := &Result{Path: dest, Size: fi.Size(), Duration: time.Since(start)}
	if s.cfg.Verify {
		if err := verifySnapshot(ctx, dest); err != nil {
			return nil, fmt.Errorf("snapshot verification failed: %w", err)
		}
		result.Verified = true
	}

	if removed, err := s.prune(); err != nil {
		// A pruning problem never fails the snapshot that just succeeded.
		log.Printf("[Backup] retention pruning failed: %v", err)
	} else if removed > 0 {
		log.Printf("[Backup] retention removed %d old snapshots", removed)
	}

	return result, nil
}

// List returns all snapshots in the snapshot directory, newest first.
func (s *Service) List() ([]Info, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	var snapshots []Info
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		snapshots = append(snapshots, Info{
			Path:      filepath.Join(s.cfg.Dir, entry.Name()),
			Timestamp: fi.ModTime(),
			Size:      fi.Size(),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.After(snapshots[j].Timestamp)
	})
	return snapshots, nil
}

// Restore replaces the live database with the given snapshot. The schedule
// must not be running and nothing else may have the database open.
func (s *Service) Restore(ctx context.Context, snapshotPath string) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		return fmt.Errorf("cannot restore while the snapshot schedule is running")
	}

	if _, err := os.Stat(snapshotPath); err != nil {
		return fmt.Errorf("snapshot not found: %w", err)
	}

	// Keep a safety copy of the live database so a bad snapshot cannot
	// destroy it.
	safety := s.cfg.DBPath + ".pre-restore"
	haveSafety := false
	if _, err := os.Stat(s.cfg.DBPath); err == nil {
		if err := snapshotSQLite(ctx, s.cfg.DBPath, safety); err != nil {
			return fmt.Errorf("failed to create pre-restore copy: %w", err)
		}
		haveSafety = true
	}

	if err := restoreSQLite(ctx, snapshotPath, s.cfg.DBPath); err != nil {
		if haveSafety {
			if rollbackErr := restoreSQLite(ctx, safety, s.cfg.DBPath); rollbackErr != nil {
				return fmt.Errorf("restore failed and rollback failed: %v (restore error: %w)", rollbackErr, err)
			}
			return fmt.Errorf("restore failed, previous database kept: %w", err)
		}
		return err
	}
	if haveSafety {
		_ = os.Remove(safety)
	}

	log.Printf("[Backup] database restored from %s", snapshotPath)
	return nil
}

// prune removes every snapshot the retention policy does not keep.
func (s *Service) prune() (int, error) {
	snapshots, err := s.List()
	if err != nil {
		return 0, err
	}

	keep := s.cfg.Policy.survivors(snapshots)
	removed := 0
	var lastErr error
	for _, snap := range snapshots {
		if keep[snap.Path] {
			continue
		}
		if err := os.Remove(snap.Path); err != nil {
			lastErr = err
			continue
		}
		removed++
	}
	return removed, lastErr
}
