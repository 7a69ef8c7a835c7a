package backup

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	_ "modernc.org/sqlite"
)

// snapshotSQLite writes a consistent copy of the database at sourcePath to
// destPath. VACUUM INTO produces a point-in-time snapshot that is correct
// even while the source is in WAL mode with active writers.
func snapshotSQLite(ctx context.Context, sourcePath, destPath string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", sourcePath))
	if err != nil {
		return fmt.Errorf("failed to open source database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping source database: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", destPath)); err != nil {
		return fmt.Errorf("failed to snapshot database: %w", err)
	}
	return nil
}

// verifySnapshot opens the snapshot read-only and runs SQLite's own
// integrity check over it.
func verifySnapshot(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("failed to run integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// restoreSQLite copies a verified snapshot over targetPath and verifies the
// result. The target database must not be open anywhere.
func restoreSQLite(ctx context.Context, snapshotPath, targetPath string) error {
	if err := verifySnapshot(ctx, snapshotPath); err != nil {
		return fmt.Errorf("refusing to restore: %w", err)
	}

	src, err := os.Open(snapshotPath)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(targetPath)
	if err != nil {
		return fmt.Errorf("failed to create target file: %w", err)
	}
	defer func() { _ = dst.Close() }()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy snapshot: %w", err)
	}
	if err := dst.Sync(); err != nil {
		return fmt.Errorf("failed to sync target file: %w", err)
	}

	// Stale WAL/SHM sidecars belong to the replaced database; if left
	// behind, SQLite would replay the old WAL into the restored file on
	// next open.
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(targetPath + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale %s file: %w", suffix, err)
		}
	}

	return verifySnapshot(ctx, targetPath)
}
