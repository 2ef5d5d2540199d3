package assistant

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"
)

const DefaultLeftoverCleanupInterval = time.Hour

// leftoverMinAge keeps the sweeper away from uploads still in flight.
const leftoverMinAge = 10 * time.Minute

// StartLeftoverCleaner periodically removes files under baseDir that no
// document row references anymore. Migration deletes the local copy
// itself, but a failed delete leaves the file behind; this sweep picks
// those up.
func (s *Service) StartLeftoverCleaner(ctx context.Context, baseDir string, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultLeftoverCleanupInterval
	}
	go s.cleanupLoop(ctx, baseDir, interval)
}

func (s *Service) cleanupLoop(ctx context.Context, baseDir string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.cleanupLeftovers(ctx, baseDir); err != nil {
				log.Printf("cleanup leftover files error: %v", err)
			}
		}
	}
}

func (s *Service) cleanupLeftovers(ctx context.Context, baseDir string) error {
	cutoff := time.Now().Add(-leftoverMinAge)
	return filepath.Walk(baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		var referenced bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM documents WHERE stored_path = ?)`, path,
		).Scan(&referenced); err != nil {
			return err
		}
		if referenced {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("remove leftover file %s failed: %v", path, err)
			return nil
		}
		// prune empty directories
		_ = os.Remove(filepath.Dir(path))
		return nil
	})
}
