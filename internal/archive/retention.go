package archive

import (
	"log"
	"sync"
	"time"
)

// RetentionCleaner deletes archived records older than the configured
// number of days. Cleanup runs once at startup and then hourly.
type RetentionCleaner struct {
	store    *Store
	days     int
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRetentionCleaner starts a cleaner for the store. Returns nil when
// days <= 0 (retention disabled).
func NewRetentionCleaner(store *Store, days int) *RetentionCleaner {
	if days <= 0 {
		return nil
	}

	rc := &RetentionCleaner{
		store: store,
		days:  days,
		done:  make(chan struct{}),
	}

	// Startup cleanup to catch up after downtime.
	rc.cleanup()

	rc.wg.Add(1)
	go rc.tickLoop()

	return rc
}

func (rc *RetentionCleaner) tickLoop() {
	defer rc.wg.Done()
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.cleanup()
		case <-rc.done:
			return
		}
	}
}

func (rc *RetentionCleaner) cleanup() {
	cutoff := time.Now().Add(-time.Duration(rc.days) * 24 * time.Hour)

	rows, err := rc.store.DeleteBefore(cutoff)
	if err != nil {
		log.Printf("archive: retention cleanup error: %v", err)
		return
	}
	if rows > 0 {
		log.Printf("archive: retention cleanup deleted %d records (older than %d days)", rows, rc.days)
	}
}

// Stop signals the cleaner to stop and waits for the loop to exit.
func (rc *RetentionCleaner) Stop() {
	rc.stopOnce.Do(func() {
		close(rc.done)
		rc.wg.Wait()
	})
}
