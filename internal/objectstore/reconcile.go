package objectstore

import (
	"context"
	"fmt"

	"github.com/kilupskalvis/kvblob/internal/blobstore"
	"github.com/kilupskalvis/kvblob/internal/logger"
	"github.com/kilupskalvis/kvblob/internal/models"
)

// ReconcileResult contains the outcome of a reconciliation run.
type ReconcileResult struct {
	DryRun          bool     `json:"dry_run"`
	BlobsScanned    int      `json:"blobs_scanned"`
	RecordsScanned  int      `json:"records_scanned"`
	OrphansFound    int      `json:"orphans_found"`
	OrphansDeleted  int      `json:"orphans_deleted"`
	Orphans         []string `json:"orphans"`
	MissingBlobs    []string `json:"missing_blobs"`
	BytesReclaimed  int64    `json:"bytes_reclaimed"`
	UnreadableCount int      `json:"unreadable_records"`
}

// Reconcile removes blob files that no object record points at: the
// leftovers of overwrites with a different shard and of interrupted puts.
// Records whose blob is missing are reported but never removed; deleting
// the object clears them.
//
// It is not coordinated with concurrent puts. A put that has written its
// blob but not yet its record can lose the blob, so run it on a quiet store.
func (s *Store) Reconcile(ctx context.Context, dryRun bool) (*ReconcileResult, error) {
	log := logger.Ctx(ctx)
	result := &ReconcileResult{DryRun: dryRun, Orphans: []string{}, MissingBlobs: []string{}}

	// Collect every location referenced by an object record.
	referenced := make(map[string]bool)
	err := s.meta.Scan(ctx, "", func(metaKey string, value []byte) error {
		bucketName, key, ok := models.SplitObjectKey(metaKey)
		if !ok {
			return nil // bucket record
		}
		result.RecordsScanned++

		obj, err := models.DecodeObject(bucketName, key, value)
		if err != nil {
			result.UnreadableCount++
			log.Warn().Str("record", metaKey).Err(err).Msg("reconcile: skipping unreadable record")
			return nil
		}
		shard, err := blobstore.Shard(obj.Hash)
		if err != nil {
			result.UnreadableCount++
			return nil
		}
		referenced[shard+"/"+key] = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan object records: %w", err)
	}

	present := make(map[string]bool)
	err = s.blobs.Walk(ctx, func(shard, key string, size int64) error {
		loc := shard + "/" + key
		result.BlobsScanned++
		present[loc] = true
		if referenced[loc] {
			return nil
		}

		result.OrphansFound++
		result.Orphans = append(result.Orphans, loc)
		if dryRun {
			return nil
		}
		if err := s.blobs.Remove(ctx, shard, key); err != nil {
			log.Warn().Str("blob", loc).Err(err).Msg("reconcile: failed to delete orphan")
			return nil
		}
		result.OrphansDeleted++
		result.BytesReclaimed += size
		s.metrics.OrphanPurged()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk blobs: %w", err)
	}

	for loc := range referenced {
		if !present[loc] {
			result.MissingBlobs = append(result.MissingBlobs, loc)
		}
	}

	log.Info().
		Bool("dry_run", dryRun).
		Int("scanned", result.BlobsScanned).
		Int("records", result.RecordsScanned).
		Int("orphans", result.OrphansFound).
		Int("deleted", result.OrphansDeleted).
		Int("missing", len(result.MissingBlobs)).
		Msg("reconcile complete")

	return result, nil
}
