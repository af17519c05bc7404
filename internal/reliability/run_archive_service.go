// Package reliability keeps the run journal healthy: it copies runs to
// object storage and runs the periodic maintenance of journal.db.
package reliability

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aristath/taxoracle/internal/modules/bundle"
	"github.com/aristath/taxoracle/internal/modules/runs"
	"github.com/rs/zerolog"
)

// ObjectStore is the subset of S3Client the archive needs.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string, metadata map[string]string) error
	Download(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

const archiveSuffix = ".msgpack"

// minArchivesToKeep survive rotation regardless of age.
const minArchivesToKeep = 3

// ArchiveInfo represents one archived run.
type ArchiveInfo struct {
	RunID     string    `json:"run_id"`
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// RunArchiveService copies journaled runs to an S3-compatible bucket.
type RunArchiveService struct {
	store  ObjectStore
	prefix string
	log    zerolog.Logger
}

// NewRunArchiveService creates a new run archive service
func NewRunArchiveService(store ObjectStore, prefix string, log zerolog.Logger) *RunArchiveService {
	return &RunArchiveService{
		store:  store,
		prefix: prefix,
		log:    log.With().Str("service", "run_archive").Logger(),
	}
}

func (s *RunArchiveService) key(runID string) string {
	return s.prefix + runID + archiveSuffix
}

// ArchiveRun uploads run with both bundles, msgpack-encoded.
func (s *RunArchiveService) ArchiveRun(ctx context.Context, run runs.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	data, err := bundle.Marshal(bundle.FormatMsgpack, run)
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", run.ID, err)
	}

	sum := sha256.Sum256(data)
	metadata := map[string]string{
		"run-id":     run.ID,
		"as-of-date": run.AsOfDate.UTC().Format(time.DateOnly),
		"sha256":     hex.EncodeToString(sum[:]),
	}
	if err := s.store.Upload(ctx, s.key(run.ID), bytes.NewReader(data), bundle.ContentTypeMsgpack, metadata); err != nil {
		return err
	}

	s.log.Info().
		Str("run_id", run.ID).
		Int("size_bytes", len(data)).
		Msg("Run archived")
	return nil
}

// FetchRun downloads and decodes an archived run.
func (s *RunArchiveService) FetchRun(ctx context.Context, runID string) (*runs.Run, error) {
	data, err := s.store.Download(ctx, s.key(runID))
	if err != nil {
		return nil, err
	}
	var run runs.Run
	if err := bundle.Unmarshal(bundle.FormatMsgpack, data, &run); err != nil {
		return nil, fmt.Errorf("archived run %s: %w", runID, err)
	}
	return &run, nil
}

// ListArchives lists archived runs, newest first.
func (s *RunArchiveService) ListArchives(ctx context.Context) ([]ArchiveInfo, error) {
	objects, err := s.store.List(ctx, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}

	now := time.Now()
	archives := make([]ArchiveInfo, 0, len(objects))
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Key, archiveSuffix) {
			continue
		}
		runID := strings.TrimSuffix(strings.TrimPrefix(obj.Key, s.prefix), archiveSuffix)
		if runID == "" || strings.Contains(runID, "/") {
			s.log.Warn().Str("key", obj.Key).Msg("Skipping unrecognized archive key")
			continue
		}
		archives = append(archives, ArchiveInfo{
			RunID:     runID,
			Key:       obj.Key,
			Timestamp: obj.LastModified,
			SizeBytes: obj.Size,
			AgeHours:  int64(now.Sub(obj.LastModified).Hours()),
		})
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Timestamp.After(archives[j].Timestamp)
	})
	return archives, nil
}

// RotateOldArchives deletes archives older than retentionDays, always keeping
// the newest few. A retention of zero keeps everything.
func (s *RunArchiveService) RotateOldArchives(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	archives, err := s.ListArchives(ctx)
	if err != nil {
		return 0, err
	}
	if len(archives) <= minArchivesToKeep {
		s.log.Debug().Int("count", len(archives)).Msg("Too few archives to rotate")
		return 0, nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for _, a := range archives[minArchivesToKeep:] {
		if !a.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, a.Key); err != nil {
			s.log.Error().Err(err).Str("key", a.Key).Msg("Failed to delete old archive")
			continue
		}
		deleted++
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(archives)-deleted).
		Msg("Archive rotation completed")
	return deleted, nil
}
