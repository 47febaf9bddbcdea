package syncer

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/campbot/internal/remote"
	"github.com/MarcoPoloResearchLab/campbot/internal/store"
)

const (
	DefaultBatchSize  = 1000
	DefaultOldestDate = "1990-12-25"
)

const (
	outcomeInserted  = "inserted"
	outcomeDuplicate = "duplicate"
	outcomeStillDone = "still_done"
	outcomeUnusable  = "unusable"
)

var (
	errMissingStore = errors.New("syncer: store is required")
	errMissingFeed  = errors.New("syncer: feed is required")
)

// Feed is the remote side of a synchronisation: a descending contribution
// feed and full document snapshots.
type Feed interface {
	Contributions(ctx context.Context, oldestDate string) iter.Seq2[remote.Contribution, error]
	GetDocument(ctx context.Context, documentID int64, documentType string) (remote.Document, error)
}

// Config wires a Syncer.
type Config struct {
	Store      *store.Store
	Feed       Feed
	Logger     *zap.Logger
	BatchSize  int
	OldestDate string
}

// Syncer brings the local cache up to date with the remote feed. Every run
// reads the feed from its newest entry and stops at the local cursor.
type Syncer struct {
	store      *store.Store
	feed       Feed
	logger     *zap.Logger
	batchSize  int
	oldestDate string
}

// New validates the configuration and returns a Syncer.
func New(cfg Config) (*Syncer, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Feed == nil {
		return nil, errMissingFeed
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	oldestDate := cfg.OldestDate
	if oldestDate == "" {
		oldestDate = DefaultOldestDate
	}
	return &Syncer{
		store:      cfg.Store,
		feed:       cfg.Feed,
		logger:     logger,
		batchSize:  batchSize,
		oldestDate: oldestDate,
	}, nil
}

// HistoryResult summarises a CompleteContributions run.
type HistoryResult struct {
	RunID      string
	Cursor     int64
	Inserted   int
	Duplicates int
}

// CompleteContributions appends every contribution newer than the local
// history cursor. Inserts are committed every BatchSize records; a failure
// discards only the batch in flight.
func (s *Syncer) CompleteContributions(ctx context.Context) (HistoryResult, error) {
	runID, err := newRunID()
	if err != nil {
		return HistoryResult{}, err
	}
	logger := s.logger.With(zap.String("run_id", runID), zap.String("mode", "history"))

	cursor, err := s.store.HighestVersionID(ctx, store.RecordKindContribution)
	if err != nil {
		return HistoryResult{}, fmt.Errorf("read history cursor: %w", err)
	}
	result := HistoryResult{RunID: runID, Cursor: cursor}
	logger.Info("history sync started", zap.Int64("cursor", cursor))

	batch, err := s.store.BeginContributionBatch(ctx)
	if err != nil {
		return result, err
	}
	defer func() { batch.Rollback() }()

	for contribution, err := range s.feed.Contributions(ctx, s.oldestDate) {
		if err != nil {
			return result, fmt.Errorf("read contributions: %w", err)
		}
		if contribution.VersionID <= cursor {
			break
		}

		if batch.Len() >= s.batchSize {
			if err := batch.Commit(); err != nil {
				return result, err
			}
			logger.Debug("history batch committed", zap.Int("size", s.batchSize))
			if batch, err = s.store.BeginContributionBatch(ctx); err != nil {
				return result, err
			}
		}

		inserted, err := batch.Insert(store.Contribution{
			VersionID:  contribution.VersionID,
			DocumentID: contribution.Document.DocumentID,
			UserID:     contribution.User.UserID,
			Type:       contribution.Document.Type,
			WrittenAt:  contribution.WrittenAt,
		})
		if err != nil {
			return result, err
		}

		outcome := outcomeInserted
		if inserted {
			result.Inserted++
		} else {
			outcome = outcomeDuplicate
			result.Duplicates++
		}
		logProgress(logger, contribution, outcome, zap.String("username", contribution.User.Username()))
	}

	if err := batch.Commit(); err != nil {
		return result, err
	}
	logger.Info("history sync finished",
		zap.Int("inserted", result.Inserted),
		zap.Int("duplicates", result.Duplicates))
	return result, nil
}

// SnapshotResult summarises a Complete run.
type SnapshotResult struct {
	RunID     string
	Cursor    int64
	Upserted  int
	StillDone int
	Unusable  int
}

// Complete refreshes the snapshot of every document touched since the local
// document cursor. Within one run only the first, most recent, contribution
// of each document triggers a fetch; the set of seen documents is not kept
// across runs.
func (s *Syncer) Complete(ctx context.Context) (SnapshotResult, error) {
	runID, err := newRunID()
	if err != nil {
		return SnapshotResult{}, err
	}
	logger := s.logger.With(zap.String("run_id", runID), zap.String("mode", "snapshot"))

	cursor, err := s.store.HighestVersionID(ctx, store.RecordKindDocument)
	if err != nil {
		return SnapshotResult{}, fmt.Errorf("read document cursor: %w", err)
	}
	result := SnapshotResult{RunID: runID, Cursor: cursor}
	logger.Info("snapshot sync started", zap.Int64("cursor", cursor))

	seen := make(map[store.DocumentKey]struct{})
	for contribution, err := range s.feed.Contributions(ctx, s.oldestDate) {
		if err != nil {
			return result, fmt.Errorf("read contributions: %w", err)
		}
		if contribution.VersionID <= cursor {
			break
		}

		key := store.DocumentKey{DocumentID: contribution.Document.DocumentID, Type: contribution.Document.Type}
		if _, done := seen[key]; done {
			result.StillDone++
			logProgress(logger, contribution, outcomeStillDone)
			continue
		}
		seen[key] = struct{}{}

		document, err := s.feed.GetDocument(ctx, key.DocumentID, key.Type)
		if err != nil {
			return result, fmt.Errorf("fetch document %d: %w", key.DocumentID, err)
		}
		snapshot := Snapshot(document, contribution.VersionID)
		if snapshot.DocumentID == 0 {
			// redirects of merged documents carry neither id nor type
			snapshot.DocumentID = key.DocumentID
		}
		outcome, err := s.store.UpsertDocument(ctx, snapshot)
		if err != nil {
			return result, err
		}
		if outcome.Skipped {
			result.Unusable++
			logProgress(logger, contribution, outcomeUnusable)
			continue
		}
		result.Upserted++
		logProgress(logger, contribution, outcomeInserted, zap.Int("locale_rows", outcome.LocaleRows))
	}

	logger.Info("snapshot sync finished",
		zap.Int("upserted", result.Upserted),
		zap.Int("still_done", result.StillDone),
		zap.Int("unusable", result.Unusable))
	return result, nil
}

// Snapshot converts a fetched document into the store's input, stamped with
// the version id of the contribution that led to it.
func Snapshot(document remote.Document, versionID int64) store.DocumentSnapshot {
	locales := make([]store.LocaleFields, 0, len(document.Locales))
	for _, locale := range document.Locales {
		locales = append(locales, store.LocaleFields{Lang: locale.Lang, Fields: locale.Fields})
	}
	return store.DocumentSnapshot{
		DocumentID: document.DocumentID,
		Type:       document.Type,
		VersionID:  versionID,
		Locales:    locales,
	}
}

func newRunID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}

func logProgress(logger *zap.Logger, contribution remote.Contribution, outcome string, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("written_at", contribution.WrittenAt),
		zap.Int64("document_id", contribution.Document.DocumentID),
		zap.String("document_type", contribution.Document.Type),
		zap.Int64("version_id", contribution.VersionID),
		zap.String("outcome", outcome),
	}
	logger.Info("contribution", append(attrs, fields...)...)
}
