package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errBatchClosed     = errors.New("contribution batch already closed")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries a dotted operation.reason code and the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opStoreNew           = "store.new"
	opUpsertDocument     = "store.upsert_document"
	opInsertContribution = "store.insert_contribution"
	opBatchCommit        = "store.contribution_batch.commit"
	opHighestVersionID   = "store.highest_version_id"
	opSearch             = "store.search"
	opAllDocumentIDs     = "store.all_document_ids"
	opAllContributionIDs = "store.all_contribution_version_ids"
	opGetDocument        = "store.get_document"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Config wires a Store.
type Config struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Store is the local cache of documents, locale fields and contributions.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore validates the configuration and returns a Store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: cfg.Database, logger: logger}, nil
}

// UpsertDocument replaces the document row and every locale row of the snapshot
// in a single transaction. A snapshot without a type is skipped and reported as such.
func (s *Store) UpsertDocument(ctx context.Context, snapshot DocumentSnapshot) (UpsertOutcome, error) {
	if strings.TrimSpace(snapshot.Type) == "" {
		s.logger.Info("skipping document without type",
			zap.Int64("document_id", snapshot.DocumentID),
			zap.Int64("version_id", snapshot.VersionID))
		return UpsertOutcome{Skipped: true}, nil
	}
	if snapshot.DocumentID <= 0 {
		err := fmt.Errorf("%w: %d", ErrInvalidDocumentID, snapshot.DocumentID)
		s.logError(opUpsertDocument, "invalid_document_id", err)
		return UpsertOutcome{}, newServiceError(opUpsertDocument, "invalid_document_id", err)
	}
	documentType, err := NewDocumentType(snapshot.Type)
	if err != nil {
		s.logError(opUpsertDocument, "invalid_document_type", err, zap.Int64("document_id", snapshot.DocumentID))
		return UpsertOutcome{}, newServiceError(opUpsertDocument, "invalid_document_type", err)
	}
	if snapshot.VersionID < 0 {
		err := fmt.Errorf("%w: %d", ErrInvalidVersionID, snapshot.VersionID)
		s.logError(opUpsertDocument, "invalid_version_id", err, zap.Int64("document_id", snapshot.DocumentID))
		return UpsertOutcome{}, newServiceError(opUpsertDocument, "invalid_version_id", err)
	}

	rows := persistableLocaleRows(snapshot.DocumentID, snapshot.Locales)
	document := Document{
		DocumentID: snapshot.DocumentID,
		Type:       documentType.String(),
		VersionID:  snapshot.VersionID,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", document.DocumentID).Delete(&Locale{}).Error; err != nil {
			s.logError(opUpsertDocument, "locale_delete_failed", err, zap.Int64("document_id", document.DocumentID))
			return newServiceError(opUpsertDocument, "locale_delete_failed", err)
		}
		if err := tx.Where("document_id = ?", document.DocumentID).Delete(&Document{}).Error; err != nil {
			s.logError(opUpsertDocument, "document_delete_failed", err, zap.Int64("document_id", document.DocumentID))
			return newServiceError(opUpsertDocument, "document_delete_failed", err)
		}
		if err := tx.Create(&document).Error; err != nil {
			s.logError(opUpsertDocument, "document_insert_failed", err, zap.Int64("document_id", document.DocumentID))
			return newServiceError(opUpsertDocument, "document_insert_failed", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.Create(&rows).Error; err != nil {
			s.logError(opUpsertDocument, "locale_insert_failed", err, zap.Int64("document_id", document.DocumentID))
			return newServiceError(opUpsertDocument, "locale_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return UpsertOutcome{}, txErr
	}
	return UpsertOutcome{LocaleRows: len(rows)}, nil
}

// InsertContribution records one contribution and commits. A version id that is
// already present is left untouched and reported with inserted == false.
func (s *Store) InsertContribution(ctx context.Context, contribution Contribution) (bool, error) {
	return insertContribution(s.db.WithContext(ctx), contribution, s.logError)
}

func insertContribution(db *gorm.DB, contribution Contribution, logError func(string, string, error, ...zap.Field)) (bool, error) {
	if contribution.VersionID <= 0 {
		err := fmt.Errorf("%w: %d", ErrInvalidVersionID, contribution.VersionID)
		logError(opInsertContribution, "invalid_version_id", err)
		return false, newServiceError(opInsertContribution, "invalid_version_id", err)
	}
	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&contribution)
	if result.Error != nil {
		logError(opInsertContribution, "insert_failed", result.Error, zap.Int64("version_id", contribution.VersionID))
		return false, newServiceError(opInsertContribution, "insert_failed", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ContributionBatch groups contribution inserts into one transaction.
type ContributionBatch struct {
	tx     *gorm.DB
	store  *Store
	size   int
	closed bool
}

// BeginContributionBatch opens a transaction for bulk contribution inserts.
// The caller must Commit or Rollback it.
func (s *Store) BeginContributionBatch(ctx context.Context) (*ContributionBatch, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		s.logError(opBatchCommit, "begin_failed", tx.Error)
		return nil, newServiceError(opBatchCommit, "begin_failed", tx.Error)
	}
	return &ContributionBatch{tx: tx, store: s}, nil
}

// Insert adds a contribution to the open batch.
func (b *ContributionBatch) Insert(contribution Contribution) (bool, error) {
	if b.closed {
		return false, newServiceError(opInsertContribution, "batch_closed", errBatchClosed)
	}
	inserted, err := insertContribution(b.tx, contribution, b.store.logError)
	if err == nil {
		b.size++
	}
	return inserted, err
}

// Len reports how many contributions were inserted since the batch began.
func (b *ContributionBatch) Len() int {
	if b == nil {
		return 0
	}
	return b.size
}

// Commit makes the batch durable.
func (b *ContributionBatch) Commit() error {
	if b.closed {
		return newServiceError(opBatchCommit, "batch_closed", errBatchClosed)
	}
	b.closed = true
	if err := b.tx.Commit().Error; err != nil {
		b.store.logError(opBatchCommit, "commit_failed", err, zap.Int("size", b.size))
		return newServiceError(opBatchCommit, "commit_failed", err)
	}
	return nil
}

// Rollback discards the batch. Calling it after Commit, or on a nil batch, is a no-op.
func (b *ContributionBatch) Rollback() {
	if b == nil || b.closed {
		return
	}
	b.closed = true
	b.tx.Rollback()
}

// HighestVersionID returns the largest version id stored for kind, or 0 when none is.
func (s *Store) HighestVersionID(ctx context.Context, kind RecordKind) (int64, error) {
	var model any
	switch kind {
	case RecordKindDocument:
		model = &Document{}
	case RecordKindContribution:
		model = &Contribution{}
	default:
		err := fmt.Errorf("%w: %q", ErrUnknownRecordKind, kind)
		s.logError(opHighestVersionID, "unknown_record_kind", err)
		return 0, newServiceError(opHighestVersionID, "unknown_record_kind", err)
	}

	var highest int64
	row := s.db.WithContext(ctx).Model(model).Select("COALESCE(MAX(version_id), 0)").Row()
	if err := row.Scan(&highest); err != nil {
		s.logError(opHighestVersionID, "query_failed", err, zap.String("record_kind", string(kind)))
		return 0, newServiceError(opHighestVersionID, "query_failed", err)
	}
	return highest, nil
}

// SearchOptions tunes Search.
type SearchOptions struct {
	IgnoreCase bool
}

// Search returns every locale field whose value matches pattern, ordered by
// document, language and field.
func (s *Store) Search(ctx context.Context, pattern string, opts SearchOptions) ([]SearchMatch, error) {
	if opts.IgnoreCase {
		pattern = "(?i)" + pattern
	}
	if _, err := regexp.Compile(pattern); err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrInvalidPattern, err)
		s.logError(opSearch, "invalid_pattern", wrapped)
		return nil, newServiceError(opSearch, "invalid_pattern", wrapped)
	}

	matches := make([]SearchMatch, 0)
	err := s.db.WithContext(ctx).
		Table("locale AS l").
		Select("l.document_id AS document_id, COALESCE(d.type, '') AS type, l.lang AS lang, l.field AS field").
		Joins("LEFT JOIN document AS d ON d.document_id = l.document_id").
		Where("l.value REGEXP ?", pattern).
		Order("l.document_id, l.lang, l.field").
		Scan(&matches).Error
	if err != nil {
		s.logError(opSearch, "query_failed", err, zap.String("pattern", pattern))
		return nil, newServiceError(opSearch, "query_failed", err)
	}
	return matches, nil
}

// AllDocumentIDs lists every cached document key in ascending id order.
func (s *Store) AllDocumentIDs(ctx context.Context) ([]DocumentKey, error) {
	keys := make([]DocumentKey, 0)
	err := s.db.WithContext(ctx).
		Model(&Document{}).
		Select("document_id, type").
		Order("document_id").
		Scan(&keys).Error
	if err != nil {
		s.logError(opAllDocumentIDs, "query_failed", err)
		return nil, newServiceError(opAllDocumentIDs, "query_failed", err)
	}
	return keys, nil
}

// AllContributionVersionIDs lists every stored contribution version id, newest first.
func (s *Store) AllContributionVersionIDs(ctx context.Context) ([]int64, error) {
	versionIDs := make([]int64, 0)
	err := s.db.WithContext(ctx).
		Model(&Contribution{}).
		Order("version_id DESC").
		Pluck("version_id", &versionIDs).Error
	if err != nil {
		s.logError(opAllContributionIDs, "query_failed", err)
		return nil, newServiceError(opAllContributionIDs, "query_failed", err)
	}
	return versionIDs, nil
}

// StoredDocument is a cached document with its locale rows.
type StoredDocument struct {
	Document Document
	Locales  []Locale
}

// GetDocument loads one cached document and its locale fields.
func (s *Store) GetDocument(ctx context.Context, documentID int64) (StoredDocument, error) {
	var document Document
	err := s.db.WithContext(ctx).Where("document_id = ?", documentID).Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return StoredDocument{}, fmt.Errorf("%w: %d", ErrDocumentNotFound, documentID)
	}
	if err != nil {
		s.logError(opGetDocument, "document_select_failed", err, zap.Int64("document_id", documentID))
		return StoredDocument{}, newServiceError(opGetDocument, "document_select_failed", err)
	}

	locales := make([]Locale, 0)
	if err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("lang, field").
		Find(&locales).Error; err != nil {
		s.logError(opGetDocument, "locale_select_failed", err, zap.Int64("document_id", documentID))
		return StoredDocument{}, newServiceError(opGetDocument, "locale_select_failed", err)
	}
	return StoredDocument{Document: document, Locales: locales}, nil
}

func (s *Store) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("store error", attrs...)
}
