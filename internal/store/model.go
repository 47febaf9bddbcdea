package store

import (
	"errors"
	"fmt"
	"strings"
)

// RecordKind names a record family that carries a version_id cursor.
type RecordKind string

const (
	// RecordKindDocument is the latest materialised snapshot per document.
	RecordKindDocument RecordKind = "document"
	// RecordKindContribution is the append-only contribution history.
	RecordKindContribution RecordKind = "contribution"
)

const maxDocumentTypeLength = 1

var (
	// ErrUnknownRecordKind indicates that a cursor was requested for an unsupported record family.
	ErrUnknownRecordKind = errors.New("store: unknown record kind")
	// ErrInvalidDocumentID indicates that a document identifier is not positive.
	ErrInvalidDocumentID = errors.New("store: invalid document id")
	// ErrInvalidDocumentType indicates that a document type tag is not a single character.
	ErrInvalidDocumentType = errors.New("store: invalid document type")
	// ErrInvalidVersionID indicates that a version identifier is negative.
	ErrInvalidVersionID = errors.New("store: invalid version id")
	// ErrInvalidPattern indicates that a search pattern is not a valid regular expression.
	ErrInvalidPattern = errors.New("store: invalid search pattern")
	// ErrDocumentNotFound indicates that no document row exists for an identifier.
	ErrDocumentNotFound = errors.New("store: document not found")
)

// transientLocaleFields are locale metadata keys, never persisted as field content.
var transientLocaleFields = map[string]struct{}{
	"lang":     {},
	"version":  {},
	"topic_id": {},
}

// DocumentType is a validated single-character document kind tag.
type DocumentType string

// NewDocumentType validates raw input and returns a DocumentType.
func NewDocumentType(rawInput string) (DocumentType, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDocumentType)
	}
	if len([]rune(trimmed)) > maxDocumentTypeLength {
		return "", fmt.Errorf("%w: %q exceeds %d character", ErrInvalidDocumentType, trimmed, maxDocumentTypeLength)
	}
	return DocumentType(trimmed), nil
}

// String returns the underlying tag.
func (t DocumentType) String() string {
	return string(t)
}

// Document is the latest known snapshot row for one remote document.
type Document struct {
	DocumentID int64  `gorm:"column:document_id;primaryKey;autoIncrement:false"`
	Type       string `gorm:"column:type;size:1"`
	VersionID  int64  `gorm:"column:version_id;not null;index:idx_document_version"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "document"
}

// Locale is one named text field of one document in one language.
type Locale struct {
	DocumentID int64  `gorm:"column:document_id;primaryKey;autoIncrement:false"`
	Lang       string `gorm:"column:lang;primaryKey;size:2"`
	Field      string `gorm:"column:field;primaryKey"`
	Value      string `gorm:"column:value;type:text"`
}

// TableName provides the explicit table binding for GORM.
func (Locale) TableName() string {
	return "locale"
}

// Contribution is one immutable edit event of the remote history.
type Contribution struct {
	VersionID  int64  `gorm:"column:version_id;primaryKey;autoIncrement:false"`
	DocumentID int64  `gorm:"column:document_id;index:idx_contribution_document"`
	UserID     int64  `gorm:"column:user_id"`
	Type       string `gorm:"column:type;size:1"`
	WrittenAt  string `gorm:"column:written_at;size:32"`
}

// TableName provides the explicit table binding for GORM.
func (Contribution) TableName() string {
	return "contribution"
}

// Models lists every model owned by the store, for schema migration.
func Models() []any {
	return []any{&Document{}, &Locale{}, &Contribution{}}
}

// LocaleFields is the field map of one language of a document snapshot.
type LocaleFields struct {
	Lang   string
	Fields map[string]string
}

// DocumentSnapshot is the input of UpsertDocument. An empty Type marks an unusable snapshot.
type DocumentSnapshot struct {
	DocumentID int64
	Type       string
	VersionID  int64
	Locales    []LocaleFields
}

// DocumentKey identifies a document across the remote platform.
type DocumentKey struct {
	DocumentID int64
	Type       string
}

// SearchMatch is one locale field whose value matched a search pattern.
type SearchMatch struct {
	DocumentID int64
	Type       string
	Lang       string
	Field      string
}

// UpsertOutcome reports what UpsertDocument did.
type UpsertOutcome struct {
	Skipped    bool
	LocaleRows int
}

// persistableLocaleRows flattens snapshot locales into rows, dropping metadata keys
// and empty or whitespace-only values.
func persistableLocaleRows(documentID int64, locales []LocaleFields) []Locale {
	rows := make([]Locale, 0)
	for _, locale := range locales {
		for field, value := range locale.Fields {
			if _, transient := transientLocaleFields[field]; transient {
				continue
			}
			if strings.TrimSpace(value) == "" {
				continue
			}
			rows = append(rows, Locale{
				DocumentID: documentID,
				Lang:       locale.Lang,
				Field:      field,
				Value:      value,
			})
		}
	}
	return rows
}
