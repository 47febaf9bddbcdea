package fixer

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/campbot/internal/remote"
	"github.com/MarcoPoloResearchLab/campbot/internal/rewrite"
	"github.com/MarcoPoloResearchLab/campbot/internal/store"
)

var (
	errMissingClient    = errors.New("fixer: client is required")
	errMissingProcessor = errors.New("fixer: processor is required")
)

// Client fetches documents and pushes corrected versions back.
type Client interface {
	GetDocument(ctx context.Context, documentID int64, documentType string) (remote.Document, error)
	SaveDocument(ctx context.Context, document remote.Document, message string) error
}

// Processor rewrites one markdown field.
type Processor interface {
	AppliesTo(lang string) bool
	Process(markdown string) rewrite.Result
}

// FieldChange describes one field modified by the processor.
type FieldChange struct {
	Key    store.DocumentKey
	Lang   string
	Field  string
	Result rewrite.Result
}

// Config wires a Fixer.
type Config struct {
	Client    Client
	Processor Processor
	Comment   string
	DryRun    bool
	Logger    *zap.Logger
	// OnChange, when set, receives every modified field before the document is saved.
	OnChange func(FieldChange)
}

// Fixer re-fetches listed documents, runs the processor over their text
// fields and saves the documents that changed.
type Fixer struct {
	client    Client
	processor Processor
	comment   string
	dryRun    bool
	logger    *zap.Logger
	onChange  func(FieldChange)
}

// New validates the configuration and returns a Fixer.
func New(cfg Config) (*Fixer, error) {
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	if cfg.Processor == nil {
		return nil, errMissingProcessor
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	onChange := cfg.OnChange
	if onChange == nil {
		onChange = func(FieldChange) {}
	}
	return &Fixer{
		client:    cfg.Client,
		processor: cfg.Processor,
		comment:   cfg.Comment,
		dryRun:    cfg.DryRun,
		logger:    logger,
		onChange:  onChange,
	}, nil
}

// Summary counts what a Run did.
type Summary struct {
	Processed int
	Unchanged int
	Changed   int
	Saved     int
	Failed    int
}

// Run processes every key in order. A document that cannot be fetched or
// saved is logged and counted; only context cancellation stops the run.
func (f *Fixer) Run(ctx context.Context, keys []store.DocumentKey) (Summary, error) {
	var summary Summary
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Processed++

		document, err := f.client.GetDocument(ctx, key.DocumentID, key.Type)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return summary, ctxErr
			}
			f.logError(key, "fetch_failed", err)
			summary.Failed++
			continue
		}

		if !f.apply(key, &document) {
			summary.Unchanged++
			continue
		}
		summary.Changed++
		if f.dryRun {
			f.logger.Info("dry run, document not saved", zap.Int64("document_id", key.DocumentID), zap.String("document_type", key.Type))
			continue
		}

		if err := f.client.SaveDocument(ctx, document, f.comment); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return summary, ctxErr
			}
			f.logError(key, "save_failed", err)
			summary.Failed++
			continue
		}
		summary.Saved++
		f.logger.Info("document saved", zap.Int64("document_id", key.DocumentID), zap.String("document_type", key.Type))
	}
	return summary, nil
}

func (f *Fixer) apply(key store.DocumentKey, document *remote.Document) bool {
	changed := false
	for index := range document.Locales {
		locale := &document.Locales[index]
		if !f.processor.AppliesTo(locale.Lang) {
			continue
		}
		for _, field := range locale.FieldNames() {
			result := f.processor.Process(locale.Fields[field])
			if !result.Changed() {
				continue
			}
			locale.Fields[field] = result.Output
			changed = true
			f.onChange(FieldChange{Key: key, Lang: locale.Lang, Field: field, Result: result})
		}
	}
	return changed
}

func (f *Fixer) logError(key store.DocumentKey, reason string, err error) {
	f.logger.Error("fixer error",
		zap.String("operation", "fixer.run"),
		zap.String("reason", reason),
		zap.Error(err),
		zap.Int64("document_id", key.DocumentID),
		zap.String("document_type", key.Type))
}
