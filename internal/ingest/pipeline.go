package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hyperjump/ragchain/internal/loader"
	"github.com/hyperjump/ragchain/internal/models"
	"github.com/hyperjump/ragchain/internal/retrieval"
	"github.com/hyperjump/ragchain/internal/storage"
	"github.com/hyperjump/ragchain/pkg/utils"
)

// ErrPartial marks an ingest that stored the source but skipped some of its
// passages. The FileResult report lists them.
var ErrPartial = errors.New("some passages were not indexed")

// FileResult describes the ingest of one source.
type FileResult struct {
	Filepath string               `json:"filepath"`
	Skipped  bool                 `json:"skipped,omitempty"`
	Removed  int                  `json:"removed,omitempty"`
	Report   *models.IngestReport `json:"report,omitempty"`
}

// Pipeline loads sources, splits them into passages and ingests the passages.
// A source is replaced as a whole: passages of a previous version that the new
// version no longer produces are deleted.
type Pipeline struct {
	loader    *loader.Loader
	splitter  *Splitter
	retrieval retrieval.Retrieval
	store     storage.PassageStore
	logger    *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = utils.OrNop(l) }
}

// NewPipeline creates a pipeline. store must be the store behind r.
func NewPipeline(l *loader.Loader, s *Splitter, r retrieval.Retrieval, store storage.PassageStore, opts ...Option) *Pipeline {
	p := &Pipeline{loader: l, splitter: s, retrieval: r, store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Supports reports whether the pipeline accepts the file at path.
func (p *Pipeline) Supports(path string) bool {
	return p.loader.Supports(path)
}

// IngestFile ingests the file at path. An unchanged file (same size and
// modification time as its stored passages) is skipped.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (*FileResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	if !p.loader.Supports(abs) {
		return nil, fmt.Errorf("extension %q is not supported", filepath.Ext(abs))
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", abs)
	}

	existing, err := p.store.ListByFilepath(ctx, abs)
	if err != nil {
		return nil, fmt.Errorf("list passages of %s: %w", abs, err)
	}

	if unchanged(existing, loader.FileMetadata(abs, info)) {
		p.logger.Debug("Skipping unchanged file", zap.String("path", abs))
		return &FileResult{Filepath: abs, Skipped: true}, nil
	}
	doc, err := p.loader.Load(abs)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", abs, err)
	}
	return p.ingest(ctx, doc, existing)
}

// IngestDocument splits and ingests an in-memory document, replacing any
// passages previously ingested under the same filepath.
func (p *Pipeline) IngestDocument(ctx context.Context, doc *models.Document) (*FileResult, error) {
	if doc.Filepath == "" {
		return nil, fmt.Errorf("document filepath cannot be empty")
	}
	existing, err := p.store.ListByFilepath(ctx, doc.Filepath)
	if err != nil {
		return nil, fmt.Errorf("list passages of %s: %w", doc.Filepath, err)
	}
	return p.ingest(ctx, doc, existing)
}

func (p *Pipeline) ingest(ctx context.Context, doc *models.Document, existing []*models.Passage) (*FileResult, error) {
	passages := p.splitter.Split(doc)
	res := &FileResult{Filepath: doc.Filepath}

	var report *models.IngestReport
	var ingestErr error
	if len(passages) == 0 {
		p.logger.Debug("Document has no text", zap.String("path", doc.Filepath))
		report = &models.IngestReport{Indexed: []string{}}
	} else {
		report, ingestErr = p.retrieval.Ingest(ctx, passages)
		res.Report = report
		if report == nil || len(report.Indexed)+len(report.Failed) != len(passages) {
			// The batch was not written; the previous version stays in place.
			return res, fmt.Errorf("ingest %s: %w", doc.Filepath, ingestErr)
		}
	}

	indexed := make(map[string]struct{}, len(report.Indexed))
	for _, id := range report.Indexed {
		indexed[id] = struct{}{}
	}
	if len(report.Failed) > 0 {
		if err := p.relink(ctx, passages, indexed); err != nil {
			return res, fmt.Errorf("relink passages of %s: %w", doc.Filepath, err)
		}
	}

	var obsolete []string
	for _, old := range existing {
		if _, ok := indexed[old.ID]; !ok {
			obsolete = append(obsolete, old.ID)
		}
	}
	if err := p.retrieval.Delete(ctx, obsolete); err != nil {
		return res, fmt.Errorf("remove obsolete passages of %s: %w", doc.Filepath, err)
	}
	res.Removed = len(obsolete)

	if ingestErr != nil {
		return res, fmt.Errorf("ingest %s: %w: %w", doc.Filepath, ErrPartial, ingestErr)
	}
	p.logger.Debug("Ingested file",
		zap.String("path", doc.Filepath),
		zap.Int("passages", len(passages)),
		zap.Int("removed", res.Removed))
	return res, nil
}

// relink chains the indexed passages past the ones that failed and rewrites
// those whose links changed.
func (p *Pipeline) relink(ctx context.Context, passages []*models.Passage, indexed map[string]struct{}) error {
	var kept []*models.Passage
	for _, ps := range passages {
		if _, ok := indexed[ps.ID]; ok {
			kept = append(kept, ps)
		}
	}
	var changed []*models.Passage
	for i, ps := range kept {
		prev, next := "", ""
		if i > 0 {
			prev = kept[i-1].ID
		}
		if i < len(kept)-1 {
			next = kept[i+1].ID
		}
		if ps.PreviousPassageID == prev && ps.NextPassageID == next {
			continue
		}
		ps.PreviousPassageID, ps.NextPassageID = prev, next
		changed = append(changed, ps)
	}
	if len(changed) == 0 {
		return nil
	}
	return p.store.Upsert(ctx, changed)
}

// RemoveFile deletes every passage ingested from path.
func (p *Pipeline) RemoveFile(ctx context.Context, path string) (int, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	existing, err := p.store.ListByFilepath(ctx, abs)
	if err != nil {
		return 0, fmt.Errorf("list passages of %s: %w", abs, err)
	}
	if err := p.retrieval.Delete(ctx, models.PassageIDs(existing)); err != nil {
		return 0, fmt.Errorf("remove passages of %s: %w", abs, err)
	}
	p.logger.Debug("Removed file", zap.String("path", abs), zap.Int("passages", len(existing)))
	return len(existing), nil
}

// IngestDirectory ingests every supported regular file under dir, descending
// into subdirectories when recursive is set. Per-file failures are combined
// into the returned error; the walk continues past them.
func (p *Pipeline) IngestDirectory(ctx context.Context, dir string, recursive bool) ([]*FileResult, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", abs)
	}

	var results []*FileResult
	var errs error
	walkErr := filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != abs && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !p.loader.Supports(path) {
			return nil
		}
		// Stat follows symlinks so only regular targets are ingested.
		if fi, err := os.Stat(path); err != nil || !fi.Mode().IsRegular() {
			return nil
		}
		res, err := p.IngestFile(ctx, path)
		if err != nil {
			errs = multierr.Append(errs, err)
		}
		if res != nil {
			results = append(results, res)
		}
		return nil
	})
	return results, multierr.Append(errs, walkErr)
}

// unchanged reports whether existing passages were produced from the file
// version described by current.
func unchanged(existing []*models.Passage, current map[string]string) bool {
	if len(existing) == 0 {
		return false
	}
	meta := existing[0].Metadata
	return meta["size"] == current["size"] && meta["modified_at"] == current["modified_at"]
}
