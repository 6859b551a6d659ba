// Package ingest bootstraps the patent corpus from a directory of documents.
//
// Structured records come from .json/.jsonl files; free-form documents
// (text, PDF, DOCX) are run through a loader and a front-matter parser.
// Embeddings are not produced here: stored documents surface as pending
// rows that the background vectorizer workers pick up.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
)

// Document is one parsed corpus item before storage. The JSON field names
// double as the record format accepted in .json/.jsonl files.
type Document struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Abstract   string   `json:"abstract"`
	Assignee   string   `json:"assignee"`
	AssigneeID string   `json:"assignee_id"`
	Date       string   `json:"date"` // YYYY-MM-DD
	CPCCodes   []string `json:"cpc_codes"`
}

// Sink receives parsed documents. StoreAdapter binds it to the SQLite store.
type Sink interface {
	Put(ctx context.Context, doc Document) error
	PutAssignee(ctx context.Context, id, name string) error
}

// Config controls one ingest run.
type Config struct {
	Dir string

	// Glob patterns matched against file names. Empty includes means all
	// supported files.
	IncludePatterns []string
	ExcludePatterns []string

	// AbstractLimit bounds abstracts extracted from free-form documents,
	// in runes. Zero selects the default.
	AbstractLimit int

	// ValidatePDFs runs each PDF through a relaxed structural validation
	// before text extraction, so corrupt downloads fail loudly.
	ValidatePDFs bool
}

// Report summarizes one ingest run.
type Report struct {
	Files   int `json:"files"`   // files processed
	Docs    int `json:"docs"`    // documents stored
	Skipped int `json:"skipped"` // unsupported or filtered out
	Failed  int `json:"failed"`  // files that errored
}

// Pipeline walks a directory and loads every supported document into the
// sink. One instance serves one run.
type Pipeline struct {
	cfg      Config
	loader   *AutoLoader
	splitter *ExcerptSplitter
	sink     Sink
	logger   *slog.Logger

	// assignees already registered this run, so each canonical entry is
	// written once.
	seen map[string]struct{}
}

func NewPipeline(cfg Config, sink Sink, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	var pdf Loader = NewPDFLoader()
	if cfg.ValidatePDFs {
		pdf = NewPDFAdvancedLoader()
	}
	return &Pipeline{
		cfg:      cfg,
		loader:   NewAutoLoader(pdf),
		splitter: NewExcerptSplitter(cfg.AbstractLimit),
		sink:     sink,
		logger:   logger,
		seen:     make(map[string]struct{}),
	}
}

// Run walks the configured directory once. File-level failures are logged
// and counted, not fatal; the walk itself failing (or ctx ending) is.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	rep := &Report{}
	err := filepath.WalkDir(p.cfg.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != p.cfg.Dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") || !p.selected(d.Name()) {
			rep.Skipped++
			return nil
		}

		stored, err := p.processFile(ctx, path)
		if errors.Is(err, ErrUnsupported) {
			rep.Skipped++
			return nil
		}
		rep.Files++
		if err != nil {
			rep.Failed++
			p.logger.Error("could not ingest file", "path", path, "error", err)
			return nil
		}
		rep.Docs += stored
		return nil
	})
	if err != nil {
		return rep, err
	}
	p.logger.Info("ingest run complete",
		"dir", p.cfg.Dir,
		"files", rep.Files,
		"docs", rep.Docs,
		"skipped", rep.Skipped,
		"failed", rep.Failed,
	)
	return rep, nil
}

// selected applies the include whitelist and exclude blacklist to a file
// name. Patterns match the base name only.
func (p *Pipeline) selected(name string) bool {
	if len(p.cfg.IncludePatterns) > 0 {
		matched := false
		for _, pattern := range p.cfg.IncludePatterns {
			if ok, _ := filepath.Match(pattern, name); ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, pattern := range p.cfg.ExcludePatterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return false
		}
	}
	return true
}

// processFile turns one file into stored documents and returns how many.
func (p *Pipeline) processFile(ctx context.Context, path string) (int, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonl", ".ndjson":
		return p.processRecords(ctx, path)
	}

	text, err := p.loader.Load(path)
	if err != nil {
		return 0, err
	}
	doc := ParseText(text)
	doc.Abstract = p.splitter.Excerpt(doc.Abstract)
	if doc.ID == "" {
		doc.ID = docID(path)
	}
	if doc.Title == "" && doc.Abstract == "" {
		return 0, fmt.Errorf("no usable text in %s", filepath.Base(path))
	}
	if err := p.putDocument(ctx, doc); err != nil {
		return 0, err
	}
	return 1, nil
}

// processRecords loads a structured record file. Individual bad records are
// logged and skipped; a file that cannot be parsed at all fails.
func (p *Pipeline) processRecords(ctx context.Context, path string) (int, error) {
	docs, err := loadRecords(path)
	if err != nil {
		return 0, err
	}
	stored := 0
	for _, doc := range docs {
		if err := p.putDocument(ctx, doc); err != nil {
			p.logger.Warn("record rejected", "path", path, "id", doc.ID, "error", err)
			continue
		}
		stored++
	}
	return stored, nil
}

func (p *Pipeline) putDocument(ctx context.Context, doc Document) error {
	if strings.TrimSpace(doc.ID) == "" {
		return fmt.Errorf("document has no id")
	}
	if err := p.sink.Put(ctx, doc); err != nil {
		return err
	}
	if doc.AssigneeID != "" && doc.Assignee != "" {
		if _, ok := p.seen[doc.AssigneeID]; !ok {
			if err := p.sink.PutAssignee(ctx, doc.AssigneeID, doc.Assignee); err != nil {
				p.logger.Warn("could not register assignee",
					"assignee_id", doc.AssigneeID, "error", err)
			} else {
				p.seen[doc.AssigneeID] = struct{}{}
			}
		}
	}
	return nil
}

// docID derives a document id from the file name, without the extension.
func docID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
