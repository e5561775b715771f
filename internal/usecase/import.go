package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mnemo/internal/adapter/fs"
	"mnemo/internal/domain"
	"mnemo/internal/port"
)

// Metadata keys written on imported chunks.
const (
	MetaParentID  = "parentId"
	MetaChunk     = "chunk"
	MetaStartLine = "startLine"
	MetaEndLine   = "endLine"
	MetaPath      = "path"
)

// Saver stores a single memory.
type Saver interface {
	Save(ctx context.Context, req domain.SaveRequest) domain.SaveResult
}

// ProgressFunc is called after every chunk save with the running totals.
type ProgressFunc func(done, total int)

// ImportRequest describes one blob of text to import.
type ImportRequest struct {
	Text     string
	Source   string
	ParentID string // generated when empty
	Path     string
	Metadata map[string]any
}

// ImportResult summarises an import. Failures do not stop the other saves.
type ImportResult struct {
	Documents int      `json:"documents"`
	Chunks    int      `json:"chunks"`
	Saved     []string `json:"saved"`
	Failed    []string `json:"failed,omitempty"`
}

// ImportUseCase splits long text into chunk-sized memories and saves them
// with bounded concurrency.
type ImportUseCase struct {
	saver       Saver
	chunker     port.Chunker
	walker      port.FileWalker
	concurrency int
	logger      *slog.Logger
}

func NewImportUseCase(saver Saver, chunker port.Chunker, walker port.FileWalker, concurrency int, logger *slog.Logger) *ImportUseCase {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ImportUseCase{
		saver:       saver,
		chunker:     chunker,
		walker:      walker,
		concurrency: concurrency,
		logger:      logger,
	}
}

type pendingSave struct {
	label string
	req   domain.SaveRequest
}

// ImportText chunks one blob and saves every chunk.
func (u *ImportUseCase) ImportText(ctx context.Context, req ImportRequest, progress ProgressFunc) (ImportResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return ImportResult{}, fmt.Errorf("%w: nothing to import", domain.ErrInvalidInput)
	}
	if req.ParentID == "" {
		req.ParentID = uuid.NewString()
	}

	saves, err := u.plan(req)
	if err != nil {
		return ImportResult{}, err
	}
	res := ImportResult{Documents: 1, Chunks: len(saves)}
	return u.run(ctx, saves, res, progress)
}

// ImportPath imports every file the walker finds under root. Re-importing
// the same file overwrites its chunks.
func (u *ImportUseCase) ImportPath(ctx context.Context, root, source string, progress ProgressFunc) (ImportResult, error) {
	files, err := u.walker.Walk(root)
	if err != nil {
		return ImportResult{}, fmt.Errorf("walk %s: %w", root, err)
	}

	var res ImportResult
	var saves []pendingSave
	for _, f := range files {
		content, err := fs.ReadFile(f.Path)
		if err != nil {
			u.logger.Warn("skipping unreadable file", "path", f.Path, "error", err)
			res.Failed = append(res.Failed, f.Path)
			continue
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		src := source
		if src == "" {
			src = f.Path
		}
		planned, err := u.plan(ImportRequest{
			Text:     content,
			Source:   src,
			ParentID: pathID(f.Path),
			Path:     f.Path,
			Metadata: map[string]any{"modTime": time.Unix(f.ModTime, 0).UTC().Format(time.RFC3339)},
		})
		if err != nil {
			return res, err
		}
		res.Documents++
		saves = append(saves, planned...)
	}
	res.Chunks = len(saves)

	return u.run(ctx, saves, res, progress)
}

func (u *ImportUseCase) plan(req ImportRequest) ([]pendingSave, error) {
	doc := domain.Document{ID: req.ParentID, Path: req.Path}
	chunks, err := u.chunker.Chunk(doc, req.Text)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", req.ParentID, err)
	}

	saves := make([]pendingSave, 0, len(chunks))
	for i, c := range chunks {
		meta := make(map[string]any, len(req.Metadata)+5)
		for k, v := range req.Metadata {
			meta[k] = v
		}
		meta[MetaParentID] = req.ParentID
		meta[MetaChunk] = i
		meta[MetaStartLine] = c.StartLine
		meta[MetaEndLine] = c.EndLine
		if req.Path != "" {
			meta[MetaPath] = req.Path
		}

		id := fmt.Sprintf("%s#%d", req.ParentID, i)
		saves = append(saves, pendingSave{
			label: id,
			req:   domain.SaveRequest{Text: c.Text, Source: req.Source, CustomID: id, Metadata: meta},
		})
	}
	return saves, nil
}

func (u *ImportUseCase) run(ctx context.Context, saves []pendingSave, res ImportResult, progress ProgressFunc) (ImportResult, error) {
	var mu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)
	for _, s := range saves {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out := u.saver.Save(gctx, s.req)

			mu.Lock()
			defer mu.Unlock()
			if out.Success {
				res.Saved = append(res.Saved, out.RecordID)
			} else {
				u.logger.Warn("chunk save failed", "id", s.label, "kind", out.Kind, "message", out.Message)
				res.Failed = append(res.Failed, s.label)
			}
			done++
			if progress != nil {
				progress(done, len(saves))
			}
			return nil
		})
	}
	err := g.Wait()

	u.logger.Info("import finished", "documents", res.Documents, "chunks", res.Chunks, "saved", len(res.Saved), "failed", len(res.Failed))
	return res, err
}

func pathID(path string) string {
	hash := sha256.Sum256([]byte(path))
	return hex.EncodeToString(hash[:8])
}
