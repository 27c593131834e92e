package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"chromamcp/internal/adapter/fs"
	"chromamcp/internal/domain"
	"chromamcp/internal/port"
)

const (
	addDocumentsTool      = "chroma_add_documents"
	smartAddDocumentsTool = "chroma_smart_add_documents"

	defaultBatchSize = 50
	readConcurrency  = 8
)

// ToolCaller invokes a tool on a remote server and decodes its JSON result.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args, out any) error
}

// IngestUseCase sends a directory tree to a running server as documents.
type IngestUseCase struct {
	walker    port.FileWalker
	reader    port.FileReader
	caller    ToolCaller
	batchSize int
	logger    *slog.Logger
}

func NewIngestUseCase(walker port.FileWalker, reader port.FileReader, caller ToolCaller, batchSize int, logger *slog.Logger) *IngestUseCase {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestUseCase{
		walker:    walker,
		reader:    reader,
		caller:    caller,
		batchSize: batchSize,
		logger:    logger,
	}
}

// IngestOptions selects the target. Exactly one of Collection or Smart is set.
type IngestOptions struct {
	Collection string
	Smart      bool
	// OnStart receives the number of files found before any is sent.
	OnStart func(total int)
	// OnProgress is called after each batch with the number of files handled.
	OnProgress func(n int)
}

// IngestResult summarizes an ingest run.
type IngestResult struct {
	FilesFound   int
	FilesSkipped int
	FilesSent    int
	Stored       int
	Batches      int
	Errors       []string
}

func (u *IngestUseCase) Ingest(ctx context.Context, root string, opts IngestOptions) (*IngestResult, error) {
	if opts.Smart == (opts.Collection != "") {
		return nil, errors.New("exactly one of a target collection or smart mode is required")
	}

	files, err := u.walker.Walk(root)
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	result := &IngestResult{FilesFound: len(files)}
	if opts.OnStart != nil {
		opts.OnStart(len(files))
	}

	for start := 0; start < len(files); start += u.batchSize {
		end := min(start+u.batchSize, len(files))
		batch := files[start:end]

		docs, skipped, err := u.readBatch(ctx, batch)
		if err != nil {
			return result, err
		}
		result.FilesSkipped += len(skipped)
		for _, s := range skipped {
			u.logger.Debug("skipping file", "path", s)
		}

		if len(docs) > 0 {
			stored, err := u.send(ctx, docs, opts)
			result.Batches++
			if err != nil {
				if ctx.Err() != nil {
					return result, ctx.Err()
				}
				result.Errors = append(result.Errors, fmt.Sprintf("batch %d: %v", result.Batches, err))
				u.logger.Warn("batch failed", "batch", result.Batches, "error", err)
			} else {
				result.FilesSent += len(docs)
				result.Stored += stored
			}
		}

		if opts.OnProgress != nil {
			opts.OnProgress(len(batch))
		}
	}

	u.logger.Info("ingest finished",
		"found", result.FilesFound,
		"sent", result.FilesSent,
		"stored", result.Stored,
		"skipped", result.FilesSkipped,
	)
	return result, nil
}

// readBatch reads files concurrently, preserving walk order. Unreadable or
// empty files are reported as skipped rather than failing the run.
func (u *IngestUseCase) readBatch(ctx context.Context, batch []port.FileInfo) ([]domain.IngestFile, []string, error) {
	docs := make([]*domain.IngestFile, len(batch))

	var mu sync.Mutex
	var skipped []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for i, f := range batch {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			content, err := u.reader.ReadFile(f.Path)
			if err != nil || strings.TrimSpace(content) == "" {
				if err != nil && !errors.Is(err, fs.ErrNotText) {
					u.logger.Warn("failed to read file", "path", f.Path, "error", err)
				}
				mu.Lock()
				skipped = append(skipped, f.RelPath)
				mu.Unlock()
				return nil
			}
			docs[i] = &domain.IngestFile{
				Path:    f.Path,
				RelPath: f.RelPath,
				Content: content,
				ModTime: time.Unix(f.ModTime, 0).UTC(),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	out := make([]domain.IngestFile, 0, len(docs))
	for _, d := range docs {
		if d != nil {
			out = append(out, *d)
		}
	}
	return out, skipped, nil
}

func (u *IngestUseCase) send(ctx context.Context, docs []domain.IngestFile, opts IngestOptions) (int, error) {
	ids := make([]string, len(docs))
	contents := make([]string, len(docs))
	metadatas := make([]domain.Metadata, len(docs))
	titles := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.RelPath
		contents[i] = d.Content
		titles[i] = strings.TrimSuffix(path.Base(d.RelPath), path.Ext(d.RelPath))
		metadatas[i] = domain.Metadata{
			"source":   d.RelPath,
			"modified": d.ModTime.Format(time.RFC3339),
		}
	}

	if !opts.Smart {
		args := map[string]any{
			"collection_name": opts.Collection,
			"documents":       contents,
			"ids":             ids,
			"metadatas":       metadatas,
		}
		if err := u.caller.CallTool(ctx, addDocumentsTool, args, nil); err != nil {
			return 0, err
		}
		return len(docs), nil
	}

	args := map[string]any{
		"documents": contents,
		"ids":       ids,
		"metadatas": metadatas,
		"titles":    titles,
	}
	var resp domain.SmartAddResponse
	if err := u.caller.CallTool(ctx, smartAddDocumentsTool, args, &resp); err != nil {
		return 0, err
	}
	stored := 0
	for _, r := range resp.Results {
		if r.Success {
			stored++
			continue
		}
		u.logger.Info("document not stored", "id", r.DocumentID, "reason", r.Error)
	}
	return stored, nil
}
