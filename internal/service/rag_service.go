package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/padhai/ragserver/internal/ai"
	"github.com/padhai/ragserver/internal/chunker"
	"github.com/padhai/ragserver/internal/docstore"
	"github.com/padhai/ragserver/internal/extract"
	"github.com/padhai/ragserver/internal/indexcache"
	"github.com/padhai/ragserver/internal/model"
	appErr "github.com/padhai/ragserver/internal/pkg/errors"
	"github.com/padhai/ragserver/internal/vectorindex"
)

// answerPrompt grounds the model on retrieved chunks. The "ONLY on the
// provided context" instruction is the RAG contract: without it the model
// answers from its prior knowledge and citations become meaningless.
const answerPrompt = `You are an expert AI tutor helping students understand their study materials.
Use the following context from the student's documents to answer their question accurately.

Context from documents:
%s

Student's Question: %s

Instructions:
1. Answer based ONLY on the provided context.
2. If the answer isn't in the context, say "I don't have enough information in your documents to answer this question."
3. Cite specific details from the context when possible.
4. Explain concepts clearly and break down complex topics.

Answer:`

type RAGService struct {
	store     docstore.Store
	extractor extract.Extractor
	chunker   *chunker.Chunker
	embedder  ai.IEmbedder
	generator ai.IGenerator
	cache     *indexcache.Cache
	topK      int
	batchSize int
}

func NewRAGService(
	store docstore.Store,
	extractor extract.Extractor,
	ck *chunker.Chunker,
	embedder ai.IEmbedder,
	generator ai.IGenerator,
	cache *indexcache.Cache,
	topK int,
	batchSize int,
) *RAGService {
	if topK <= 0 {
		topK = 6
	}
	if batchSize <= 0 {
		batchSize = 32
	}
	return &RAGService{
		store:     store,
		extractor: extractor,
		chunker:   ck,
		embedder:  embedder,
		generator: generator,
		cache:     cache,
		topK:      topK,
		batchSize: batchSize,
	}
}

// ListFolders returns the folder names that exist under the owner's prefix.
func (s *RAGService) ListFolders(ctx context.Context, owner string) ([]string, error) {
	infos, err := s.store.List(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list owner storage: %w", err)
	}
	folders := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.IsDir {
			folders = append(folders, info.Name)
		}
	}
	sort.Strings(folders)
	return folders, nil
}

// ListStorage is the diagnostic view of one folder's raw object listing. It
// stays owner-scoped: debug surfaces honor the same partitioning as the
// pipeline.
func (s *RAGService) ListStorage(ctx context.Context, owner, folder string) ([]docstore.ObjectInfo, error) {
	if err := validateFolder(folder); err != nil {
		return nil, err
	}
	infos, err := s.store.List(ctx, path.Join(owner, folder))
	if err != nil {
		return nil, fmt.Errorf("list folder storage: %w", err)
	}
	return infos, nil
}

// BuildIndex runs the full pipeline for one folder and replaces the cached
// index. Per-document extraction failures are skipped (partial success);
// embedding failures abort the whole build, because an index silently missing
// random chunks ranks worse than no index at all. The build goes through the
// cache's per-key flight, so an explicit rebuild and a cold query for the
// same folder share one build instead of racing two.
func (s *RAGService) BuildIndex(ctx context.Context, owner, folder string) (*model.BuildResult, error) {
	if err := validateFolder(folder); err != nil {
		return nil, err
	}
	idx, err := s.cache.Build(ctx, owner, folder, func(buildCtx context.Context) (*vectorindex.Index, error) {
		return s.build(buildCtx, owner, folder)
	})
	if err != nil {
		return nil, err
	}
	return &model.BuildResult{
		Folder:        folder,
		FilesIndexed:  idx.Documents,
		ChunksCreated: idx.Len(),
		Skipped:       idx.Skipped,
	}, nil
}

// Answer retrieves the top-k chunks for the question and asks the generator
// for a grounded answer. A cache miss triggers a synchronous build (cold
// path); concurrent cold queries for the same folder share one build.
func (s *RAGService) Answer(ctx context.Context, owner, folder, question string) (*model.AnswerResult, error) {
	if err := validateFolder(folder); err != nil {
		return nil, err
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", appErr.ErrInvalid)
	}
	logger := logutil.GetLogger(ctx).With(zap.String("owner", owner), zap.String("folder", folder))

	idx, err := s.cache.GetOrBuild(ctx, owner, folder, func(buildCtx context.Context) (*vectorindex.Index, error) {
		logger.Info("index cache miss, building")
		return s.build(buildCtx, owner, folder)
	})
	if err != nil {
		return nil, err
	}

	vectors, err := s.embedder.Embed(ctx, []string{question}, ai.TaskRetrievalQuery)
	if err != nil {
		logger.Error("question embedding failed", zap.Error(err))
		return nil, fmt.Errorf("%w: embed question: %v", appErr.ErrEmbedding, err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: expected 1 question vector, got %d", appErr.ErrEmbedding, len(vectors))
	}
	sources, err := idx.Query(ctx, vectors[0], s.topK)
	if err != nil {
		return nil, fmt.Errorf("retrieve chunks: %w", err)
	}

	prompt := fmt.Sprintf(answerPrompt, buildContext(sources), question)
	answer, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		logger.Error("answer generation failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", appErr.ErrGeneration, err)
	}
	logger.Info("answered question", zap.Int("sources", len(sources)))
	return &model.AnswerResult{
		Folder:  folder,
		Answer:  answer,
		Sources: sources,
	}, nil
}

// StorageFingerprint hashes the folder's current PDF listing. A cached index
// whose fingerprint differs was built from a different document set.
func (s *RAGService) StorageFingerprint(ctx context.Context, owner, folder string) (string, error) {
	if err := validateFolder(folder); err != nil {
		return "", err
	}
	docs, err := s.listPDFs(ctx, owner, folder)
	if err != nil {
		return "", err
	}
	return fingerprint(docs), nil
}

func (s *RAGService) build(ctx context.Context, owner, folder string) (*vectorindex.Index, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("owner", owner), zap.String("folder", folder))
	start := time.Now()

	docs, err := s.listPDFs(ctx, owner, folder)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no pdf documents in folder %q", appErr.ErrNotFound, folder)
	}

	var chunks []model.Chunk
	var skipped []string
	indexed := 0
	for _, doc := range docs {
		text, err := s.extractDocument(ctx, owner, folder, doc.Name)
		if err != nil {
			logger.Warn("document extraction failed, skipping",
				zap.String("document", doc.Name), zap.Error(err))
			skipped = append(skipped, doc.Name)
			continue
		}
		for i, window := range s.chunker.Split(text) {
			chunks = append(chunks, model.Chunk{Document: doc.Name, Position: i, Text: window})
		}
		indexed++
	}
	if indexed == 0 {
		return nil, fmt.Errorf("%w: all %d documents in folder %q are unreadable", appErr.ErrExtraction, len(docs), folder)
	}

	vectors, err := s.embedChunks(ctx, chunks)
	if err != nil {
		logger.Error("chunk embedding failed, aborting build", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", appErr.ErrEmbedding, err)
	}

	idx, err := vectorindex.Build(ctx, vectorindex.Options{
		Owner:       owner,
		Folder:      folder,
		EmbedModel:  s.embedder.ModelName(),
		Fingerprint: fingerprint(docs),
		Documents:   indexed,
		Skipped:     skipped,
	}, chunks, vectors)
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}

	logger.Info("index built",
		zap.Int("files", indexed),
		zap.Int("chunks", len(chunks)),
		zap.Strings("skipped", skipped),
		zap.Duration("duration", time.Since(start)),
	)
	return idx, nil
}

func (s *RAGService) listPDFs(ctx context.Context, owner, folder string) ([]docstore.ObjectInfo, error) {
	infos, err := s.store.List(ctx, path.Join(owner, folder))
	if err != nil {
		return nil, fmt.Errorf("list folder: %w", err)
	}
	docs := make([]docstore.ObjectInfo, 0, len(infos))
	for _, info := range infos {
		if info.IsDir || info.Name == ".placeholder" {
			continue
		}
		if !strings.EqualFold(path.Ext(info.Name), ".pdf") {
			continue
		}
		docs = append(docs, info)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

func (s *RAGService) extractDocument(ctx context.Context, owner, folder, name string) (string, error) {
	reader, err := s.store.Open(ctx, path.Join(owner, folder, name))
	if err != nil {
		return "", fmt.Errorf("open document: %w", err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	pages, err := s.extractor(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", appErr.ErrExtraction, err)
	}
	return strings.Join(pages, "\n"), nil
}

func (s *RAGService) embedChunks(ctx context.Context, chunks []model.Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += s.batchSize {
		end := start + s.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, chunk := range chunks[start:end] {
			texts = append(texts, chunk.Text)
		}
		batch, err := s.embedder.Embed(ctx, texts, ai.TaskRetrievalDocument)
		if err != nil {
			return nil, fmt.Errorf("embed batch at %d: %w", start, err)
		}
		if len(batch) != len(texts) {
			return nil, fmt.Errorf("embed batch at %d: expected %d vectors, got %d", start, len(texts), len(batch))
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// buildContext concatenates retrieved chunks in descending similarity order,
// labeled with their source document for citation.
func buildContext(sources []model.ScoredChunk) string {
	if len(sources) == 0 {
		return "(no matching material found)"
	}
	var sb strings.Builder
	for _, src := range sources {
		fmt.Fprintf(&sb, "Source: %s\n%s\n\n", src.Document, src.Text)
	}
	return strings.TrimSpace(sb.String())
}

// validateFolder rejects folder names before any storage access. Storage
// keys are always prefixed with the authenticated owner, so a separator or
// dot-dot segment is the only way to address another owner's data; that is
// an authorization failure, not a bad request.
func validateFolder(folder string) error {
	if strings.TrimSpace(folder) == "" {
		return fmt.Errorf("%w: folder name is required", appErr.ErrInvalid)
	}
	if strings.ContainsAny(folder, "/\\") || folder == ".." || strings.Contains(folder, "..") {
		return fmt.Errorf("%w: folder %q escapes owner scope", appErr.ErrForbidden, folder)
	}
	return nil
}

func fingerprint(docs []docstore.ObjectInfo) string {
	h := sha256.New()
	for _, doc := range docs {
		fmt.Fprintf(h, "%s\x00%d\n", doc.Name, doc.Size)
	}
	return hex.EncodeToString(h.Sum(nil))
}
