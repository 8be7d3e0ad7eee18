package service

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/padhai/ragserver/internal/ai"
	"github.com/padhai/ragserver/internal/chunker"
	"github.com/padhai/ragserver/internal/docstore"
	"github.com/padhai/ragserver/internal/indexcache"
	appErr "github.com/padhai/ragserver/internal/pkg/errors"
)

// fakeStore serves objects from a map keyed by full storage path
// ("owner/folder/name.pdf").
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	listErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) put(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
}

func (f *fakeStore) remove(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
}

func (f *fakeStore) List(ctx context.Context, dir string) ([]docstore.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	prefix := strings.TrimSuffix(dir, "/") + "/"
	seen := map[string]docstore.ObjectInfo{}
	for key, data := range f.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if name, _, nested := strings.Cut(rest, "/"); nested {
			seen[name] = docstore.ObjectInfo{Name: name, IsDir: true}
		} else {
			seen[rest] = docstore.ObjectInfo{Name: rest, Size: int64(len(data))}
		}
	}
	infos := make([]docstore.ObjectInfo, 0, len(seen))
	for _, info := range seen {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (f *fakeStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// fakeExtract treats stored bytes as plain text, one page per document, and
// fails on a corruption marker.
func fakeExtract(data []byte) ([]string, error) {
	if bytes.Contains(data, []byte("CORRUPT")) {
		return nil, fmt.Errorf("malformed document")
	}
	return []string{string(data)}, nil
}

// fakeEmbedder maps words to stable dimensions so related texts land close in
// vector space. It counts calls per task type; docDelay slows the document
// path to widen build windows.
type fakeEmbedder struct {
	docCalls   atomic.Int32
	queryCalls atomic.Int32
	failDocs   atomic.Bool
	docDelay   time.Duration
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	switch taskType {
	case ai.TaskRetrievalDocument:
		if f.failDocs.Load() {
			return nil, fmt.Errorf("embedding backend down")
		}
		f.docCalls.Add(1)
		if f.docDelay > 0 {
			time.Sleep(f.docDelay)
		}
	case ai.TaskRetrievalQuery:
		f.queryCalls.Add(1)
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, 16)
		vec[0] = 1 // shared bias keeps all similarities positive
		for _, word := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(word))
			vec[1+h.Sum32()%15]++
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (f *fakeEmbedder) ModelName() string { return "fake-embed" }

type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	answer  string
	err     error
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.prompts = append(f.prompts, prompt)
	return f.answer, nil
}

func (f *fakeGenerator) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

type testEnv struct {
	store     *fakeStore
	embedder  *fakeEmbedder
	generator *fakeGenerator
	cache     *indexcache.Cache
	svc       *RAGService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ck, err := chunker.New(80, 16)
	require.NoError(t, err)
	env := &testEnv{
		store:     newFakeStore(),
		embedder:  &fakeEmbedder{},
		generator: &fakeGenerator{answer: "The mitochondria produces ATP through cellular respiration."},
		cache:     indexcache.New(8, time.Minute),
	}
	env.svc = NewRAGService(env.store, fakeExtract, ck, env.embedder, env.generator, env.cache, 4, 2)
	return env
}

func (e *testEnv) seedBiology() {
	e.store.put("alice/biology-101/cells.pdf", []byte("The mitochondria is the powerhouse of the cell. It produces ATP through cellular respiration."))
	e.store.put("alice/biology-101/plants.pdf", []byte("Photosynthesis converts sunlight carbon dioxide and water into glucose and oxygen."))
}

func TestListFolders(t *testing.T) {
	env := newTestEnv(t)
	env.seedBiology()
	env.store.put("alice/chemistry/acids.pdf", []byte("Acids donate protons."))
	env.store.put("bob/history/rome.pdf", []byte("Rome fell in 476."))

	folders, err := env.svc.ListFolders(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"biology-101", "chemistry"}, folders)

	folders, err = env.svc.ListFolders(context.Background(), "carol")
	require.NoError(t, err)
	assert.Empty(t, folders)
}

func TestListFolders_PropagatesStoreError(t *testing.T) {
	env := newTestEnv(t)
	env.store.listErr = fmt.Errorf("bucket unreachable")

	_, err := env.svc.ListFolders(context.Background(), "alice")
	require.Error(t, err)
}

func TestBuildIndex(t *testing.T) {
	env := newTestEnv(t)
	env.seedBiology()

	result, err := env.svc.BuildIndex(context.Background(), "alice", "biology-101")
	require.NoError(t, err)
	assert.Equal(t, "biology-101", result.Folder)
	assert.Equal(t, 2, result.FilesIndexed)
	assert.Greater(t, result.ChunksCreated, 0)
	assert.Empty(t, result.Skipped)

	idx, ok := env.cache.Get("alice", "biology-101")
	require.True(t, ok)
	assert.Equal(t, "fake-embed", idx.EmbedModel)
	assert.Equal(t, result.ChunksCreated, idx.Len())
}

func TestBuildIndex_EmptyFolderNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.BuildIndex(context.Background(), "alice", "biology-101")
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestBuildIndex_SkipsNonPDFAndPlaceholder(t *testing.T) {
	env := newTestEnv(t)
	env.seedBiology()
	env.store.put("alice/biology-101/.placeholder", []byte(""))
	env.store.put("alice/biology-101/notes.txt", []byte("not indexed"))

	result, err := env.svc.BuildIndex(context.Background(), "alice", "biology-101")
	require.NoError(t, err)
	assert.Equal(t, 2, result.FilesIndexed)
}

func TestBuildIndex_PartialFailureSkips(t *testing.T) {
	env := newTestEnv(t)
	env.seedBiology()
	env.store.put("alice/biology-101/broken.pdf", []byte("CORRUPT"))

	result, err := env.svc.BuildIndex(context.Background(), "alice", "biology-101")
	require.NoError(t, err)
	assert.Equal(t, 2, result.FilesIndexed)
	assert.Equal(t, []string{"broken.pdf"}, result.Skipped)
}

func TestBuildIndex_AllUnreadable(t *testing.T) {
	env := newTestEnv(t)
	env.store.put("alice/biology-101/a.pdf", []byte("CORRUPT"))
	env.store.put("alice/biology-101/b.pdf", []byte("CORRUPT"))

	_, err := env.svc.BuildIndex(context.Background(), "alice", "biology-101")
	require.ErrorIs(t, err, appErr.ErrExtraction)
}

func TestBuildIndex_EmbeddingFailureAborts(t *testing.T) {
	env := newTestEnv(t)
	env.seedBiology()
	env.embedder.failDocs.Store(true)

	_, err := env.svc.BuildIndex(context.Background(), "alice", "biology-101")
	require.ErrorIs(t, err, appErr.ErrEmbedding)
	_, ok := env.cache.Get("alice", "biology-101")
	assert.False(t, ok)
}

func TestFolderValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.BuildIndex(ctx, "alice", "")
	require.ErrorIs(t, err, appErr.ErrInvalid)
	_, err = env.svc.BuildIndex(ctx, "alice", "   ")
	require.ErrorIs(t, err, appErr.ErrInvalid)

	for _, folder := range []string{"bob/notes", `bob\notes`, "..", "../bob", "a/../b"} {
		_, err = env.svc.BuildIndex(ctx, "alice", folder)
		require.ErrorIs(t, err, appErr.ErrForbidden, "folder %q", folder)
		_, err = env.svc.Answer(ctx, "alice", folder, "question")
		require.ErrorIs(t, err, appErr.ErrForbidden, "folder %q", folder)
		_, err = env.svc.ListStorage(ctx, "alice", folder)
		require.ErrorIs(t, err, appErr.ErrForbidden, "folder %q", folder)
	}
}

func TestAnswer(t *testing.T) {
	env := newTestEnv(t)
	env.seedBiology()

	result, err := env.svc.Answer(context.Background(), "alice", "biology-101", "What does the mitochondria do?")
	require.NoError(t, err)
	assert.Equal(t, "biology-101", result.Folder)
	assert.Equal(t, env.generator.answer, result.Answer)
	require.NotEmpty(t, result.Sources)

	// retrieval should surface the mitochondria chunk over the plants one
	assert.Contains(t, result.Sources[0].Text, "mitochondria")
	assert.Equal(t, "cells.pdf", result.Sources[0].Document)

	prompt := env.generator.lastPrompt()
	assert.Contains(t, prompt, "What does the mitochondria do?")
	assert.Contains(t, prompt, "mitochondria is the powerhouse")
	assert.Contains(t, prompt, "Source: cells.pdf")
	assert.Contains(t, prompt, "ONLY on the provided context")
}

func TestAnswer_EmptyQuestion(t *testing.T) {
	env := newTestEnv(t)
	env.seedBiology()

	_, err := env.svc.Answer(context.Background(), "alice", "biology-101", "   ")
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestAnswer_MissingFolder(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Answer(context.Background(), "alice", "no-such-folder", "question")
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestAnswer_GenerationFailure(t *testing.T) {
	env := newTestEnv(t)
	env.seedBiology()
	env.generator.err = fmt.Errorf("model overloaded")

	_, err := env.svc.Answer(context.Background(), "alice", "biology-101", "question")
	require.ErrorIs(t, err, appErr.ErrGeneration)
}

func TestAnswer_ReusesCachedIndex(t *testing.T) {
	env := newTestEnv(t)
	env.seedBiology()
	ctx := context.Background()

	_, err := env.svc.Answer(ctx, "alice", "biology-101", "first question?")
	require.NoError(t, err)
	buildsAfterFirst := env.embedder.docCalls.Load()
	require.Greater(t, buildsAfterFirst, int32(0))

	_, err = env.svc.Answer(ctx, "alice", "biology-101", "second question?")
	require.NoError(t, err)
	assert.Equal(t, buildsAfterFirst, env.embedder.docCalls.Load(), "second answer must not rebuild")
	assert.Equal(t, int32(2), env.embedder.queryCalls.Load())
}

func TestAnswer_ConcurrentColdQueriesShareOneBuild(t *testing.T) {
	env := newTestEnv(t)
	env.seedBiology()

	const callers = 6
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Answer(context.Background(), "alice", "biology-101", "What is photosynthesis?")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// chunks embed in batches of 2; with 2 short docs one build is at most a
	// few doc-task calls, while N independent builds would multiply them
	assert.Equal(t, buildDocCalls(t, env), env.embedder.docCalls.Load())
	assert.Equal(t, int32(callers), env.embedder.queryCalls.Load())
}

func TestBuildIndexAndColdAnswerShareOneBuild(t *testing.T) {
	env := newTestEnv(t)
	env.seedBiology()
	perBuild := buildDocCalls(t, env)

	env.embedder.docDelay = 100 * time.Millisecond
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		result, err := env.svc.BuildIndex(context.Background(), "alice", "biology-101")
		assert.NoError(t, err)
		assert.Equal(t, 2, result.FilesIndexed)
	}()
	go func() {
		defer wg.Done()
		// arrive while the explicit build is mid-embedding
		time.Sleep(30 * time.Millisecond)
		result, err := env.svc.Answer(context.Background(), "alice", "biology-101", "What is photosynthesis?")
		assert.NoError(t, err)
		assert.NotEmpty(t, result.Sources)
	}()
	wg.Wait()

	assert.Equal(t, perBuild, env.embedder.docCalls.Load(),
		"a query overlapping an explicit build must wait for it, not rebuild")
}

// buildDocCalls measures how many doc-task embed calls one build of the
// seeded folder costs, using an identical fresh environment.
func buildDocCalls(t *testing.T, ref *testEnv) int32 {
	t.Helper()
	probe := newTestEnv(t)
	probe.store.mu.Lock()
	ref.store.mu.Lock()
	for key, data := range ref.store.objects {
		probe.store.objects[key] = data
	}
	ref.store.mu.Unlock()
	probe.store.mu.Unlock()

	_, err := probe.svc.BuildIndex(context.Background(), "alice", "biology-101")
	require.NoError(t, err)
	return probe.embedder.docCalls.Load()
}

func TestListStorage(t *testing.T) {
	env := newTestEnv(t)
	env.seedBiology()
	env.store.put("bob/biology-101/secret.pdf", []byte("bob's notes"))

	infos, err := env.svc.ListStorage(context.Background(), "alice", "biology-101")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "cells.pdf", infos[0].Name)
	assert.Equal(t, "plants.pdf", infos[1].Name)
}

func TestStorageFingerprint_TracksDocumentSet(t *testing.T) {
	env := newTestEnv(t)
	env.seedBiology()
	ctx := context.Background()

	before, err := env.svc.StorageFingerprint(ctx, "alice", "biology-101")
	require.NoError(t, err)

	same, err := env.svc.StorageFingerprint(ctx, "alice", "biology-101")
	require.NoError(t, err)
	assert.Equal(t, before, same)

	env.store.put("alice/biology-101/genetics.pdf", []byte("DNA carries hereditary information."))
	after, err := env.svc.StorageFingerprint(ctx, "alice", "biology-101")
	require.NoError(t, err)
	assert.NotEqual(t, before, after)

	env.store.remove("alice/biology-101/genetics.pdf")
	restored, err := env.svc.StorageFingerprint(ctx, "alice", "biology-101")
	require.NoError(t, err)
	assert.Equal(t, before, restored)
}
