package model

// Chunk is the retrieval unit: one window of extracted text from one stored
// document. Chunks are derived data, regenerated on every index build.
type Chunk struct {
	Document string `json:"document"`
	Position int    `json:"position"`
	Text     string `json:"text"`
}

// ScoredChunk is a chunk returned from a similarity query.
type ScoredChunk struct {
	Chunk
	Score float32 `json:"score"`
}

type BuildResult struct {
	Folder        string   `json:"folder"`
	FilesIndexed  int      `json:"files_indexed"`
	ChunksCreated int      `json:"chunks_created"`
	Skipped       []string `json:"skipped,omitempty"`
}

type AnswerResult struct {
	Folder  string        `json:"folder"`
	Answer  string        `json:"answer"`
	Sources []ScoredChunk `json:"sources,omitempty"`
}
