package session

import (
	"sync"

	"refind/internal/models"
	"refind/internal/vectorstore"

	"github.com/google/uuid"
)

// Session is the unit of work: one uploaded paper, its vector index, and the
// running chunk counter shared by the upload and reference ingestion paths.
type Session struct {
	ID       string
	Filename string
	Paper    models.Paper
	Index    *vectorstore.Index

	mu        sync.Mutex
	nextChunk int
}

func New(filename string, paper models.Paper, index *vectorstore.Index) *Session {
	return &Session{
		ID:       uuid.NewString(),
		Filename: filename,
		Paper:    paper,
		Index:    index,
	}
}

// ReserveChunkIndexes hands out n consecutive chunk indexes and returns the
// first. Indexes are globally unique within the session so that chunks from
// the paper and from fetched references never collide.
func (s *Session) ReserveChunkIndexes(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := s.nextChunk
	s.nextChunk += n
	return start
}

// Store holds the active session. The service works on one paper at a time;
// uploading a new paper replaces the previous session.
type Store struct {
	mu      sync.RWMutex
	current *Session
}

func NewStore() *Store {
	return &Store{}
}

func (st *Store) Set(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.current = s
}

// Current returns the active session, or nil when nothing has been uploaded.
func (st *Store) Current() *Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.current
}
