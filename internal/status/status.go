// Package status tracks per-video processing state. The ingestion
// pipeline is the single writer for a given video; readers may poll
// concurrently.
package status

import (
	"sync"
	"time"
)

// State is the lifecycle stage of a video's transcript.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateReady      State = "ready"
	StateError      State = "error"
)

// Status describes where a video is in the ingestion pipeline.
type Status struct {
	VideoID     string    `json:"video_id"`
	State       State     `json:"state"`
	Message     string    `json:"message,omitempty"`
	TotalChunks int       `json:"total_chunks,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store reads and writes video processing status.
type Store interface {
	Get(videoID string) (Status, bool)
	Set(videoID string, s Status)
	Delete(videoID string)
}

// MemoryStore is an in-process Store. Safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	status map[string]Status
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{status: make(map[string]Status)}
}

func (m *MemoryStore) Get(videoID string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.status[videoID]
	return s, ok
}

// Set stores the status, stamping VideoID and UpdatedAt.
func (m *MemoryStore) Set(videoID string, s Status) {
	s.VideoID = videoID
	s.UpdatedAt = time.Now()
	m.mu.Lock()
	m.status[videoID] = s
	m.mu.Unlock()
}

func (m *MemoryStore) Delete(videoID string) {
	m.mu.Lock()
	delete(m.status, videoID)
	m.mu.Unlock()
}
