// Package queue is the per-deployment FIFO-within-priority queue of pending commands.
package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/trydirect/deployctl/internal/command"
	"github.com/trydirect/deployctl/internal/cperrors"
)

// Entry is one queued command awaiting dispatch.
type Entry struct {
	CommandID      string
	DeploymentHash string
	Priority       command.Priority
	QueuedAt       time.Time
}

// Store is the queue's persistence contract. A command is either in the
// queue or not; there are no partial updates.
type Store interface {
	AddToQueue(ctx context.Context, commandID, deploymentHash string, priority command.Priority) error
	// FetchNextForDeployment returns the head row for a deployment (priority
	// desc, queued_at asc) without removing it, or nil if the queue is empty.
	FetchNextForDeployment(ctx context.Context, deploymentHash string) (*Entry, error)
	RemoveFromQueue(ctx context.Context, commandID string) error
}

// MemStore is an in-memory Store used by tests and local development. It is safe for concurrent use.
type MemStore struct {
	mu      sync.Mutex
	entries map[string]*Entry // commandID -> entry
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]*Entry)}
}

func (s *MemStore) AddToQueue(ctx context.Context, commandID, deploymentHash string, priority command.Priority) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[commandID]; exists {
		return cperrors.Conflict(cperrors.CodeAlreadyQueued, "command_id already queued")
	}
	s.entries[commandID] = &Entry{
		CommandID:      commandID,
		DeploymentHash: deploymentHash,
		Priority:       priority,
		QueuedAt:       time.Now(),
	}
	return nil
}

func (s *MemStore) FetchNextForDeployment(ctx context.Context, deploymentHash string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head(deploymentHash)
}

// head finds the ordering-first entry for a deployment without locking;
// callers hold s.mu.
func (s *MemStore) head(deploymentHash string) (*Entry, error) {
	var candidates []*Entry
	for _, e := range s.entries {
		if e.DeploymentHash == deploymentHash {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority.Rank() != candidates[j].Priority.Rank() {
			return candidates[i].Priority.Rank() > candidates[j].Priority.Rank()
		}
		return candidates[i].QueuedAt.Before(candidates[j].QueuedAt)
	})
	head := *candidates[0]
	return &head, nil
}

func (s *MemStore) RemoveFromQueue(ctx context.Context, commandID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, commandID)
	return nil
}

// FetchAndRemove atomically serves and dequeues the head entry for a
// deployment, preventing double delivery — used by the agent pull endpoint.
func (s *MemStore) FetchAndRemove(ctx context.Context, deploymentHash string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	head, err := s.head(deploymentHash)
	if err != nil || head == nil {
		return head, err
	}
	delete(s.entries, head.CommandID)
	return head, nil
}
