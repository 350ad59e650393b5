package sync

import (
	"sync"

	"github.com/quillchat/chatsync/internal/chat"
)

// coordinatorState is the coordinator's mutable bookkeeping: summaries,
// per-context generations, and thread selection. Generations formalize the
// "did the selection change while we were fetching" check: every operation
// snapshots the generation before fetching and the result is discarded when
// it no longer matches.
type coordinatorState struct {
	mu          sync.RWMutex
	summaries   map[chat.Context]Summary
	generations map[chat.Context]uint64
	threads     map[chat.Scope]chat.MessageIndex
}

func newCoordinatorState() *coordinatorState {
	return &coordinatorState{
		summaries:   make(map[chat.Context]Summary),
		generations: make(map[chat.Context]uint64),
		threads:     make(map[chat.Scope]chat.MessageIndex),
	}
}

func (s *coordinatorState) summary(target chat.Context) (Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary, ok := s.summaries[target]
	return summary, ok
}

func (s *coordinatorState) setSummary(target chat.Context, summary Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[target] = summary
}

func (s *coordinatorState) generation(target chat.Context) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generations[target]
}

func (s *coordinatorState) bumpGeneration(target chat.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generations[target]++
}

func (s *coordinatorState) selectThread(scope chat.Scope, root chat.MessageIndex) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[scope] = root
}

func (s *coordinatorState) clearThread(scope chat.Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, scope)
}

func (s *coordinatorState) selectedThread(scope chat.Scope) (chat.MessageIndex, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	root, ok := s.threads[scope]
	return root, ok
}
