package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
)

// ExecutionStateRepository keeps execution states per conversation.
type ExecutionStateRepository struct {
	mu     sync.RWMutex
	states map[string][]byte
}

func NewExecutionStateRepository() *ExecutionStateRepository {
	return &ExecutionStateRepository{states: map[string][]byte{}}
}

func (r *ExecutionStateRepository) Get(_ context.Context, conversationID string) (*models.ExecutionState, error) {
	r.mu.RLock()
	body, ok := r.states[conversationID]
	r.mu.RUnlock()

	if !ok {
		return nil, &persistence.ExecutionStateError{Op: "Get", ConversationID: conversationID, Err: persistence.ErrExecutionStateNotFound}
	}

	var state models.ExecutionState
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, &persistence.ExecutionStateError{Op: "Get", ConversationID: conversationID, Err: err}
	}

	return &state, nil
}

func (r *ExecutionStateRepository) Save(_ context.Context, conversationID string, state *models.ExecutionState) error {
	body, err := json.Marshal(state)
	if err != nil {
		return &persistence.ExecutionStateError{Op: "Save", ConversationID: conversationID, Err: err}
	}

	r.mu.Lock()
	r.states[conversationID] = body
	r.mu.Unlock()

	return nil
}

func (r *ExecutionStateRepository) Delete(_ context.Context, conversationID string) error {
	r.mu.Lock()
	delete(r.states, conversationID)
	r.mu.Unlock()

	return nil
}

// Locker is a process-local ConversationLocker with expiring leases.
type Locker struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

type lease struct {
	token   string
	expires time.Time
}

func NewLocker() *Locker {
	return &Locker{leases: map[string]lease{}, now: time.Now}
}

func (l *Locker) Lock(_ context.Context, conversationID string, ttl time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if current, held := l.leases[conversationID]; held && now.Before(current.expires) {
		return nil, persistence.ErrConversationLocked
	}

	token := uuid.NewString()
	l.leases[conversationID] = lease{token: token, expires: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()

		if current, held := l.leases[conversationID]; held && current.token == token {
			delete(l.leases, conversationID)
		}

		return nil
	}, nil
}
