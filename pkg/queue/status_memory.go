package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/feichai0017/document-converter/internal/models"
)

// MemoryStatusStore is a single-process StatusStore. Each subscriber keeps
// only the latest undelivered snapshot, so a slow consumer never blocks writers.
type MemoryStatusStore struct {
	mu      sync.Mutex
	tasks   map[string]models.TaskStatusResponse
	results map[string][]byte
	subs    map[string]map[*memorySubscription]struct{}
}

func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{
		tasks:   make(map[string]models.TaskStatusResponse),
		results: make(map[string][]byte),
		subs:    make(map[string]map[*memorySubscription]struct{}),
	}
}

func (s *MemoryStatusStore) Create(_ context.Context, task models.TaskStatusResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.TaskID]; ok {
		return fmt.Errorf("%w: %s", ErrTaskExists, task.TaskID)
	}
	s.tasks[task.TaskID] = task.Clone()
	s.publishLocked(task)
	return nil
}

func (s *MemoryStatusStore) Get(_ context.Context, taskID string) (models.TaskStatusResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return models.TaskStatusResponse{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return task.Clone(), nil
}

func (s *MemoryStatusStore) Transition(_ context.Context, taskID string, to models.TaskStatus, meta *models.TaskProcessingMeta) (models.TaskStatusResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tasks[taskID]
	if !ok {
		return models.TaskStatusResponse{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	next, err := current.Transition(to, meta)
	if err != nil {
		return models.TaskStatusResponse{}, err
	}
	s.tasks[taskID] = next
	s.publishLocked(next)
	return next.Clone(), nil
}

func (s *MemoryStatusStore) Subscribe(ctx context.Context, taskID string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &memorySubscription{
		store:   s,
		taskID:  taskID,
		latest:  make(chan models.TaskStatusResponse, 1),
		updates: make(chan models.TaskStatusResponse),
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	if s.subs[taskID] == nil {
		s.subs[taskID] = make(map[*memorySubscription]struct{})
	}
	s.subs[taskID][sub] = struct{}{}
	s.mu.Unlock()

	go sub.run()
	return sub, nil
}

func (s *MemoryStatusStore) SaveResult(_ context.Context, taskID string, result []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[taskID] = append([]byte(nil), result...)
	return nil
}

func (s *MemoryStatusStore) GetResult(_ context.Context, taskID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.results[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrResultNotFound, taskID)
	}
	return append([]byte(nil), data...), nil
}

// Subscribers returns the number of live subscriptions of taskID.
func (s *MemoryStatusStore) Subscribers(taskID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[taskID])
}

// publishLocked replaces each subscriber's pending snapshot with task. It
// is the only sender, so after draining the send never blocks.
func (s *MemoryStatusStore) publishLocked(task models.TaskStatusResponse) {
	for sub := range s.subs[task.TaskID] {
		select {
		case <-sub.latest:
		default:
		}
		sub.latest <- task.Clone()
	}
}

func (s *MemoryStatusStore) unsubscribe(sub *memorySubscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs[sub.taskID], sub)
	if len(s.subs[sub.taskID]) == 0 {
		delete(s.subs, sub.taskID)
	}
}

type memorySubscription struct {
	store   *MemoryStatusStore
	taskID  string
	latest  chan models.TaskStatusResponse
	updates chan models.TaskStatusResponse
	done    chan struct{}
	once    sync.Once
}

func (s *memorySubscription) run() {
	defer close(s.updates)
	for {
		select {
		case <-s.done:
			return
		case task := <-s.latest:
			select {
			case s.updates <- task:
			case <-s.done:
				return
			}
		}
	}
}

func (s *memorySubscription) Updates() <-chan models.TaskStatusResponse { return s.updates }

func (s *memorySubscription) Err() error { return nil }

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.store.unsubscribe(s)
		close(s.done)
	})
	return nil
}
