package modules

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/modcall/internal/ir"
)

// Subtask keeps child conversations the agent delegates work to. Each
// subtask has an Id, its purpose, and the messages sent to it so far.
type Subtask struct {
	mu    sync.Mutex
	tasks map[string]*subtask
	newID func() string
}

type subtask struct {
	purpose  string
	messages []string
}

// SubtaskOption configures a Subtask module.
type SubtaskOption func(*Subtask)

// WithIDs sets the Id source. Default is UUIDv7.
func WithIDs(next func() string) SubtaskOption {
	return func(s *Subtask) {
		s.newID = next
	}
}

// NewSubtask creates an empty Subtask module.
func NewSubtask(opts ...SubtaskOption) *Subtask {
	s := &Subtask{
		tasks: make(map[string]*subtask),
		newID: func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Invoke implements dispatch.Handler.
func (s *Subtask) Invoke(ctx context.Context, query ir.IRObject) (ir.IRValue, error) {
	return commands{
		"Open":         s.open,
		"AccessModule": s.access,
		"Close":        s.close,
	}.Invoke(ctx, query)
}

func (s *Subtask) open(_ context.Context, query ir.IRObject) (ir.IRValue, error) {
	purpose, _ := query.String("purpose")

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	if _, taken := s.tasks[id]; taken {
		return nil, fmt.Errorf("subtask id %s already in use", id)
	}
	s.tasks[id] = &subtask{purpose: purpose}

	return ir.IRObject{
		"target_module": ir.IRString("Subtask"),
		"Id":            ir.IRString(id),
	}, nil
}

func (s *Subtask) access(_ context.Context, query ir.IRObject) (ir.IRValue, error) {
	id, _ := query.String("Id")
	content, _ := query.String("content")

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("no open subtask with Id %q", id)
	}
	task.messages = append(task.messages, content)

	return ir.IRObject{
		"target_module": ir.IRString("Subtask"),
		"Id":            ir.IRString(id),
		"messages":      ir.IRInt(len(task.messages)),
	}, nil
}

func (s *Subtask) close(_ context.Context, query ir.IRObject) (ir.IRValue, error) {
	id, _ := query.String("Id")

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return nil, fmt.Errorf("no open subtask with Id %q", id)
	}
	delete(s.tasks, id)

	return ir.IRObject{
		"target_module": ir.IRString("Subtask"),
		"Id":            ir.IRString(id),
		"status":        ir.IRString("closed"),
	}, nil
}

// Transcript returns the purpose and messages of an open subtask.
func (s *Subtask) Transcript(id string) (purpose string, messages []string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return "", nil, false
	}
	return task.purpose, append([]string(nil), task.messages...), true
}

// Active returns the number of open subtasks.
func (s *Subtask) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
