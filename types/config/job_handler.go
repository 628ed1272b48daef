package config

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc executes one job. The payload is the raw JSON stored with the job.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

type JobHandler struct {
	handlers map[string]HandlerFunc
	mutex    sync.RWMutex
}

func NewJobHandler() *JobHandler {
	return &JobHandler{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register adds a new job handler by name.
func (jh *JobHandler) Register(name string, handler HandlerFunc) error {
	jh.mutex.Lock()
	defer jh.mutex.Unlock()

	if name == "" || handler == nil {
		return fmt.Errorf("handler must have a job name and function")
	}
	if _, exists := jh.handlers[name]; exists {
		return fmt.Errorf("handler '%s' already registered", name)
	}
	jh.handlers[name] = handler
	return nil
}

func (jh *JobHandler) Exists(name string) bool {
	jh.mutex.RLock()
	defer jh.mutex.RUnlock()

	_, exists := jh.handlers[name]
	return exists
}

func (jh *JobHandler) Execute(ctx context.Context, name string, payload json.RawMessage) error {
	jh.mutex.RLock()
	handler, exists := jh.handlers[name]
	jh.mutex.RUnlock()
	if !exists {
		return fmt.Errorf("handler '%s' not found", name)
	}
	return handler(ctx, payload)
}

func (jh *JobHandler) List() []string {
	jh.mutex.RLock()
	defer jh.mutex.RUnlock()

	names := make([]string, 0, len(jh.handlers))
	for name := range jh.handlers {
		names = append(names, name)
	}
	return names
}
