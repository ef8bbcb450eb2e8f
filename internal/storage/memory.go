package storage

import (
	"context"
	"log/slog"
	"sync"

	"github.com/flowerschoolbengaluru/flowerschool/internal/logutil"
)

// Memory is the session tier. It lives exactly as long as the client that owns it.
type Memory struct {
	log   *slog.Logger
	mutex sync.RWMutex
	items map[string]string
}

func NewMemory(logger *slog.Logger) *Memory {
	return &Memory{
		log:   logutil.OrDiscard(logger),
		items: make(map[string]string),
	}
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	// Check for context cancellation/deadline early.
	select {
	case <-ctx.Done():
		m.log.Info("context cancelled during memory get", "error", ctx.Err())
		return "", false, ctx.Err()
	default:
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()
	v, ok := m.items[key]
	return v, ok, nil
}

func (m *Memory) Set(ctx context.Context, key, value string) error {
	select {
	case <-ctx.Done():
		m.log.Info("context cancelled during memory set", "error", ctx.Err())
		return ctx.Err()
	default:
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.items[key] = value
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		m.log.Info("context cancelled during memory delete", "error", ctx.Err())
		return ctx.Err()
	default:
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.items, key)
	return nil
}

// Len reports the number of stored keys.
func (m *Memory) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.items)
}
