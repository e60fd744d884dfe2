package repository

import (
	"context"
	"sync"
	"time"

	"github.com/ecocrm-platform/ecocrm-stack/datahub/internal/models"
)

// MemoryRepository is an in-memory Repository for worker tests.
type MemoryRepository struct {
	mu              sync.RWMutex
	conversations   map[int64]models.Conversation
	messages        map[int64]models.Message
	reportingEvents map[int64]models.ReportingEvent
	backlog         []models.BacklogRow
	pageCommits     int
	refreshCalls    int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		conversations:   make(map[int64]models.Conversation),
		messages:        make(map[int64]models.Message),
		reportingEvents: make(map[int64]models.ReportingEvent),
	}
}

func (m *MemoryRepository) Close() {}

func (m *MemoryRepository) UpsertPage(_ context.Context, bundles []models.ConversationBundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range bundles {
		m.conversations[b.Conversation.ConversationID] = b.Conversation
		for _, msg := range b.Messages {
			m.messages[msg.MessageID] = msg
		}
		for _, ev := range b.ReportingEvents {
			m.reportingEvents[ev.ReportingEventID] = ev
		}
	}
	m.pageCommits++
	return nil
}

func (m *MemoryRepository) RefreshMarts(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshCalls++
	return nil
}

func (m *MemoryRepository) SnapshotBacklog(_ context.Context, ts time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[[2]interface{}]int64)
	for _, c := range m.conversations {
		if c.Status == "" {
			continue
		}
		counts[[2]interface{}{c.InboxID, c.Status}]++
	}
	var written int64
	for key, n := range counts {
		m.backlog = append(m.backlog, models.BacklogRow{
			SnapshotTS: ts,
			InboxID:    key[0].(int64),
			Status:     key[1].(string),
			Count:      n,
		})
		written++
	}
	return written, nil
}

// Test accessors.

func (m *MemoryRepository) Conversation(id int64) (models.Conversation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	return c, ok
}

func (m *MemoryRepository) Message(id int64) (models.Message, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	return msg, ok
}

func (m *MemoryRepository) ReportingEventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.reportingEvents)
}

func (m *MemoryRepository) Backlog() []models.BacklogRow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.BacklogRow, len(m.backlog))
	copy(out, m.backlog)
	return out
}

func (m *MemoryRepository) PageCommits() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pageCommits
}

func (m *MemoryRepository) RefreshCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refreshCalls
}
