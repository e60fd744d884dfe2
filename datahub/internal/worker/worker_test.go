package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecocrm-platform/ecocrm-stack/common/chatwoot"
	"github.com/ecocrm-platform/ecocrm-stack/datahub/internal/repository"
)

type fakeChatwoot struct {
	// conversations per page; page numbers are 1-based
	pages             [][]map[string]interface{}
	messages          map[int64][]map[string]interface{}
	messageFailures   map[int64]bool
	reportingEvents   map[int64][]map[string]interface{}
	reportingFailures bool
	listCalls         atomic.Int64
}

func (f *fakeChatwoot) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t.Helper()
		require.Equal(t, "cw-token", r.Header.Get("api_access_token"))

		path := r.URL.Path
		switch {
		case path == "/api/v1/accounts/1/conversations":
			f.listCalls.Add(1)
			page, _ := strconv.Atoi(r.URL.Query().Get("page"))
			if page < 1 || page > len(f.pages) {
				page = 1
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"meta": map[string]interface{}{
						"current_page": strconv.Itoa(page),
						"total_pages":  len(f.pages),
					},
					"payload": f.pages[page-1],
				},
			})
		case strings.HasSuffix(path, "/messages"):
			id := pathConversationID(path)
			if f.messageFailures[id] {
				http.Error(w, "boom", http.StatusInternalServerError)
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"payload": f.messages[id],
			})
		case strings.HasSuffix(path, "/reporting_events"):
			if f.reportingFailures {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			id := pathConversationID(path)
			events := f.reportingEvents[id]
			if events == nil {
				events = []map[string]interface{}{}
			}
			json.NewEncoder(w).Encode(events)
		default:
			t.Fatalf("unexpected path %s", path)
		}
	}
}

func pathConversationID(path string) int64 {
	parts := strings.Split(path, "/")
	// .../conversations/{id}/{resource}
	id, _ := strconv.ParseInt(parts[len(parts)-2], 10, 64)
	return id
}

func conv(id, inboxID int64, status string, assigneeID int64) map[string]interface{} {
	meta := map[string]interface{}{
		"sender": map[string]interface{}{"id": 900 + id},
	}
	if assigneeID != 0 {
		meta["assignee"] = map[string]interface{}{"id": assigneeID}
	}
	return map[string]interface{}{
		"id":         id,
		"account_id": 1,
		"inbox_id":   inboxID,
		"status":     status,
		"timestamp":  1756400000 + id,
		"meta":       meta,
	}
}

func msg(id, convID int64, senderType string, senderID int64) map[string]interface{} {
	return map[string]interface{}{
		"id":              id,
		"conversation_id": convID,
		"message_type":    1,
		"content":         fmt.Sprintf("message %d", id),
		"private":         false,
		"created_at":      1756400100 + id,
		"sender":          map[string]interface{}{"id": senderID, "type": senderType},
	}
}

func setup(t *testing.T, fake *fakeChatwoot, opts Options) (*Worker, *repository.MemoryRepository) {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	client := chatwoot.New(srv.URL, "cw-token", 1)
	repo := repository.NewMemoryRepository()
	if opts.AccountID == 0 {
		opts.AccountID = 1
	}
	return New(client, repo, opts, slog.Default()), repo
}

func TestSyncCycle_PaginatesAndCommitsPerPage(t *testing.T) {
	fake := &fakeChatwoot{
		pages: [][]map[string]interface{}{
			{conv(10, 2, "open", 5), conv(11, 2, "open", 0)},
			{conv(12, 3, "resolved", 5)},
		},
		messages: map[int64][]map[string]interface{}{
			10: {msg(100, 10, "contact", 910), msg(101, 10, "user", 5)},
			11: {msg(102, 11, "contact", 911)},
			12: {},
		},
		reportingEvents: map[int64][]map[string]interface{}{
			10: {{
				"id": 7000, "name": "first_response", "account_id": 1,
				"inbox_id": 2, "user_id": 5, "conversation_id": 10,
				"value": 120, "value_in_business_hours": 60,
				"event_start_time": "2026-08-28T10:00:00Z",
				"event_end_time":   "2026-08-28T10:02:00Z",
			}},
		},
	}

	w, repo := setup(t, fake, Options{})
	require.NoError(t, w.syncCycle(context.Background()))

	// Two pages, two transactions.
	assert.Equal(t, 2, repo.PageCommits())
	assert.Equal(t, 1, repo.RefreshCalls())

	c, ok := repo.Conversation(10)
	require.True(t, ok)
	assert.Equal(t, int64(2), c.InboxID)
	assert.Equal(t, "open", c.Status)
	require.NotNil(t, c.AssigneeID)
	assert.Equal(t, int64(5), *c.AssigneeID)
	require.NotNil(t, c.ContactID)
	assert.Equal(t, int64(910), *c.ContactID)
	require.NotNil(t, c.CreatedAt)

	// Agent message mapped to the Rails class name the marts filter on.
	m, ok := repo.Message(101)
	require.True(t, ok)
	require.NotNil(t, m.SenderType)
	assert.Equal(t, "User", *m.SenderType)
	require.NotNil(t, m.SenderID)
	assert.Equal(t, int64(5), *m.SenderID)
	assert.Equal(t, int64(2), m.InboxID)

	assert.Equal(t, 1, repo.ReportingEventCount())

	backlog := repo.Backlog()
	require.Len(t, backlog, 2)
	counts := map[string]int64{}
	for _, row := range backlog {
		counts[fmt.Sprintf("%d/%s", row.InboxID, row.Status)] = row.Count
	}
	assert.Equal(t, int64(2), counts["2/open"])
	assert.Equal(t, int64(1), counts["3/resolved"])
}

func TestSyncCycle_ReportingEventFailuresAreBestEffort(t *testing.T) {
	fake := &fakeChatwoot{
		pages: [][]map[string]interface{}{
			{conv(20, 2, "open", 0)},
		},
		messages: map[int64][]map[string]interface{}{
			20: {msg(200, 20, "contact", 920)},
		},
		reportingFailures: true,
	}

	w, repo := setup(t, fake, Options{})
	require.NoError(t, w.syncCycle(context.Background()))

	_, ok := repo.Conversation(20)
	assert.True(t, ok)
	_, ok = repo.Message(200)
	assert.True(t, ok)
	assert.Equal(t, 0, repo.ReportingEventCount())
}

func TestSyncCycle_BrokenConversationIsSkipped(t *testing.T) {
	fake := &fakeChatwoot{
		pages: [][]map[string]interface{}{
			{conv(40, 2, "open", 0), conv(41, 2, "open", 0)},
		},
		messages: map[int64][]map[string]interface{}{
			41: {msg(410, 41, "contact", 941)},
		},
		messageFailures: map[int64]bool{40: true},
	}

	w, repo := setup(t, fake, Options{})
	require.NoError(t, w.syncCycle(context.Background()))

	// The broken conversation is dropped from the page, the rest of the
	// cycle still lands.
	_, ok := repo.Conversation(40)
	assert.False(t, ok)
	_, ok = repo.Conversation(41)
	assert.True(t, ok)
	_, ok = repo.Message(410)
	assert.True(t, ok)
	assert.Equal(t, 1, repo.PageCommits())
	assert.Equal(t, 1, repo.RefreshCalls())

	backlog := repo.Backlog()
	require.Len(t, backlog, 1)
	assert.Equal(t, int64(1), backlog[0].Count)
}

func TestSyncCycle_RerunIsIdempotent(t *testing.T) {
	fake := &fakeChatwoot{
		pages: [][]map[string]interface{}{
			{conv(30, 2, "open", 0)},
		},
		messages: map[int64][]map[string]interface{}{
			30: {msg(300, 30, "contact", 930)},
		},
	}

	w, repo := setup(t, fake, Options{})
	require.NoError(t, w.syncCycle(context.Background()))
	require.NoError(t, w.syncCycle(context.Background()))

	// Re-running overwrites the same keys instead of duplicating rows, and
	// each pass appends a backlog snapshot.
	c, ok := repo.Conversation(30)
	require.True(t, ok)
	assert.Equal(t, "open", c.Status)
	assert.Len(t, repo.Backlog(), 2)
}

func TestStartStop(t *testing.T) {
	fake := &fakeChatwoot{
		pages:    [][]map[string]interface{}{{}},
		messages: map[int64][]map[string]interface{}{},
	}
	w, _ := setup(t, fake, Options{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	require.Eventually(t, func() bool {
		return fake.listCalls.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	w.Stop()
}
