package chatwoot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMessage(t *testing.T) {
	var gotPath, gotToken string
	var gotBody CreateMessageRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("api_access_token")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": 101, "conversation_id": 9, "content": "done"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret-token", 3)
	msg, err := c.CreateMessage(context.Background(), 9, "done")
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/accounts/3/conversations/9/messages", gotPath)
	assert.Equal(t, "secret-token", gotToken)
	assert.Equal(t, "done", gotBody.Content)
	assert.Equal(t, "outgoing", gotBody.MessageType)
	assert.False(t, gotBody.Private)
	assert.Equal(t, "text", gotBody.ContentType)
	assert.Equal(t, int64(101), msg.ID)
}

func TestCreateMessage_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, "bad", 3)
	_, err := c.CreateMessage(context.Background(), 9, "done")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestListConversations_Pagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/accounts/3/conversations", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "all", r.URL.Query().Get("status"))
		w.Write([]byte(`{"data":{"meta":{"current_page":2,"total_pages":2},"payload":[
			{"id":9,"account_id":3,"inbox_id":1,"status":"open","timestamp":1724900000}
		]}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", 3)
	page, err := c.ListConversations(context.Background(), 2, "all")
	require.NoError(t, err)

	assert.Equal(t, 2, page.CurrentPage)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Conversations, 1)
	assert.Equal(t, int64(9), page.Conversations[0].ID)
	assert.Equal(t, "open", page.Conversations[0].Status)
	assert.NotEmpty(t, page.Conversations[0].Raw)
}

func TestListMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"payload":[{"id":55,"conversation_id":9,"message_type":0,"content":"hi"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", 3)
	msgs, err := c.ListMessages(context.Background(), 9)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(55), msgs[0].ID)
	assert.Equal(t, "hi", msgs[0].Content)
}

func TestConversationReportingEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":7001,"name":"first_response","conversation_id":9,"value":120}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", 3)
	events, err := c.ConversationReportingEvents(context.Background(), 9)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "first_response", events[0].Name)
	assert.Equal(t, int64(120), events[0].Value)
}
