package todoistlike_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightscape/holon/change"
	"github.com/nightscape/holon/provider"
	"github.com/nightscape/holon/provider/todoistlike"
)

func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sync/items":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"sync_token": "tok-1",
				"items": []map[string]any{
					{"id": "t1", "content": "buy milk", "description": "", "project_id": "p1", "parent_id": "", "due_date": "", "checked": false, "priority": int64(1), "is_deleted": false},
					{"id": "t2", "content": "old", "is_deleted": true},
				},
			})
		case "/sync/projects":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"sync_token": "tok-1",
				"projects": []map[string]any{
					{"id": "p1", "name": "Inbox", "is_deleted": false},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestSyncPublishesTasksAndProjectsWithSharedToken(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()

	client := todoistlike.NewClient(srv.URL, "test-token")
	p := todoistlike.New(client)

	taskSub := p.Tasks().Subscribe()
	defer taskSub.Unsubscribe()
	projectSub := p.Projects().Subscribe()
	defer projectSub.Unsubscribe()

	newPos, err := p.Sync(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, provider.Position("tok-1"), newPos)

	taskEvent, err := taskSub.Recv(t.Context())
	require.NoError(t, err)
	require.NotNil(t, taskEvent.Batch)
	require.Len(t, taskEvent.Batch.Changes, 2)
	assert.Equal(t, "t1", taskEvent.Batch.Changes[0].ID)
	assert.Equal(t, change.Updated, taskEvent.Batch.Changes[0].Kind)
	assert.Equal(t, "buy milk", taskEvent.Batch.Changes[0].Data.Content)
	assert.Equal(t, change.Deleted, taskEvent.Batch.Changes[1].Kind)
	require.NotNil(t, taskEvent.Batch.Metadata.SyncToken)
	assert.Equal(t, "todoist", taskEvent.Batch.Metadata.SyncToken.ProviderName)

	projectEvent, err := projectSub.Recv(t.Context())
	require.NoError(t, err)
	require.NotNil(t, projectEvent.Batch)
	require.Len(t, projectEvent.Batch.Changes, 1)
	assert.Equal(t, "Inbox", projectEvent.Batch.Changes[0].Data.Name)

	assert.Equal(t, taskEvent.Batch.Metadata.SyncToken.Position, projectEvent.Batch.Metadata.SyncToken.Position)
}

func TestSyncSurfacesUpstreamErrorAsExternal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := todoistlike.NewClient(srv.URL, "test-token")
	p := todoistlike.New(client)

	_, err := p.Sync(t.Context(), nil)
	require.Error(t, err)
}

func TestSyncOperationRejectsWrongEntityOrName(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()
	p := todoistlike.New(todoistlike.NewClient(srv.URL, "tok"))
	ops := p.Operations()

	_, err := ops.Execute(t.Context(), "wrong.sync", "sync", nil)
	assert.Error(t, err)

	_, err = ops.Execute(t.Context(), "todoist.sync", "not-sync", nil)
	assert.Error(t, err)
}

func TestSyncOperationDescriptorUsesSyntheticEntityName(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()
	p := todoistlike.New(todoistlike.NewClient(srv.URL, "tok"))
	descs := p.Operations().Operations()
	require.Len(t, descs, 1)
	assert.Equal(t, "todoist.sync", descs[0].EntityName)
	assert.Equal(t, "sync", descs[0].Name)
}
