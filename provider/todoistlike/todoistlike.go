// Package todoistlike is a reference SyncableProvider for a Todoist-style
// remote task API: one sync() call fetches both tasks and projects, each
// split into their own typed Change batch sharing one sync token, so a
// cache committing either batch atomically advances the same provider
// position (spec.md §4.4, supplemented feature — see SPEC_FULL.md).
//
// Grounded on original_source's holon-todoist/todoist_sync_provider.rs:
// one API call → compute_task_changes/compute_project_changes split →
// emit on separate typed channels sharing one BatchMetadata.sync_token.
// Reworked from tokio::broadcast senders into broadcast.Hub[T], and from
// a hand-rolled retry-unaware reqwest client into
// hashicorp/go-retryablehttp for the HTTP transport.
package todoistlike

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/nightscape/holon/broadcast"
	"github.com/nightscape/holon/change"
	"github.com/nightscape/holon/holonerr"
	"github.com/nightscape/holon/operation"
	"github.com/nightscape/holon/provider"
	"github.com/nightscape/holon/value"
)

// Task is the cache-facing shape of one remote task.
type Task struct {
	ID          string
	Content     string
	Description string
	ProjectID   string
	ParentID    string
	DueDate     string
	Completed   bool
	Priority    int64
}

// Project is the cache-facing shape of one remote project.
type Project struct {
	ID   string
	Name string
}

type apiTask struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	Description string `json:"description"`
	ProjectID   string `json:"project_id"`
	ParentID    string `json:"parent_id"`
	DueDate     string `json:"due_date"`
	Completed   bool   `json:"checked"`
	Priority    int64  `json:"priority"`
	IsDeleted   bool   `json:"is_deleted"`
}

type apiProject struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDeleted bool   `json:"is_deleted"`
}

type syncItemsResponse struct {
	Items     []apiTask `json:"items"`
	SyncToken string    `json:"sync_token"`
}

type syncProjectsResponse struct {
	Projects  []apiProject `json:"projects"`
	SyncToken string       `json:"sync_token"`
}

// Client is a thin wrapper over the remote sync API, retrying transient
// failures via go-retryablehttp.
type Client struct {
	http     *retryablehttp.Client
	baseURL  string
	apiToken string
}

// NewClient builds a Client against baseURL, authenticating with
// apiToken as a bearer token.
func NewClient(baseURL, apiToken string) *Client {
	hc := retryablehttp.NewClient()
	hc.Logger = nil
	return &Client{http: hc, baseURL: baseURL, apiToken: apiToken}
}

func (c *Client) get(ctx context.Context, path, syncToken string, out any) error {
	url := fmt.Sprintf("%s%s?sync_token=%s", c.baseURL, path, syncToken)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return holonerr.New(holonerr.KindExternal, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return holonerr.New(holonerr.KindExternal, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return holonerr.New(holonerr.KindExternal, fmt.Errorf("todoistlike: %s returned %d", path, resp.StatusCode))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) syncItems(ctx context.Context, syncToken string) (syncItemsResponse, error) {
	var out syncItemsResponse
	err := c.get(ctx, "/sync/items", syncToken, &out)
	return out, err
}

func (c *Client) syncProjects(ctx context.Context, syncToken string) (syncProjectsResponse, error) {
	var out syncProjectsResponse
	err := c.get(ctx, "/sync/projects", syncToken, &out)
	return out, err
}

// entity names under which this provider's two cached relations live.
const (
	TasksRelation    = "todoist_tasks"
	ProjectsRelation = "todoist_projects"
)

// Provider is the reference todoistlike SyncableProvider.
type Provider struct {
	client   *Client
	tasks    *broadcast.Hub[Task]
	projects *broadcast.Hub[Project]
}

// New builds a Provider talking to client.
func New(client *Client) *Provider {
	return &Provider{client: client, tasks: broadcast.NewHub[Task](1000), projects: broadcast.NewHub[Project](1000)}
}

// Name satisfies provider.SyncableProvider.
func (p *Provider) Name() string { return "todoist" }

// Tasks exposes the task stream for a Cache to subscribe to.
func (p *Provider) Tasks() *broadcast.Hub[Task] { return p.tasks }

// Projects exposes the project stream for a Cache to subscribe to.
func (p *Provider) Projects() *broadcast.Hub[Project] { return p.projects }

// Sync makes one paired sync_items/sync_projects call, splits the
// response into task and project changes, and publishes each on its own
// stream sharing one sync token — mirroring the original's single
// BatchMetadata.sync_token carried by both emitted batches.
func (p *Provider) Sync(ctx context.Context, current provider.Position) (provider.Position, error) {
	token := string(current)

	items, err := p.client.syncItems(ctx, token)
	if err != nil {
		return nil, err
	}
	projects, err := p.client.syncProjects(ctx, token)
	if err != nil {
		return nil, err
	}

	newPosition := provider.Position(items.SyncToken)
	syncTok := &change.SyncToken{ProviderName: p.Name(), Position: newPosition}

	p.tasks.Publish(change.Batch[Task]{
		Metadata: change.Metadata{RelationName: TasksRelation, SyncToken: syncTok},
		Changes:  taskChanges(items.Items),
	})
	p.projects.Publish(change.Batch[Project]{
		Metadata: change.Metadata{RelationName: ProjectsRelation, SyncToken: syncTok},
		Changes:  projectChanges(projects.Projects),
	})

	return newPosition, nil
}

func taskChanges(items []apiTask) []change.Change[Task] {
	out := make([]change.Change[Task], 0, len(items))
	for _, it := range items {
		if it.IsDeleted {
			out = append(out, change.NewDeleted[Task](it.ID, change.Origin{Kind: change.Remote}))
			continue
		}
		t := Task{
			ID: it.ID, Content: it.Content, Description: it.Description,
			ProjectID: it.ProjectID, ParentID: it.ParentID, DueDate: it.DueDate,
			Completed: it.Completed, Priority: it.Priority,
		}
		// The sync API never distinguishes create from update, so every
		// live item is emitted as Updated; the cache's upsert handles
		// first-sight rows the same as it handles real updates.
		out = append(out, change.NewUpdated(it.ID, t, change.Origin{Kind: change.Remote}))
	}
	return out
}

func projectChanges(items []apiProject) []change.Change[Project] {
	out := make([]change.Change[Project], 0, len(items))
	for _, it := range items {
		if it.IsDeleted {
			out = append(out, change.NewDeleted[Project](it.ID, change.Origin{Kind: change.Remote}))
			continue
		}
		out = append(out, change.NewUpdated(it.ID, Project{ID: it.ID, Name: it.Name}, change.Origin{Kind: change.Remote}))
	}
	return out
}

// Operations satisfies provider.SyncableProvider.
func (p *Provider) Operations() operation.Provider { return &syncProvider{p} }

// syncProvider exposes the provider as the sole wildcard-dispatchable
// "sync" operation under the synthetic entity "todoist.sync".
type syncProvider struct{ p *Provider }

func (s *syncProvider) Operations() []operation.Descriptor {
	return []operation.Descriptor{{
		EntityName:  provider.SyncEntityName(s.p.Name()),
		Name:        provider.SyncOperationName,
		DisplayName: "Sync Todoist",
	}}
}

func (s *syncProvider) Execute(ctx context.Context, entity, name string, params map[string]value.Value) (operation.UndoAction, error) {
	if entity != provider.SyncEntityName(s.p.Name()) || name != provider.SyncOperationName {
		return operation.UndoAction{}, holonerr.New(holonerr.KindValidation, holonerr.ErrUnknownOperation).WithEntity(entity, name)
	}
	var current provider.Position
	if v, ok := params["position"]; ok && !v.IsNull() {
		current = provider.Position(v.MustString())
	}
	if _, err := s.p.Sync(ctx, current); err != nil {
		return operation.UndoAction{}, err
	}
	return operation.UndoAction{Kind: operation.Irreversible}, nil
}
