// Command holon is the engine's wiring entrypoint: load configuration,
// open the engine against the blocks/tasks schemas, register the
// locally-owned block and task providers plus any external
// SyncableProviders the environment enables, and serve the HTTP
// boundary.
//
// Grounded on the teacher's main.go wiring order (load config, build
// dependencies bottom-up, start the server, wait on signals) with the
// cobra command tree stripped out — this repository has one thing to
// run, not a command hierarchy.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/nightscape/holon/block"
	"github.com/nightscape/holon/cache"
	"github.com/nightscape/holon/engine"
	"github.com/nightscape/holon/engineconfig"
	"github.com/nightscape/holon/holonlog"
	"github.com/nightscape/holon/httpapi"
	"github.com/nightscape/holon/provider/orgmode"
	"github.com/nightscape/holon/provider/todoistlike"
	"github.com/nightscape/holon/schema"
	"github.com/nightscape/holon/synctoken"
	"github.com/nightscape/holon/value"
)

func blocksSchema() schema.Schema {
	return schema.Schema{
		Name:       "blocks",
		PrimaryKey: "id",
		Fields: []schema.Field{
			{Name: "id", Type: schema.FieldText},
			{Name: "parent_id", Type: schema.FieldText, Indexed: true},
			{Name: "sort_key", Type: schema.FieldText},
			{Name: "depth", Type: schema.FieldInteger},
			{Name: "content", Type: schema.FieldText},
		},
	}
}

func tasksSchema() schema.Schema {
	return schema.Schema{
		Name:       "tasks",
		PrimaryKey: "id",
		Fields: []schema.Field{
			{Name: "id", Type: schema.FieldText},
			{Name: "title", Type: schema.FieldText},
			{Name: "done", Type: schema.FieldBoolean},
			{Name: "priority", Type: schema.FieldInteger},
			{Name: "due_date", Type: schema.FieldText},
		},
	}
}

func orgDirectoriesSchema() schema.Schema {
	return schema.Schema{
		Name:       orgmode.DirectoriesRelation,
		PrimaryKey: "id",
		Fields: []schema.Field{
			{Name: "id", Type: schema.FieldText},
			{Name: "name", Type: schema.FieldText},
			{Name: "parent_id", Type: schema.FieldText, Indexed: true},
			{Name: "depth", Type: schema.FieldInteger},
		},
	}
}

func orgFilesSchema() schema.Schema {
	return schema.Schema{
		Name:       orgmode.FilesRelation,
		PrimaryKey: "id",
		Fields: []schema.Field{
			{Name: "id", Type: schema.FieldText},
			{Name: "name", Type: schema.FieldText},
			{Name: "path", Type: schema.FieldText},
			{Name: "parent_id", Type: schema.FieldText, Indexed: true},
			{Name: "depth", Type: schema.FieldInteger},
		},
	}
}

func orgHeadlinesSchema() schema.Schema {
	return schema.Schema{
		Name:       orgmode.HeadlinesRelation,
		PrimaryKey: "id",
		Fields: []schema.Field{
			{Name: "id", Type: schema.FieldText},
			{Name: "file_id", Type: schema.FieldText, Indexed: true},
			{Name: "parent_id", Type: schema.FieldText, Indexed: true},
			{Name: "depth", Type: schema.FieldInteger},
			{Name: "title", Type: schema.FieldText},
			{Name: "todo_keyword", Type: schema.FieldText},
			{Name: "priority", Type: schema.FieldInteger},
			{Name: "tags", Type: schema.FieldText},
		},
	}
}

func todoistTasksSchema() schema.Schema {
	return schema.Schema{
		Name:       todoistlike.TasksRelation,
		PrimaryKey: "id",
		Fields: []schema.Field{
			{Name: "id", Type: schema.FieldText},
			{Name: "content", Type: schema.FieldText},
			{Name: "description", Type: schema.FieldText},
			{Name: "project_id", Type: schema.FieldText, Indexed: true},
			{Name: "parent_id", Type: schema.FieldText, Indexed: true},
			{Name: "due_date", Type: schema.FieldText},
			{Name: "completed", Type: schema.FieldBoolean},
			{Name: "priority", Type: schema.FieldInteger},
		},
	}
}

func todoistProjectsSchema() schema.Schema {
	return schema.Schema{
		Name:       todoistlike.ProjectsRelation,
		PrimaryKey: "id",
		Fields: []schema.Field{
			{Name: "id", Type: schema.FieldText},
			{Name: "name", Type: schema.FieldText},
		},
	}
}

// registerOrgmodeCache migrates the Org-mode provider's three cached
// relations and attaches a cache.Cache[T] to each of its streams, so
// SyncProvider("orgmode") ingests scanned directories/files/headlines
// instead of discarding them (spec.md §4.5, C7).
func registerOrgmodeCache(ctx context.Context, e *engine.Engine, p *orgmode.Provider, log *logrus.Entry) error {
	schemas := []schema.Schema{orgDirectoriesSchema(), orgFilesSchema(), orgHeadlinesSchema()}
	for _, s := range schemas {
		if err := e.Backend().Migrate(ctx, s); err != nil {
			return err
		}
	}
	tokens := synctoken.New(e.Backend())

	dirs := cache.New(e.Backend(), orgDirectoriesSchema(), p.Name(), tokens,
		func(d orgmode.Directory) (map[string]value.Value, error) {
			return map[string]value.Value{
				"name": value.String(d.Name), "parent_id": value.String(d.ParentID), "depth": value.Integer(d.Depth),
			}, nil
		},
		func(d orgmode.Directory) string { return d.ID },
	)
	engine.RegisterProviderCache(e, p.Name(), dirs, p.Directories().Subscribe())

	files := cache.New(e.Backend(), orgFilesSchema(), p.Name(), tokens,
		func(f orgmode.File) (map[string]value.Value, error) {
			return map[string]value.Value{
				"name": value.String(f.Name), "path": value.String(f.Path),
				"parent_id": value.String(f.ParentID), "depth": value.Integer(f.Depth),
			}, nil
		},
		func(f orgmode.File) string { return f.ID },
	)
	engine.RegisterProviderCache(e, p.Name(), files, p.Files().Subscribe())

	headlines := cache.New(e.Backend(), orgHeadlinesSchema(), p.Name(), tokens,
		func(h orgmode.Headline) (map[string]value.Value, error) {
			return map[string]value.Value{
				"file_id": value.String(h.FileID), "parent_id": value.String(h.ParentID), "depth": value.Integer(h.Depth),
				"title": value.String(h.Title), "todo_keyword": value.String(h.TodoKeyword),
				"priority": value.Integer(h.Priority), "tags": value.String(h.Tags),
			}, nil
		},
		func(h orgmode.Headline) string { return h.ID },
	)
	engine.RegisterProviderCache(e, p.Name(), headlines, p.Headlines().Subscribe())

	log.WithField("dir", p.Root).Info("registered orgmode provider")
	return nil
}

// registerTodoistCache migrates the Todoist-like provider's two cached
// relations and attaches a cache.Cache[T] to each of its streams, the
// same wiring registerOrgmodeCache does for Org-mode.
func registerTodoistCache(ctx context.Context, e *engine.Engine, p *todoistlike.Provider, log *logrus.Entry) error {
	schemas := []schema.Schema{todoistTasksSchema(), todoistProjectsSchema()}
	for _, s := range schemas {
		if err := e.Backend().Migrate(ctx, s); err != nil {
			return err
		}
	}
	tokens := synctoken.New(e.Backend())

	tasks := cache.New(e.Backend(), todoistTasksSchema(), p.Name(), tokens,
		func(t todoistlike.Task) (map[string]value.Value, error) {
			return map[string]value.Value{
				"content": value.String(t.Content), "description": value.String(t.Description),
				"project_id": value.String(t.ProjectID), "parent_id": value.String(t.ParentID),
				"due_date": value.String(t.DueDate), "completed": value.Boolean(t.Completed),
				"priority": value.Integer(t.Priority),
			}, nil
		},
		func(t todoistlike.Task) string { return t.ID },
	)
	engine.RegisterProviderCache(e, p.Name(), tasks, p.Tasks().Subscribe())

	projects := cache.New(e.Backend(), todoistProjectsSchema(), p.Name(), tokens,
		func(pr todoistlike.Project) (map[string]value.Value, error) {
			return map[string]value.Value{"name": value.String(pr.Name)}, nil
		},
		func(pr todoistlike.Project) string { return pr.ID },
	)
	engine.RegisterProviderCache(e, p.Name(), projects, p.Projects().Subscribe())

	log.Info("registered todoist provider")
	return nil
}

func main() {
	log := holonlog.For("main")
	cfg := engineconfig.FromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []engine.Option{engine.WithSchemas(blocksSchema(), tasksSchema())}
	if cachePath := os.Getenv("HOLON_QUERY_CACHE_PATH"); cachePath != "" {
		opts = append(opts, engine.WithQueryCache(cachePath))
	}

	e, err := engine.Open(ctx, cfg, opts...)
	if err != nil {
		log.WithError(err).Fatal("open engine")
	}
	defer func() {
		if err := e.Close(); err != nil {
			log.WithError(err).Warn("close engine")
		}
	}()

	blockStore := engine.NewLocalStore(e.Backend(), blocksSchema())
	e.RegisterOperationProvider(engine.NewBlockProvider(blockStore))

	taskStore := engine.NewLocalStore(e.Backend(), tasksSchema())
	e.RegisterOperationProvider(engine.NewTaskProvider(taskStore))

	if _, err := blockRoot(ctx, blockStore); err != nil {
		log.WithError(err).Fatal("seed root block")
	}

	if dir := os.Getenv("HOLON_ORGMODE_DIR"); dir != "" {
		orgProvider := orgmode.New(dir)
		e.RegisterProvider(orgProvider)
		if err := registerOrgmodeCache(ctx, e, orgProvider, log); err != nil {
			log.WithError(err).Fatal("wire orgmode cache")
		}
	}
	if token := os.Getenv("HOLON_TODOIST_TOKEN"); token != "" {
		client := todoistlike.NewClient(os.Getenv("HOLON_TODOIST_BASE_URL"), token)
		todoistProvider := todoistlike.New(client)
		e.RegisterProvider(todoistProvider)
		if err := registerTodoistCache(ctx, e, todoistProvider, log); err != nil {
			log.WithError(err).Fatal("wire todoist cache")
		}
	}

	echoApp := echo.New()
	echoApp.HideBanner = true
	httpapi.New(e, echoApp)

	addr := os.Getenv("HOLON_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	go func() {
		if err := echoApp.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("serve http")
		}
	}()
	log.WithField("addr", addr).Info("holon listening")

	if cfg.SyncPollInterval > 0 {
		go runSyncLoop(ctx, e, cfg.SyncPollInterval, log)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := echoApp.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown")
	}
}

// runSyncLoop calls SyncAll on a fixed interval until ctx is done, the
// background counterpart to an explicit POST /sync/:provider call.
func runSyncLoop(ctx context.Context, e *engine.Engine, interval time.Duration, log *logrus.Entry) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.SyncAll(ctx); err != nil {
				log.WithError(err).Warn("periodic sync")
			}
		}
	}
}

// blockRoot ensures a root block exists, returning its id. A fresh
// database starts with none; subsequent runs find the existing one.
func blockRoot(ctx context.Context, store *engine.LocalStore) (string, error) {
	tree, err := store.Tree(ctx)
	if err != nil {
		return "", err
	}
	if roots := tree.Children(block.RootParentID); len(roots) > 0 {
		return roots[0], nil
	}
	fields := block.FieldValues(block.RootParentID, "a0", 0)
	fields["content"] = value.String("")
	return store.Create(ctx, fields)
}
