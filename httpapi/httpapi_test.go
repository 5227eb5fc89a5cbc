package httpapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightscape/holon/block"
	"github.com/nightscape/holon/engine"
	"github.com/nightscape/holon/engineconfig"
	"github.com/nightscape/holon/httpapi"
	"github.com/nightscape/holon/schema"
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

func newTestServer(t *testing.T) (*echo.Echo, *engine.Engine) {
	t.Helper()
	e, err := engine.Open(context.Background(), engineconfig.Config{StoragePath: ":memory:"},
		engine.WithSchemas(blocksSchema()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	store := engine.NewLocalStore(e.Backend(), blocksSchema())
	e.RegisterOperationProvider(engine.NewBlockProvider(store))

	_, err = store.Create(context.Background(), map[string]value.Value{
		"parent_id": value.String(block.RootParentID),
		"sort_key":  value.String("a0"),
		"depth":     value.Integer(0),
		"content":   value.String("hello"),
	})
	require.NoError(t, err)

	echoApp := echo.New()
	httpapi.New(e, echoApp)
	return echoApp, e
}

func TestHandleQueryReturnsRows(t *testing.T) {
	echoApp, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/query?source="+
		url_escape(`from(blocks) | render(this.id)`), nil)
	rec := httptest.NewRecorder()
	echoApp.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hello")
}

func TestHandleQueryRequiresSourceParam(t *testing.T) {
	echoApp, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/query", nil)
	rec := httptest.NewRecorder()
	echoApp.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHasOperationReportsRegisteredOps(t *testing.T) {
	echoApp, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/operations/blocks/set_field", nil)
	rec := httptest.NewRecorder()
	echoApp.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"has_operation":true`)
}

func TestHandleExecuteOperationDispatchesAndAppendsUndoLog(t *testing.T) {
	echoApp, e := newTestServer(t)

	_, rows, err := e.ExecuteQuery(context.Background(), `from(blocks) | render(this.id)`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	id := rows[0]["id"].MustString()

	body := `{"id":"` + id + `","field":"content","value":"edited"}`
	req := httptest.NewRequest(http.MethodPost, "/operations/blocks/set_field", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	echoApp.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "undo_log_id")

	row, err := e.Backend().GetByID(context.Background(), "blocks", id)
	require.NoError(t, err)
	assert.Equal(t, "edited", row["content"].MustString())
}

func TestHandleUndoReturnsNoContentWhenLogEmpty(t *testing.T) {
	echoApp, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/undo", nil)
	rec := httptest.NewRecorder()
	echoApp.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func url_escape(s string) string {
	r := strings.NewReplacer(" ", "%20", "|", "%7C", "(", "%28", ")", "%29", ",", "%2C")
	return r.Replace(s)
}
