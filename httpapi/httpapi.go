// Package httpapi exposes an engine.Engine over HTTP: compile/execute a
// pipeline query, dispatch an operation, trigger undo/redo, and kick off
// a provider sync — the boundary layer a frontend talks to (spec.md
// §4.10's engine surface, given a transport).
//
// Grounded on the teacher's api/rest.go Echo-handler shape
// (echo.Context binding + echo.NewHTTPError for failure responses).
package httpapi

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nightscape/holon/engine"
	"github.com/nightscape/holon/operation"
	"github.com/nightscape/holon/value"
)

// Server wraps an engine.Engine with its HTTP routes.
type Server struct {
	engine *engine.Engine
}

// New builds a Server and registers its routes on e.
func New(e *engine.Engine, echoApp *echo.Echo) *Server {
	s := &Server{engine: e}
	echoApp.GET("/query", s.handleQuery)
	echoApp.GET("/query_and_watch", s.handleQueryAndWatch)
	echoApp.POST("/operations/:entity/:name", s.handleExecuteOperation)
	echoApp.GET("/operations/:entity/:name", s.handleHasOperation)
	echoApp.POST("/undo", s.handleUndo)
	echoApp.POST("/redo", s.handleRedo)
	echoApp.POST("/sync/:provider", s.handleSync)
	return s
}

type queryResponse struct {
	Entity string                   `json:"entity"`
	Rows   []map[string]value.Value `json:"rows"`
	Render any                      `json:"render"`
}

func (s *Server) handleQuery(c echo.Context) error {
	source := c.QueryParam("source")
	if source == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing source query parameter")
	}
	q, rows, err := s.engine.ExecuteQuery(c.Request().Context(), source)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, queryResponse{Entity: q.Entity, Rows: rows, Render: q.Render})
}

// handleQueryAndWatch runs the query once and returns its entity, rows
// and render tree. The CDC subscription QueryAndWatch opens is released
// before the response is written; streaming the subsequent CDC batches
// is left to a WebSocket/SSE layer this package does not implement
// (spec.md's transport-agnostic engine boundary).
func (s *Server) handleQueryAndWatch(c echo.Context) error {
	source := c.QueryParam("source")
	if source == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing source query parameter")
	}
	q, rows, sub, err := s.engine.QueryAndWatch(c.Request().Context(), source)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sub.Unsubscribe() // no long-lived connection to hand the subscription to yet
	return c.JSON(http.StatusOK, queryResponse{Entity: q.Entity, Rows: rows, Render: q.Render})
}

func (s *Server) handleHasOperation(c echo.Context) error {
	entity, name := c.Param("entity"), c.Param("name")
	return c.JSON(http.StatusOK, map[string]bool{"has_operation": s.engine.HasOperation(entity, name)})
}

func (s *Server) handleExecuteOperation(c echo.Context) error {
	entity, name := c.Param("entity"), c.Param("name")
	var body map[string]any
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	params := paramsFromJSON(body)
	id, err := s.engine.ExecuteOperation(c.Request().Context(), operation.Call{Entity: entity, Name: name, Params: params})
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int64{"undo_log_id": id})
}

func (s *Server) handleUndo(c echo.Context) error {
	if err := s.engine.Undo(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRedo(c echo.Context) error {
	if err := s.engine.Redo(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSync(c echo.Context) error {
	name := c.Param("provider")
	if err := s.engine.SyncProvider(c.Request().Context(), name); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// paramsFromJSON converts a JSON-decoded operation body into
// value.Value params. Numbers arrive as float64 (encoding/json's
// default); whole-valued floats become value.Integer so parameters
// like {"priority": 3} satisfy ParamNumber-typed required params
// without forcing callers to send strings.
func paramsFromJSON(body map[string]any) map[string]value.Value {
	params := make(map[string]value.Value, len(body))
	for k, v := range body {
		switch t := v.(type) {
		case nil:
			params[k] = value.Null()
		case bool:
			params[k] = value.Boolean(t)
		case string:
			params[k] = value.String(t)
		case float64:
			if t == float64(int64(t)) {
				params[k] = value.Integer(int64(t))
			} else {
				params[k] = value.Float(t)
			}
		default:
			params[k] = value.String(fmt.Sprint(t))
		}
	}
	return params
}
