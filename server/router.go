// server/router.go
package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/chhz0/baybikes/core"
	"github.com/chhz0/baybikes/middleware"
	"github.com/chhz0/baybikes/storage"
	"github.com/chhz0/baybikes/transport"
	"github.com/chhz0/baybikes/types"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type routes struct {
	workspace  *core.Workspace
	dispatcher *core.Dispatcher
	store      storage.Storage
	counters   *middleware.Counters
	transport  transport.Transport
}

func newRouter(rt *routes) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST"},
		AllowHeaders:  []string{"Content-Type", "Origin"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/metrics", rt.metrics)

	repos := r.Group("/repositories")
	repos.GET("", rt.listRepositories)
	repos.GET("/:repo/pipelines", rt.listPipelines)
	repos.GET("/:repo/pipelines/:name", rt.getPipeline)
	repos.POST("/:repo/pipelines/:name/runs", rt.launch)

	r.GET("/runs", rt.listRuns)
	r.GET("/runs/:id", rt.getRun)
	r.GET("/cluster/nodes", rt.clusterNodes)

	return r
}

type repositoryItem struct {
	Name       string          `json:"name"`
	Categories []core.Category `json:"categories"`
}

type pipelineListItem struct {
	Repository string   `json:"repository"`
	Pipelines  []string `json:"pipelines"`
}

type runItem struct {
	ID         string    `json:"id"`
	Repository string    `json:"repository"`
	Pipeline   string    `json:"pipeline"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toRunItem(r *types.RunRequest) runItem {
	return runItem{
		ID:         r.ID,
		Repository: r.Repository,
		Pipeline:   r.Pipeline,
		Status:     r.Status.String(),
		Error:      r.Error,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func (rt *routes) metrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"constructions": rt.counters.Snapshot()})
}

func (rt *routes) listRepositories(c *gin.Context) {
	res := []repositoryItem{}
	for _, name := range rt.workspace.Repositories() {
		repo, err := rt.workspace.Repository(name)
		if err != nil {
			continue
		}
		res = append(res, repositoryItem{Name: name, Categories: repo.Categories()})
	}
	c.JSON(http.StatusOK, res)
}

// listPipelines 只返回名字，不构造流水线
func (rt *routes) listPipelines(c *gin.Context) {
	repo, err := rt.workspace.Repository(c.Param("repo"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pipelineListItem{
		Repository: repo.Name(),
		Pipelines:  repo.Names(core.CategoryPipelines),
	})
}

func (rt *routes) getPipeline(c *gin.Context) {
	p, err := rt.workspace.Pipeline(c.Param("repo"), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Example curl:
// curl -X POST --data '{"date": "2026-10-17"}' http://localhost:8080/repositories/bay_bikes_demo/pipelines/daily_weather_pipeline/runs
func (rt *routes) launch(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(payload) == 0 {
		payload = nil
	}

	run, err := rt.dispatcher.Launch(c.Request.Context(), c.Param("repo"), c.Param("name"), payload)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toRunItem(run))
}

func (rt *routes) listRuns(c *gin.Context) {
	status := types.StatusQueued
	if s := c.Query("status"); s != "" {
		st, ok := types.ParseRunStatus(s)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + strconv.Quote(s)})
			return
		}
		status = st
	}
	limit := 100
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	runs, err := rt.store.ListRuns(c.Request.Context(), status, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	res := make([]runItem, 0, len(runs))
	for _, r := range runs {
		res = append(res, toRunItem(r))
	}
	c.JSON(http.StatusOK, res)
}

func (rt *routes) getRun(c *gin.Context) {
	run, err := rt.store.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRunItem(run))
}

func (rt *routes) clusterNodes(c *gin.Context) {
	if rt.transport == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "cluster mode not enabled"})
		return
	}
	nodes, err := rt.transport.DiscoverNodes(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"self": rt.transport.NodeID(), "nodes": nodes})
}

func writeError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case core.IsNotFound(err), errors.Is(err, storage.ErrRunNotFound):
		code = http.StatusNotFound
	case core.IsValidation(err):
		code = http.StatusBadRequest
	case errors.Is(err, core.ErrBrokerClosed):
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"error": err.Error()})
}
