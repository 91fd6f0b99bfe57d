package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"samay/internal/activity"
	"samay/internal/apperr"
	"samay/internal/auth"
	"samay/internal/insight"
	"samay/internal/project"
	"samay/internal/tagging"
	"samay/internal/task"
)

// JobRunner runs a background job by name
type JobRunner interface {
	Run(ctx context.Context, name string) (any, error)
}

// Pinger reports database reachability for the health check
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Auth       *auth.Service
	Activities *activity.Service
	Projects   *project.Service
	Insights   *insight.Service
	Tags       *tagging.Service
	Jobs       JobRunner
	DB         Pinger
}

type handlers struct {
	Deps
	errorResponder
}

func parseID(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Validation("Invalid " + name)
	}
	return uint(id), nil
}

func (h *handlers) root(c *gin.Context) {
	c.String(http.StatusOK, "Tick Tick Track your activity without fuss")
}

func (h *handlers) health(c *gin.Context) {
	if h.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.DB.Ping(ctx); err != nil {
			h.fail(c, apperr.New(http.StatusServiceUnavailable, "DATABASE_UNAVAILABLE", "Database unavailable", err))
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "App is Strong and healthy 🚀"})
}

func (h *handlers) notFound(c *gin.Context) {
	h.fail(c, apperr.NotFound("ROUTE_NOT_FOUND", "Route "+c.Request.Method+" "+c.Request.URL.Path+" not found"))
}

// auth

func (h *handlers) register(c *gin.Context) {
	var in auth.RegisterInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, bindError(err))
		return
	}
	res, err := h.Auth.Register(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	respondData(c, http.StatusCreated, res)
}

func (h *handlers) login(c *gin.Context) {
	var in auth.LoginInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, bindError(err))
		return
	}
	res, err := h.Auth.Login(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	respondData(c, http.StatusOK, res)
}

func (h *handlers) logout(c *gin.Context) {
	if err := h.Auth.Logout(c.Request.Context(), bearerToken(c)); err != nil {
		h.fail(c, err)
		return
	}
	respondMessage(c, http.StatusOK, "Logged out successfully")
}

func (h *handlers) me(c *gin.Context) {
	user, err := h.Auth.Me(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	respondData(c, http.StatusOK, user)
}

// activities

func (h *handlers) ingest(c *gin.Context) {
	var events []activity.Event
	if err := c.ShouldBindJSON(&events); err != nil {
		h.fail(c, bindError(err))
		return
	}
	res, err := h.Activities.Ingest(c.Request.Context(), currentUser(c).ID, events)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "Activities created successfully",
		"data":    gin.H{"received": res.Received, "stored": res.Stored},
	})
}

func (h *handlers) listActivities(c *gin.Context) {
	var q activity.ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.fail(c, bindError(err))
		return
	}
	rows, err := h.Activities.List(c.Request.Context(), currentUser(c).ID, q)
	if err != nil {
		h.fail(c, err)
		return
	}
	respondData(c, http.StatusOK, rows)
}

func (h *handlers) stats(c *gin.Context) {
	res, err := h.Activities.Stats(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	respondData(c, http.StatusOK, res)
}

// rangeQuery binds startDate/endDate and runs fn with them
func rangeQuery[T any](h *handlers, fn func(ctx context.Context, userID string, r activity.Range) (T, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var r activity.Range
		if err := c.ShouldBindQuery(&r); err != nil {
			h.fail(c, bindError(err))
			return
		}
		res, err := fn(c.Request.Context(), currentUser(c).ID, r)
		if err != nil {
			h.fail(c, err)
			return
		}
		respondData(c, http.StatusOK, res)
	}
}

func (h *handlers) updateActivity(c *gin.Context) {
	var in activity.UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, bindError(err))
		return
	}
	row, err := h.Activities.Update(c.Request.Context(), currentUser(c).ID, c.Param("id"), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	respondData(c, http.StatusOK, row)
}

func (h *handlers) deleteActivity(c *gin.Context) {
	if err := h.Activities.Delete(c.Request.Context(), currentUser(c).ID, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	respondMessage(c, http.StatusOK, "Activity deleted successfully")
}

func (h *handlers) selectActivities(c *gin.Context) {
	var in struct {
		ActivityIDs []string `json:"activityIds" binding:"required"`
		Selected    bool     `json:"selected"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, bindError(err))
		return
	}
	n, err := h.Activities.Select(c.Request.Context(), currentUser(c).ID, in.ActivityIDs, in.Selected)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Activities selected successfully", "data": gin.H{"updated": n}})
}

func (h *handlers) addToProject(c *gin.Context) {
	var in struct {
		ActivityIDs []string `json:"activityIds" binding:"required"`
		ProjectID   uint     `json:"projectId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, bindError(err))
		return
	}
	n, err := h.Activities.AddToProject(c.Request.Context(), currentUser(c), in.ActivityIDs, in.ProjectID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Activities added to project successfully", "data": gin.H{"updated": n}})
}

func (h *handlers) userSelectData(c *gin.Context) {
	var r activity.Range
	if err := c.ShouldBindQuery(&r); err != nil {
		h.fail(c, bindError(err))
		return
	}
	res, err := h.Activities.UserSelectData(c.Request.Context(), currentUser(c), c.Param("userId"), r)
	if err != nil {
		h.fail(c, err)
		return
	}
	respondData(c, http.StatusOK, res)
}

// projects

func (h *handlers) createProject(c *gin.Context) {
	var in project.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, bindError(err))
		return
	}
	p, err := h.Projects.Create(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Project created successfully", "data": p})
}

func (h *handlers) listProjects(c *gin.Context) {
	rows, err := h.Projects.List(c.Request.Context(), currentUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	respondData(c, http.StatusOK, rows)
}

func (h *handlers) getProject(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	p, err := h.Projects.Get(c.Request.Context(), currentUser(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	respondData(c, http.StatusOK, p)
}

func (h *handlers) updateProject(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	var in project.UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, bindError(err))
		return
	}
	p, err := h.Projects.Update(c.Request.Context(), id, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Project updated successfully", "data": p})
}

func (h *handlers) deleteProject(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.Projects.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	respondMessage(c, http.StatusOK, "Project deleted successfully")
}

func (h *handlers) addProjectUsers(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	var in project.AddUsersInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, bindError(err))
		return
	}
	p, err := h.Projects.AddUsers(c.Request.Context(), id, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Users added to project successfully", "data": p})
}

func (h *handlers) removeProjectUser(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.Projects.RemoveUser(c.Request.Context(), id, c.Param("userId")); err != nil {
		h.fail(c, err)
		return
	}
	respondMessage(c, http.StatusOK, "Users removed from project successfully")
}

// insights

func (h *handlers) getInsight(c *gin.Context) {
	view, err := h.Insights.Get(c.Request.Context(), currentUser(c).ID, c.Query("date"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handlers) insightHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	views, err := h.Insights.History(c.Request.Context(), currentUser(c).ID, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	respondData(c, http.StatusOK, views)
}

func (h *handlers) generateInsight(c *gin.Context) {
	summary, err := h.Insights.Generate(c.Request.Context(), currentUser(c).ID, c.Query("date"))
	if err != nil {
		h.fail(c, err)
		return
	}
	respondData(c, http.StatusOK, summary)
}

// tags

func (h *handlers) listTags(c *gin.Context) {
	tags, err := h.Tags.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	respondData(c, http.StatusOK, tags)
}

func (h *handlers) createTag(c *gin.Context) {
	var in tagging.CreateTagInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, bindError(err))
		return
	}
	tag, backfilled, err := h.Tags.Create(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	respondData(c, http.StatusCreated, gin.H{"tag": tag, "backfilled": backfilled})
}

// jobs

func (h *handlers) runJob(c *gin.Context) {
	name := c.Param("name")
	res, err := h.Jobs.Run(c.Request.Context(), name)
	switch {
	case errors.Is(err, task.ErrUnknownJob):
		h.fail(c, apperr.NotFound("JOB_NOT_FOUND", "Unknown job "+name))
		return
	case errors.Is(err, task.ErrLLMNotConfigured):
		h.fail(c, apperr.New(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Job requires an OpenAI API key", err))
		return
	case err != nil:
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": name, "data": res})
}
