// Package server exposes the REST surface: audience CRUD and collection
// status. Handlers translate HTTP payloads to storage/collection calls and
// map the error taxonomy onto status codes; no business logic lives here.
package server

import (
	"net/http"
	"time"

	"github.com/audiencehub/audiencehub/collection"
	"github.com/audiencehub/audiencehub/model"
	"github.com/audiencehub/audiencehub/storage"
	Logger "github.com/audiencehub/audiencehub/utils/log"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

// CycleTrigger kicks off an immediate collection cycle for an audience.
// Implemented by collection.Scheduler.
type CycleTrigger interface {
	Trigger(audienceID string, reason string) error
}

type Handler struct {
	audiences *storage.AudienceStore
	tracker   collection.Tracker
	trigger   CycleTrigger
}

func NewHandler(audiences *storage.AudienceStore, tracker collection.Tracker, trigger CycleTrigger) *Handler {
	return &Handler{audiences: audiences, tracker: tracker, trigger: trigger}
}

func (h *Handler) Register(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/audiences", h.createAudience)
	api.GET("/audiences", h.listAudiences)
	api.GET("/audiences/:id", h.getAudience)
	api.PATCH("/audiences/:id", h.updateAudience)
	api.DELETE("/audiences/:id", h.deleteAudience)
	api.GET("/audiences/:id/status", h.collectionStatus)
}

type createAudienceRequest struct {
	Name           string   `json:"name" binding:"required"`
	Description    string   `json:"description"`
	SourceNames    []string `json:"source_names" binding:"required"`
	Timeframe      string   `json:"timeframe"`
	PostsPerSource int      `json:"posts_per_source"`
}

type updateAudienceRequest struct {
	Name           *string  `json:"name"`
	Description    *string  `json:"description"`
	SourceNames    []string `json:"source_names"`
	Timeframe      *string  `json:"timeframe"`
	PostsPerSource *int     `json:"posts_per_source"`
}

type audienceResponse struct {
	Id                 string    `json:"id"`
	Name               string    `json:"name"`
	Description        string    `json:"description"`
	Timeframe          string    `json:"timeframe"`
	PostsPerSource     int       `json:"posts_per_source"`
	IsCollecting       bool      `json:"is_collecting"`
	CollectionProgress int       `json:"collection_progress"`
	PostCount          int64     `json:"post_count"`
	SourceNames        []string  `json:"source_names"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type statusResponse struct {
	IsCollecting bool   `json:"is_collecting"`
	Progress     int    `json:"progress"`
	Outcome      string `json:"outcome,omitempty"`
}

func (h *Handler) createAudience(c *gin.Context) {
	var req createAudienceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	details, err := h.audiences.Create(storage.AudienceInput{
		Name:           req.Name,
		Description:    req.Description,
		Timeframe:      model.Timeframe(req.Timeframe),
		PostsPerSource: req.PostsPerSource,
		SourceNames:    req.SourceNames,
	})
	if err != nil {
		abortWithStorageError(c, err)
		return
	}

	// Show the audience as collecting only once the job is actually on the
	// bus; a failed publish must not leave a phantom "collecting" status that
	// no cycle will ever overwrite.
	if err := h.trigger.Trigger(details.Id, collection.ReasonInitial); err != nil {
		Logger.Log.Errorf("failed to trigger initial collection for audience %s: %v", details.Id, err)
	} else {
		h.tracker.Set(details.Id, collection.Status{IsCollecting: true, Progress: 0})
	}

	c.JSON(http.StatusOK, toAudienceResponse(details))
}

func (h *Handler) listAudiences(c *gin.Context) {
	all, err := h.audiences.List()
	if err != nil {
		abortWithStorageError(c, err)
		return
	}
	res := make([]audienceResponse, 0, len(all))
	for _, details := range all {
		res = append(res, toAudienceResponse(details))
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) getAudience(c *gin.Context) {
	details, err := h.audiences.Get(c.Param("id"))
	if err != nil {
		abortWithStorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAudienceResponse(details))
}

func (h *Handler) updateAudience(c *gin.Context) {
	var req updateAudienceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	update := storage.AudienceUpdate{
		Name:           req.Name,
		Description:    req.Description,
		PostsPerSource: req.PostsPerSource,
		SourceNames:    req.SourceNames,
	}
	if req.Timeframe != nil {
		timeframe := model.Timeframe(*req.Timeframe)
		update.Timeframe = &timeframe
	}

	details, err := h.audiences.Update(c.Param("id"), update)
	if err != nil {
		abortWithStorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAudienceResponse(details))
}

func (h *Handler) deleteAudience(c *gin.Context) {
	audienceID := c.Param("id")
	if err := h.audiences.Delete(audienceID); err != nil {
		abortWithStorageError(c, err)
		return
	}
	h.tracker.Delete(audienceID)
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "audience deleted"})
}

func (h *Handler) collectionStatus(c *gin.Context) {
	audienceID := c.Param("id")
	if status, ok := h.tracker.Get(audienceID); ok {
		c.JSON(http.StatusOK, statusResponse{
			IsCollecting: status.IsCollecting,
			Progress:     status.Progress,
			Outcome:      string(status.Outcome),
		})
		return
	}

	// Tracker state is lost on restart; fall back to the durable mirror.
	details, err := h.audiences.Get(audienceID)
	if err != nil {
		abortWithStorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse{
		IsCollecting: details.IsCollecting,
		Progress:     details.CollectionProgress,
	})
}

func abortWithStorageError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrAudienceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "audience not found"})
	case errors.Is(err, storage.ErrInvalidAudience):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		Logger.Log.Errorf("request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func toAudienceResponse(details *storage.AudienceDetails) audienceResponse {
	return audienceResponse{
		Id:                 details.Id,
		Name:               details.Name,
		Description:        details.Description,
		Timeframe:          string(details.Timeframe),
		PostsPerSource:     details.PostsPerSource,
		IsCollecting:       details.IsCollecting,
		CollectionProgress: details.CollectionProgress,
		PostCount:          details.PostCount,
		SourceNames:        details.SourceNames,
		CreatedAt:          details.CreatedAt,
		UpdatedAt:          details.UpdatedAt,
	}
}
