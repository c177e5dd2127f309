package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/edulearn-api/internal/dto"
	"github.com/noah-isme/edulearn-api/internal/service"
	appErrors "github.com/noah-isme/edulearn-api/pkg/errors"
	"github.com/noah-isme/edulearn-api/pkg/response"
)

// LectureHandler exposes lecture and generation pipeline endpoints.
type LectureHandler struct {
	service *service.LectureService
}

// NewLectureHandler creates a new handler.
func NewLectureHandler(svc *service.LectureService) *LectureHandler {
	return &LectureHandler{service: svc}
}

// Create godoc
// @Summary Create lecture
// @Description Add a lecture to a course. Generated lectures return immediately in pending.
// @Tags Lectures
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body dto.CreateLectureRequest true "Lecture payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /courses/{id}/lectures [post]
func (h *LectureHandler) Create(c *gin.Context) {
	var req dto.CreateLectureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid lecture payload"))
		return
	}

	lecture, err := h.service.Create(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, lecture)
}

// ListByCourse godoc
// @Summary List course lectures
// @Tags Lectures
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/lectures [get]
func (h *LectureHandler) ListByCourse(c *gin.Context) {
	lectures, err := h.service.ListByCourse(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lectures, nil)
}

// Get godoc
// @Summary Lecture detail
// @Tags Lectures
// @Produce json
// @Param id path string true "Lecture ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /lectures/{id} [get]
func (h *LectureHandler) Get(c *gin.Context) {
	lecture, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lecture, nil)
}

// Update godoc
// @Summary Update lecture
// @Description Content changes on generated lectures queue a fresh generation.
// @Tags Lectures
// @Accept json
// @Produce json
// @Param id path string true "Lecture ID"
// @Param payload body dto.UpdateLectureRequest true "Changes"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /lectures/{id} [put]
func (h *LectureHandler) Update(c *gin.Context) {
	var req dto.UpdateLectureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid lecture payload"))
		return
	}

	lecture, err := h.service.Update(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lecture, nil)
}

// Delete godoc
// @Summary Delete lecture
// @Tags Lectures
// @Param id path string true "Lecture ID"
// @Success 204 "No Content"
// @Router /lectures/{id} [delete]
func (h *LectureHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), claimsFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Publish godoc
// @Summary Publish lecture
// @Description Generated lectures publish only after generation completes.
// @Tags Lectures
// @Produce json
// @Param id path string true "Lecture ID"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /lectures/{id}/publish [post]
func (h *LectureHandler) Publish(c *gin.Context) {
	lecture, err := h.service.Publish(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lecture, nil)
}

// Unpublish godoc
// @Summary Unpublish lecture
// @Tags Lectures
// @Produce json
// @Param id path string true "Lecture ID"
// @Success 200 {object} response.Envelope
// @Router /lectures/{id}/unpublish [post]
func (h *LectureHandler) Unpublish(c *gin.Context) {
	lecture, err := h.service.Unpublish(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lecture, nil)
}

// Reprocess godoc
// @Summary Reprocess failed lecture
// @Description Requeue generation for a failed lecture using its stored text.
// @Tags Lectures
// @Produce json
// @Param id path string true "Lecture ID"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /lectures/{id}/reprocess [post]
func (h *LectureHandler) Reprocess(c *gin.Context) {
	lecture, err := h.service.Reprocess(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lecture, nil)
}

// ProcessingStatus godoc
// @Summary Lecture generation status
// @Tags Lectures
// @Produce json
// @Param id path string true "Lecture ID"
// @Success 200 {object} response.Envelope
// @Router /lectures/{id}/processing-status [get]
func (h *LectureHandler) ProcessingStatus(c *gin.Context) {
	status, err := h.service.ProcessingStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// ProcessingCallback godoc
// @Summary Generation service callback
// @Description Receives status updates pushed by the generation service.
// @Tags Lectures
// @Accept json
// @Produce json
// @Param id path string true "Lecture ID"
// @Param payload body dto.ProcessingCallbackRequest true "Status report"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /lectures/{id}/processing-status [put]
func (h *LectureHandler) ProcessingCallback(c *gin.Context) {
	var req dto.ProcessingCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status payload"))
		return
	}

	if err := h.service.HandleCallback(c.Request.Context(), c.Param("id"), req); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"acknowledged": true}, nil)
}
