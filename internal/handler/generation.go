package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/shattavibe/api/internal/middleware"
	"github.com/shattavibe/api/internal/model"
	"github.com/shattavibe/api/internal/service"
	"github.com/shattavibe/api/pkg/response"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// GenerationListResponse is the library of the caller.
type GenerationListResponse struct {
	Generations []model.GenerationJob `json:"generations"`
	Remaining   model.Remaining       `json:"remainingFreeGenerations"`
}

// QuotaResponse reports the caller's free generation allowance.
type QuotaResponse struct {
	Remaining model.Remaining `json:"remainingFreeGenerations"`
	FreeLimit int             `json:"freeLimit"`
}

// GenerationHandler serves read access to the caller's partition.
type GenerationHandler struct {
	library *service.LibraryService
	quota   *service.QuotaTracker
}

func NewGenerationHandler(library *service.LibraryService, quota *service.QuotaTracker) *GenerationHandler {
	return &GenerationHandler{
		library: library,
		quota:   quota,
	}
}

// List handles GET /api/generations?limit=N
func (h *GenerationHandler) List(c *fiber.Ctx) error {
	id := middleware.GetIdentity(c)

	limit := c.QueryInt("limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		return response.ValidationError(c, "limit must be between 1 and 100", nil)
	}

	jobs, err := h.library.List(c.UserContext(), id, limit)
	if err != nil {
		return response.FromError(c, err)
	}
	if jobs == nil {
		jobs = []model.GenerationJob{}
	}

	// A failed recount answers zero, the restrictive value.
	remaining, _ := h.quota.Remaining(c.UserContext(), id)

	return response.OK(c, GenerationListResponse{
		Generations: jobs,
		Remaining:   remaining,
	})
}

// Get handles GET /api/generations/:taskId
func (h *GenerationHandler) Get(c *fiber.Ctx) error {
	taskID := c.Params("taskId")
	if taskID == "" {
		return response.ValidationError(c, "Task ID is required", nil)
	}

	job, err := h.library.Get(c.UserContext(), middleware.GetIdentity(c), taskID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, job)
}

// Quota handles GET /api/quota
func (h *GenerationHandler) Quota(c *fiber.Ctx) error {
	remaining, err := h.quota.Remaining(c.UserContext(), middleware.GetIdentity(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, QuotaResponse{
		Remaining: remaining,
		FreeLimit: h.quota.FreeLimit(),
	})
}
