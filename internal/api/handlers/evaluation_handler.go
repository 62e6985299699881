package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tender-engine/backend/internal/runs"
	"github.com/tender-engine/backend/internal/storage/models"
	"github.com/tender-engine/backend/pkg/logger"
)

type EvaluationHandler struct {
	service *runs.Service
}

func NewEvaluationHandler(service *runs.Service) *EvaluationHandler {
	return &EvaluationHandler{
		service: service,
	}
}

func (h *EvaluationHandler) StartEvaluation(c *fiber.Ctx) error {
	var req struct {
		RequirementURLs []string `json:"requirement_urls"`
		CandidateURLs   []string `json:"candidate_urls"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	run, err := h.service.StartRun(runs.RunRequest{
		RequirementURLs: req.RequirementURLs,
		CandidateURLs:   req.CandidateURLs,
	})
	if err != nil {
		if isValidationError(err) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		logger.Error("failed to start evaluation run", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to start evaluation run",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"run_id":     run.ID,
		"status":     run.Status,
		"created_at": run.CreatedAt.Unix(),
	})
}

func (h *EvaluationHandler) GetEvaluation(c *fiber.Ctx) error {
	id := c.Params("id")

	detail, err := h.service.GetRun(id)
	if err != nil {
		logger.Error("failed to load run", zap.String("run_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load run",
		})
	}
	if detail == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "run not found",
		})
	}

	return c.JSON(runDetailResponse(detail))
}

func (h *EvaluationHandler) ListEvaluations(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)

	list, err := h.service.ListRuns(limit)
	if err != nil {
		logger.Error("failed to list runs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list runs",
		})
	}

	items := make([]fiber.Map, 0, len(list))
	for _, run := range list {
		items = append(items, runSummary(run))
	}

	return c.JSON(fiber.Map{
		"runs": items,
	})
}

func runSummary(run models.Run) fiber.Map {
	m := fiber.Map{
		"run_id":            run.ID,
		"status":            run.Status,
		"requirement_urls":  run.RequirementURLs,
		"candidate_urls":    run.CandidateURLs,
		"requirement_count": run.RequirementCount,
		"created_at":        run.CreatedAt.Unix(),
	}
	if run.Error != "" {
		m["error"] = run.Error
	}
	if run.CompletedAt != nil {
		m["completed_at"] = run.CompletedAt.Unix()
	}
	return m
}

func runDetailResponse(detail *runs.RunDetail) fiber.Map {
	resp := runSummary(detail.Run)
	if detail.Run.Requirements != nil {
		resp["requirements"] = detail.Run.Requirements
	}

	candidates := make([]fiber.Map, 0, len(detail.Candidates))
	for _, cand := range detail.Candidates {
		findings := make([]fiber.Map, 0, len(cand.Findings))
		for _, f := range cand.Findings {
			findings = append(findings, fiber.Map{
				"category":    f.Category,
				"requirement": f.Requirement,
				"status":      f.Status,
				"issue":       f.Issue,
				"risk":        f.Risk,
				"note":        f.Note,
				"degraded":    f.Degraded,
			})
		}

		candidates = append(candidates, fiber.Map{
			"id":         cand.Result.ID,
			"name":       cand.Result.Name,
			"state":      cand.Result.State,
			"status":     cand.Result.Status,
			"icon":       cand.Result.Icon,
			"confidence": cand.Result.Confidence,
			"counts": fiber.Map{
				"green":  cand.Result.GreenCount,
				"yellow": cand.Result.YellowCount,
				"red":    cand.Result.RedCount,
				"total":  cand.Result.TotalCount,
			},
			"truncated":      cand.Result.Truncated,
			"degraded_units": cand.Result.DegradedUnits,
			"files":          cand.Result.Files,
			"summary":        cand.Result.Summary,
			"error":          cand.Result.Error,
			"findings":       findings,
		})
	}
	resp["candidates"] = candidates

	return resp
}

func isValidationError(err error) bool {
	return errors.Is(err, runs.ErrNoRequirementURLs) ||
		errors.Is(err, runs.ErrNoCandidateURLs) ||
		errors.Is(err, runs.ErrTooManyCandidates)
}
