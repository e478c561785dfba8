package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/classora/assessment-backend/internal/middleware"
	"github.com/classora/assessment-backend/internal/model"
	"github.com/classora/assessment-backend/internal/response"
	"github.com/classora/assessment-backend/internal/service"
	"github.com/classora/assessment-backend/internal/validator"
)

// GradingHandler handles staff grading overrides, primarily manual
// review of free-text answers after automatic grading.
type GradingHandler struct {
	assessmentService *service.AssessmentService
}

// NewGradingHandler creates a new GradingHandler.
func NewGradingHandler(assessmentService *service.AssessmentService) *GradingHandler {
	return &GradingHandler{assessmentService: assessmentService}
}

// OverrideScore godoc
// PUT /api/v1/grading/exams/:exam_id/students/:student_id/score
// Applies a manual score to a graded attempt, or finalizes a submitted
// attempt whose automatic grading never landed.
func (h *GradingHandler) OverrideScore(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	studentID, err := strconv.ParseInt(c.Param("student_id"), 10, 64)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.ManualScoreRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	assignment, err := h.assessmentService.ManualScore(c.Request.Context(), studentID, examID, *req.Score)
	if err != nil {
		// A conflict here means the attempt is not gradeable yet (still
		// pending or in progress), not a double submission.
		var conflict *service.ConflictStatusError
		if errors.As(err, &conflict) {
			response.FailWithData(c, http.StatusConflict, response.ErrConflict, conflict.Assignment)
			return
		}
		failFromErr(c, err)
		return
	}

	response.Success(c, http.StatusOK, assignment)
}
