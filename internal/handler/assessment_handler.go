package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/classora/assessment-backend/internal/middleware"
	"github.com/classora/assessment-backend/internal/model"
	"github.com/classora/assessment-backend/internal/response"
	"github.com/classora/assessment-backend/internal/service"
	"github.com/classora/assessment-backend/internal/session"
	"github.com/classora/assessment-backend/internal/validator"
)

// AssessmentHandler handles the student-facing attempt lifecycle.
type AssessmentHandler struct {
	catalogService    *service.CatalogService
	assessmentService *service.AssessmentService
}

// NewAssessmentHandler creates a new AssessmentHandler.
func NewAssessmentHandler(
	catalogService *service.CatalogService,
	assessmentService *service.AssessmentService,
) *AssessmentHandler {
	return &AssessmentHandler{
		catalogService:    catalogService,
		assessmentService: assessmentService,
	}
}

// GetAssignments godoc
// GET /api/v1/student/assignments
// Returns the student's exam assignments partitioned into upcoming
// (pending, in_progress) and past (submitted, graded).
func (h *AssessmentHandler) GetAssignments(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assignments, err := h.catalogService.ListAssignments(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	upcoming := []model.AssignmentOverview{}
	past := []model.AssignmentOverview{}
	for _, a := range assignments {
		if a.Status.IsTerminal() {
			past = append(past, a)
		} else {
			upcoming = append(upcoming, a)
		}
	}

	response.Success(c, http.StatusOK, gin.H{"upcoming": upcoming, "past": past})
}

// GetPaper godoc
// GET /api/v1/student/exams/:exam_id/paper
// Returns the answer-stripped exam snapshot. Scoped by assignment so a
// student cannot download an exam they were not assigned.
func (h *AssessmentHandler) GetPaper(c *gin.Context) {
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

	paper, err := h.catalogService.FetchExam(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		failFromErr(c, err)
		return
	}

	response.Success(c, http.StatusOK, paper)
}

// StartSession godoc
// POST /api/v1/student/exams/:exam_id/session
// Opens or resumes an attempt session. A pending assignment moves to
// in_progress; an in_progress one resumes against the original deadline.
func (h *AssessmentHandler) StartSession(c *gin.Context) {
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

	view, err := h.assessmentService.StartSession(c.Request.Context(), claims.UserID, examID)
	if err != nil {
		failFromErr(c, err)
		return
	}

	response.Success(c, http.StatusOK, view)
}

// GetState godoc
// GET /api/v1/student/exams/:exam_id/session
// Returns the live session snapshot for a reconnecting client.
func (h *AssessmentHandler) GetState(c *gin.Context) {
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

	view, err := h.assessmentService.GetState(claims.UserID, examID)
	if err != nil {
		failFromErr(c, err)
		return
	}

	response.Success(c, http.StatusOK, view)
}

// Answer godoc
// POST /api/v1/student/exams/:exam_id/answers
// Captures a single answer. Overwrites are last-write-wins.
func (h *AssessmentHandler) Answer(c *gin.Context) {
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

	var req model.AnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	questionID, err := uuid.Parse(req.QuestionID)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.assessmentService.Answer(c.Request.Context(), claims.UserID, examID, questionID, req.Value); err != nil {
		failFromErr(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "saved"})
}

// Navigate godoc
// POST /api/v1/student/exams/:exam_id/navigate
// Moves the session cursor to a 0-based question index.
func (h *AssessmentHandler) Navigate(c *gin.Context) {
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

	var req model.NavigateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.assessmentService.Navigate(claims.UserID, examID, *req.Index); err != nil {
		failFromErr(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"index": *req.Index})
}

// Submit godoc
// POST /api/v1/student/exams/:exam_id/submit
// Finalizes the attempt and returns the grading breakdown. Safe to
// retry: a completed session returns its stored result.
func (h *AssessmentHandler) Submit(c *gin.Context) {
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

	breakdown, err := h.assessmentService.Submit(c.Request.Context(), claims.UserID, examID)
	if err != nil {
		failFromErr(c, err)
		return
	}

	response.Success(c, http.StatusOK, breakdown)
}

// Abandon godoc
// DELETE /api/v1/student/exams/:exam_id/session
// Tears down the live session without touching the stored status. The
// attempt stays resumable until its deadline.
func (h *AssessmentHandler) Abandon(c *gin.Context) {
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

	h.assessmentService.Abandon(claims.UserID, examID)
	response.Success(c, http.StatusOK, gin.H{"status": "closed"})
}

// GetResult godoc
// GET /api/v1/student/exams/:exam_id/result
// Returns the stored assignment once the attempt is terminal.
func (h *AssessmentHandler) GetResult(c *gin.Context) {
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

	assignment, err := h.assessmentService.Result(c.Request.Context(), claims.UserID, examID)
	if err != nil {
		failFromErr(c, err)
		return
	}

	response.Success(c, http.StatusOK, assignment)
}

// failFromErr maps domain errors to response codes. A status conflict
// carries the authoritative assignment so the client can render the
// remote state instead of its stale local view.
func failFromErr(c *gin.Context, err error) {
	var conflict *service.ConflictStatusError
	switch {
	case errors.As(err, &conflict):
		response.FailWithData(c, http.StatusConflict, response.ErrAlreadySubmitted, conflict.Assignment)
	case errors.Is(err, service.ErrExamNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrExamNotFound)
	case errors.Is(err, service.ErrExamNotAvailable):
		response.Fail(c, http.StatusNotFound, response.ErrExamNotAvailable)
	case errors.Is(err, service.ErrNoActiveSession):
		response.Fail(c, http.StatusNotFound, response.ErrNoActiveSession)
	case errors.Is(err, service.ErrAttemptExpired):
		response.Fail(c, http.StatusGone, response.ErrAttemptExpired)
	case errors.Is(err, service.ErrResultPending):
		response.Fail(c, http.StatusConflict, response.ErrResultPending)
	case errors.Is(err, session.ErrInvalidState):
		response.Fail(c, http.StatusConflict, response.ErrSessionStateLocked)
	case errors.Is(err, session.ErrUnknownQuestion):
		response.Fail(c, http.StatusBadRequest, response.ErrQuestionUnknown)
	case errors.Is(err, session.ErrIndexOutOfRange):
		response.Fail(c, http.StatusBadRequest, response.ErrIndexOutOfRange)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
