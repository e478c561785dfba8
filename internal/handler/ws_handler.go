package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/classora/assessment-backend/internal/middleware"
	"github.com/classora/assessment-backend/internal/service"
	"github.com/classora/assessment-backend/internal/session"
	ws "github.com/classora/assessment-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams the attempt session over a WebSocket: answer
// capture, navigation and submission without per-request HTTP overhead.
type WSHandler struct {
	assessmentService *service.AssessmentService
	log               zerolog.Logger
	upgrader          websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(assessmentService *service.AssessmentService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		assessmentService: assessmentService,
		log:               log.With().Str("component", "ws_handler").Logger(),
		upgrader:          buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/student/exams/:exam_id/stream
// Upgrades to WebSocket for real-time answer capture and submission.
// Requires a live session; clients open one via the REST session
// endpoint first.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exam ID"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	studentID := claims.UserID
	if _, err := h.assessmentService.GetState(studentID, examID); err != nil {
		ws.WriteError(conn, "no active session for this exam")
		return
	}

	wsLog := h.log.With().
		Int64("student_id", studentID).
		Str("exam_id", examID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	for {
		var msg ws.Request
		if err := ws.ReadRequest(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		switch msg.Action {
		case ws.ActionAnswer:
			h.handleAnswer(conn, studentID, examID, &msg)
		case ws.ActionNavigate:
			h.handleNavigate(conn, studentID, examID, &msg)
		case ws.ActionSubmit:
			if h.handleSubmit(conn, wsLog, studentID, examID) {
				return // attempt finished, stream done
			}
		case ws.ActionState:
			h.handleState(conn, studentID, examID)
		case ws.ActionPing:
			ws.WriteEvent(conn, ws.EventPong, nil)
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			ws.WriteError(conn, "unknown action: "+string(msg.Action))
		}
	}
}

func (h *WSHandler) handleAnswer(conn *websocket.Conn, studentID int64, examID uuid.UUID, msg *ws.Request) {
	if msg.QuestionID == "" || msg.Value == "" {
		ws.WriteError(conn, "question_id and value are required")
		return
	}

	// Well-formed UUID check prevents Redis key injection via question_id.
	questionID, err := uuid.Parse(msg.QuestionID)
	if err != nil {
		ws.WriteError(conn, "invalid question_id format")
		return
	}

	if err := h.assessmentService.Answer(context.Background(), studentID, examID, questionID, msg.Value); err != nil {
		ws.WriteError(conn, wsErrMessage(err))
		return
	}
	ws.WriteEvent(conn, ws.EventSaved, map[string]string{"question_id": msg.QuestionID})
}

func (h *WSHandler) handleNavigate(conn *websocket.Conn, studentID int64, examID uuid.UUID, msg *ws.Request) {
	if msg.Index == nil {
		ws.WriteError(conn, "index is required")
		return
	}
	if err := h.assessmentService.Navigate(studentID, examID, *msg.Index); err != nil {
		ws.WriteError(conn, wsErrMessage(err))
		return
	}
	ws.WriteEvent(conn, ws.EventState, map[string]int{"current_index": *msg.Index})
}

// handleSubmit finalizes the attempt. Returns true when the stream
// should close because the attempt reached a terminal state.
func (h *WSHandler) handleSubmit(conn *websocket.Conn, wsLog zerolog.Logger, studentID int64, examID uuid.UUID) bool {
	breakdown, err := h.assessmentService.Submit(context.Background(), studentID, examID)
	if err != nil {
		var conflict *service.ConflictStatusError
		if errors.As(err, &conflict) {
			ws.WriteEvent(conn, ws.EventGraded, conflict.Assignment)
			return true
		}
		wsLog.Warn().Err(err).Msg("Submission over WebSocket failed")
		ws.WriteError(conn, wsErrMessage(err))
		return false
	}

	wsLog.Info().Float64("score", breakdown.Percentage).Msg("Attempt submitted over WebSocket")
	ws.WriteEvent(conn, ws.EventGraded, breakdown)
	return true
}

func (h *WSHandler) handleState(conn *websocket.Conn, studentID int64, examID uuid.UUID) {
	view, err := h.assessmentService.GetState(studentID, examID)
	if err != nil {
		ws.WriteError(conn, wsErrMessage(err))
		return
	}
	ws.WriteEvent(conn, ws.EventState, view)
}

// wsErrMessage keeps WebSocket errors terse and internal-detail free.
func wsErrMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrNoActiveSession),
		errors.Is(err, service.ErrAttemptExpired),
		errors.Is(err, session.ErrInvalidState),
		errors.Is(err, session.ErrUnknownQuestion),
		errors.Is(err, session.ErrIndexOutOfRange):
		return err.Error()
	default:
		return "internal error"
	}
}
