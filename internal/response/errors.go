package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrStaffAccessOnly   ErrCode = "STAFF_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Assessment flow ───────────────────────────────────────────────
	ErrExamNotFound       ErrCode = "EXAM_NOT_FOUND"
	ErrExamNotAvailable   ErrCode = "EXAM_NOT_AVAILABLE"
	ErrAlreadySubmitted   ErrCode = "ALREADY_SUBMITTED"
	ErrNoActiveSession    ErrCode = "NO_ACTIVE_SESSION"
	ErrSessionStateLocked ErrCode = "SESSION_STATE_LOCKED"
	ErrAttemptExpired     ErrCode = "ATTEMPT_EXPIRED"
	ErrQuestionUnknown    ErrCode = "QUESTION_UNKNOWN"
	ErrIndexOutOfRange    ErrCode = "INDEX_OUT_OF_RANGE"
	ErrResultPending      ErrCode = "RESULT_PENDING"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid."
	case ErrTokenExpired:
		return "The authentication token has expired."

	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrStudentAccessOnly:
		return "This resource is restricted to students."
	case ErrStaffAccessOnly:
		return "This resource is restricted to staff."

	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "The ID format is invalid."
	case ErrInvalidPayload:
		return "The request payload is invalid."

	case ErrNotFound:
		return "The resource was not found."
	case ErrConflict:
		return "The resource state changed; reload and try again."

	case ErrExamNotFound:
		return "This exam does not exist or is not assigned to you."
	case ErrExamNotAvailable:
		return "This exam is not available right now."
	case ErrAlreadySubmitted:
		return "This exam has already been submitted. See your result instead."
	case ErrNoActiveSession:
		return "There is no active session for this exam."
	case ErrSessionStateLocked:
		return "This action is not allowed in the current session state."
	case ErrAttemptExpired:
		return "Time is up. The attempt was submitted automatically."
	case ErrQuestionUnknown:
		return "The question is not part of this exam."
	case ErrIndexOutOfRange:
		return "The question index is out of range."
	case ErrResultPending:
		return "The exam has ended; the result is still being processed."

	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
