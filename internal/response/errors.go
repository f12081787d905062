package response

// ErrCode is the `error` string the API returns in error bodies.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "invalid_credentials"
	ErrTokenRequired      ErrCode = "token_required"
	ErrTokenInvalid       ErrCode = "token_invalid"

	// ─── Test entry (403) ──────────────────────────────────────────────
	ErrAlreadyParticipating ErrCode = "already_participating"
	ErrCompleted            ErrCode = "completed"
	ErrNotStarted           ErrCode = "not_started"
	ErrEnded                ErrCode = "ended"
	ErrForbidden            ErrCode = "forbidden"
	ErrDeviceMismatch       ErrCode = "device_mismatch"

	// ─── Session ───────────────────────────────────────────────────────
	ErrSessionFinished ErrCode = "session_finished"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation ErrCode = "validation_error"
	ErrInvalidID  ErrCode = "invalid_id"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "not_found"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal    ErrCode = "internal_error"
	ErrRateLimited ErrCode = "rate_limited"

	// ─── Client-side only ──────────────────────────────────────────────
	ErrNetwork           ErrCode = "network_error"
	ErrUnknown           ErrCode = "unknown_error"
	ErrAnswerNotSaved    ErrCode = "answer_not_saved"
	ErrAnswerRejected    ErrCode = "answer_rejected"
	ErrFinishUnreachable ErrCode = "finish_unreachable"
	ErrFinishRejected    ErrCode = "finish_rejected"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Username or password is incorrect."
	case ErrTokenRequired:
		return "Please sign in to continue."
	case ErrTokenInvalid:
		return "Your sign-in has expired. Please sign in again."

	// ─── Test entry ────────────────────────────────────────────────────
	case ErrAlreadyParticipating:
		return "You are already participating in this test. Re-entering an open test is not allowed."
	case ErrCompleted:
		return "You have already completed this test. Opening your results."
	case ErrNotStarted:
		return "This test has not started yet. Please try again later."
	case ErrEnded:
		return "This test has ended and can no longer be taken."
	case ErrForbidden:
		return "You do not have access to this test."
	case ErrDeviceMismatch:
		return "This test was started on another device. Continue on the device you started with."

	// ─── Session ───────────────────────────────────────────────────────
	case ErrSessionFinished:
		return "This test session has already been submitted."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid identifier."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "The requested item was not found."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."
	case ErrRateLimited:
		return "Too many attempts. Please wait a minute and try again."

	// ─── Client-side ───────────────────────────────────────────────────
	case ErrNetwork:
		return "Could not reach the server. Check your connection and try again."
	case ErrAnswerNotSaved:
		return "Your answer was not saved on the server. Use retry to send it again."
	case ErrAnswerRejected:
		return "The server did not accept this answer. Change it and answer again."
	case ErrFinishUnreachable:
		return "Could not reach the server to finish the test. Your saved answers are safe; try finishing again."
	case ErrFinishRejected:
		return "The server did not accept the submission. Try again, or contact your instructor if it keeps failing."
	default:
		return "An unexpected error occurred."
	}
}
