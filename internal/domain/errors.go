package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no active session record exists or
	// the stored record cannot be decoded. Callers treat this as a prompt to
	// restart the quiz selection flow, not as a crash.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrSessionCompleted is returned when a mutation targets a session that
	// already reached its terminal state.
	ErrSessionCompleted = errors.New("quiz session already submitted")
	// ErrDuplicateSubmission blocks a new session when a completed record
	// exists for the same registration code and quiz number.
	ErrDuplicateSubmission = errors.New("quiz already submitted for this registration code")
	// ErrQuizDisabled is returned when the graded quiz feature is switched
	// off by configuration.
	ErrQuizDisabled = errors.New("graded quiz is not available")
	// ErrInvalidRegistrationCode indicates a missing or too-short code.
	ErrInvalidRegistrationCode = errors.New("invalid registration code")
	// ErrInvalidQuizNumber indicates a quiz number outside 1-4.
	ErrInvalidQuizNumber = errors.New("quiz number out of range")
	// ErrQuestionIndexOutOfRange indicates navigation or an answer targeting
	// a question index the session does not have.
	ErrQuestionIndexOutOfRange = errors.New("question index out of range")
	// ErrQuestionSetNotFound indicates the question content for a quiz
	// number could not be loaded.
	ErrQuestionSetNotFound = errors.New("question set not found")
)
