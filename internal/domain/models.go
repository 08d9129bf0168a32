package domain

import "time"

// Quiz numbers select the target result sheet.
const (
	MinQuizNumber = 1
	MaxQuizNumber = 4
)

// MaxUploadAttempts is the delivery ceiling; exhausted uploads are kept but
// no longer retried.
const MaxUploadAttempts = 5

// Question is a single free-text question presented during a graded quiz.
type Question struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
}

// DeliveryState is the participant-facing status of a completed session's
// result.
type DeliveryState string

const (
	DeliveryDelivered    DeliveryState = "delivered"
	DeliveryQueued       DeliveryState = "queued"
	DeliveryUnauthorized DeliveryState = "unauthorized"
)

// QuizSession is one timed graded attempt. It is persisted as a whole after
// every mutation so a reload resumes exactly where the participant left off.
type QuizSession struct {
	ID                   string         `json:"id"`
	RegistrationCode     string         `json:"registrationCode"`
	QuizNumber           int            `json:"quizNumber"`
	Questions            []Question     `json:"questions"`
	StartTime            time.Time      `json:"startTime"`
	EndTime              *time.Time     `json:"endTime,omitempty"`
	UserAnswers          map[int]string `json:"userAnswers"`
	CurrentQuestionIndex int            `json:"currentQuestionIndex"`
	TimeLimitMillis      int64          `json:"timeLimit"`
	Submitted            bool           `json:"submitted"`
	Shuffled             bool           `json:"shuffled"`
	Delivery             DeliveryState  `json:"delivery,omitempty"`
}

// TimeLimit returns the attempt's fixed time limit.
func (s *QuizSession) TimeLimit() time.Duration {
	return time.Duration(s.TimeLimitMillis) * time.Millisecond
}

// Remaining computes the time left against the wall clock rather than
// decrementing a counter, so backgrounding or reloading the page cannot
// desynchronize the deadline.
func (s *QuizSession) Remaining(now time.Time) time.Duration {
	left := s.TimeLimit() - now.Sub(s.StartTime)
	if left < 0 {
		return 0
	}
	return left
}

// Expired reports whether the time limit has elapsed.
func (s *QuizSession) Expired(now time.Time) bool {
	return s.Remaining(now) == 0
}

// AnsweredCount counts questions with a non-empty answer. Skipped questions
// do not count.
func (s *QuizSession) AnsweredCount() int {
	n := 0
	for _, a := range s.UserAnswers {
		if a != "" {
			n++
		}
	}
	return n
}

// UploadStatus tracks a pending upload's retry state. There is no succeeded
// status: success removes the record.
type UploadStatus string

const (
	UploadPending UploadStatus = "PENDING"
	UploadFailed  UploadStatus = "FAILED"
)

// PendingUpload is a result payload that has not yet reached the sink.
type PendingUpload struct {
	ID          string        `json:"id"`
	Payload     ResultPayload `json:"payload"`
	Attempts    int           `json:"attempts"`
	LastAttempt time.Time     `json:"lastAttempt,omitempty"`
	Status      UploadStatus  `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// Exhausted reports whether the upload has hit the retry ceiling. Exhausted
// records are skipped, not deleted, so an operator can still inspect them.
func (u PendingUpload) Exhausted() bool {
	return u.Attempts >= MaxUploadAttempts
}

// SubmitOutcome is the uniform result of one delivery attempt. Expected
// failure modes never surface as Go errors; they are classified here.
type SubmitOutcome struct {
	Success          bool
	PermanentFailure bool
	ErrorMessage     string
}
