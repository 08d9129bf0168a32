package domain

import (
	"strings"
	"time"
)

// PayloadKind discriminates the two result shapes carried by one upload
// mechanism.
type PayloadKind string

const (
	KindQuiz     PayloadKind = "quiz"
	KindPractice PayloadKind = "practice"
)

// ResultPayload is a tagged union of the two submission flows. Exactly one
// of Quiz and Practice is set, matching Kind.
type ResultPayload struct {
	Kind     PayloadKind     `json:"kind"`
	Quiz     *QuizResult     `json:"quiz,omitempty"`
	Practice *PracticeResult `json:"practice,omitempty"`
}

// QuizResult summarizes a completed graded attempt.
type QuizResult struct {
	RegistrationCode string         `json:"registrationCode"`
	SessionID        string         `json:"sessionId"`
	QuizNumber       int            `json:"quizNumber"`
	StartTime        time.Time      `json:"startTime"`
	EndTime          time.Time      `json:"endTime"`
	TotalTimeSeconds int64          `json:"totalTime"`
	TotalQuestions   int            `json:"totalQuestions"`
	AnsweredCount    int            `json:"answeredCount"`
	Answers          map[int]string `json:"answers"`
	Questions        []string       `json:"questions"`
}

// ChallengeAttempt is one entry in a practice session's attempt log.
type ChallengeAttempt struct {
	ChallengeID    string `json:"challengeId"`
	Tries          int    `json:"tries"`
	Completed      bool   `json:"completed"`
	UsedShowAnswer bool   `json:"usedShowAnswer"`
	TimeSeconds    int64  `json:"timeSeconds"`
}

// PracticeResult summarizes a completed practice session.
type PracticeResult struct {
	Category                string             `json:"category"`
	StartTime               time.Time          `json:"startTime"`
	EndTime                 time.Time          `json:"endTime"`
	TotalChallenges         int                `json:"totalChallenges"`
	TotalTimeSeconds        int64              `json:"totalTimeSeconds"`
	TotalQuestionsCompleted int                `json:"totalQuestionsCompleted"`
	TotalDontKnows          int                `json:"totalDontKnows"`
	TotalFirstTrialSuccess  int                `json:"totalFirstTrialSuccess"`
	Attempts                []ChallengeAttempt `json:"attempts"`
}

// Only class sessions report back to the sheet; self-study categories are
// locally complete.
const submissionCategoryPrefix = "class"

// SubmissionRequired reports whether results in the given practice category
// must reach the remote sink. The match is a case-insensitive prefix check
// on the trimmed category name.
func SubmissionRequired(category string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(category)), submissionCategoryPrefix)
}

// SubmissionRequired reports whether this payload must reach the sink. Quiz
// payloads always qualify: their creation is already gated by the graded
// quiz feature flag.
func (p ResultPayload) SubmissionRequired() bool {
	switch p.Kind {
	case KindQuiz:
		return p.Quiz != nil
	case KindPractice:
		return p.Practice != nil && SubmissionRequired(p.Practice.Category)
	}
	return false
}
