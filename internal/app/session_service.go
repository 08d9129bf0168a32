package app

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"practice-quiz-service/internal/domain"
)

// QuestionBank loads the question set for a quiz number (from cache or a
// backing store).
type QuestionBank interface {
	GetQuestions(ctx context.Context, quizNumber int) ([]domain.Question, error)
}

// Submitter performs exactly one delivery attempt and classifies the
// outcome. It never returns a Go error for expected failure modes.
type Submitter interface {
	Submit(ctx context.Context, payload domain.ResultPayload) domain.SubmitOutcome
}

const minRegistrationCodeLen = 4

// SessionConfig carries the externally configured quiz feature flags.
type SessionConfig struct {
	Enabled   bool
	TimeLimit time.Duration
}

// SessionService owns the graded quiz attempt lifecycle: start with
// duplicate check, shuffle-once, answer and navigation edits, and the
// single-flight transition into the submitted terminal state.
type SessionService struct {
	store     RecordStore
	bank      QuestionBank
	submitter Submitter
	queue     *RetryQueue
	cfg       SessionConfig
	log       *zap.Logger
	now       func() time.Time
	rnd       *rand.Rand

	// mu serializes the Active -> Completed transition so a race between
	// timer expiry and a manual submit cannot produce two terminal writes
	// or two delivery attempts.
	mu sync.Mutex
}

func NewSessionService(store RecordStore, bank QuestionBank, submitter Submitter, queue *RetryQueue, cfg SessionConfig, log *zap.Logger) *SessionService {
	return NewSessionServiceWithClock(store, bank, submitter, queue, cfg, log, time.Now, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewSessionServiceWithClock allows deterministic timestamps and shuffles in
// tests.
func NewSessionServiceWithClock(store RecordStore, bank QuestionBank, submitter Submitter, queue *RetryQueue, cfg SessionConfig, log *zap.Logger, now func() time.Time, rnd *rand.Rand) *SessionService {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionService{
		store:     store,
		bank:      bank,
		submitter: submitter,
		queue:     queue,
		cfg:       cfg,
		log:       log,
		now:       now,
		rnd:       rnd,
	}
}

// Start begins a new attempt for the registration code, or resumes the
// existing one. A completed attempt for the same (code, quiz) pair blocks a
// new start.
func (s *SessionService) Start(ctx context.Context, registrationCode string, quizNumber int) (*domain.QuizSession, error) {
	if !s.cfg.Enabled {
		return nil, domain.ErrQuizDisabled
	}
	registrationCode = strings.TrimSpace(registrationCode)
	if len(registrationCode) < minRegistrationCodeLen {
		return nil, domain.ErrInvalidRegistrationCode
	}
	if quizNumber < domain.MinQuizNumber || quizNumber > domain.MaxQuizNumber {
		return nil, domain.ErrInvalidQuizNumber
	}

	completed, err := s.store.Scan(ctx, completedKeyPrefix(registrationCode))
	if err != nil {
		return nil, err
	}
	if _, ok := completed[completedKey(registrationCode, quizNumber)]; ok {
		return nil, domain.ErrDuplicateSubmission
	}

	if session, err := s.loadSession(ctx, registrationCode); err == nil {
		if !session.Submitted && session.QuizNumber == quizNumber {
			return s.ensureShuffled(ctx, session)
		}
	}

	questions, err := s.bank.GetQuestions(ctx, quizNumber)
	if err != nil {
		return nil, err
	}
	session := &domain.QuizSession{
		ID:               uuid.NewString(),
		RegistrationCode: registrationCode,
		QuizNumber:       quizNumber,
		Questions:        questions,
		StartTime:        s.now(),
		UserAnswers:      map[int]string{},
		TimeLimitMillis:  s.cfg.TimeLimit.Milliseconds(),
	}
	return s.ensureShuffled(ctx, session)
}

// Resume loads the stored session for re-entry after a reload. A submitted
// session comes back as-is so the caller can show the completion view.
func (s *SessionService) Resume(ctx context.Context, registrationCode string) (*domain.QuizSession, error) {
	session, err := s.loadSession(ctx, registrationCode)
	if err != nil {
		return nil, err
	}
	if session.Submitted {
		return session, nil
	}
	return s.ensureShuffled(ctx, session)
}

// Answer records a free-text answer for a question index. Skipping is
// allowed; earlier answers are never discarded.
func (s *SessionService) Answer(ctx context.Context, registrationCode string, index int, text string) (*domain.QuizSession, error) {
	session, err := s.loadSession(ctx, registrationCode)
	if err != nil {
		return nil, err
	}
	if session.Submitted {
		return nil, domain.ErrSessionCompleted
	}
	if index < 0 || index >= len(session.Questions) {
		return nil, domain.ErrQuestionIndexOutOfRange
	}
	if session.UserAnswers == nil {
		session.UserAnswers = map[int]string{}
	}
	session.UserAnswers[index] = text
	if err := s.saveSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Navigate moves the cursor to another question. Answering the current
// question first is not required.
func (s *SessionService) Navigate(ctx context.Context, registrationCode string, index int) (*domain.QuizSession, error) {
	session, err := s.loadSession(ctx, registrationCode)
	if err != nil {
		return nil, err
	}
	if session.Submitted {
		return nil, domain.ErrSessionCompleted
	}
	if index < 0 || index >= len(session.Questions) {
		return nil, domain.ErrQuestionIndexOutOfRange
	}
	session.CurrentQuestionIndex = index
	if err := s.saveSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Submit finishes the attempt on explicit confirmation. Calling it on an
// already submitted session is a no-op returning the stored outcome.
func (s *SessionService) Submit(ctx context.Context, registrationCode string) (*domain.QuizSession, error) {
	return s.finish(ctx, registrationCode)
}

// AutoSubmit finishes the attempt when the countdown has expired. It is
// safe to call from every tick after expiry: only the first call past the
// deadline performs the transition.
func (s *SessionService) AutoSubmit(ctx context.Context, registrationCode string) (*domain.QuizSession, error) {
	session, err := s.loadSession(ctx, registrationCode)
	if err != nil {
		return nil, err
	}
	if session.Submitted {
		return session, nil
	}
	if !session.Expired(s.now()) {
		return session, nil
	}
	return s.finish(ctx, registrationCode)
}

func (s *SessionService) finish(ctx context.Context, registrationCode string) (*domain.QuizSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.loadSession(ctx, registrationCode)
	if err != nil {
		return nil, err
	}
	if session.Submitted {
		// Second concurrent trigger observes the terminal state and no-ops.
		return session, nil
	}

	end := s.now()
	if deadline := session.StartTime.Add(session.TimeLimit()); end.After(deadline) {
		// Late expiry ticks still record the deadline, not the tick instant.
		end = deadline
	}
	session.EndTime = &end
	session.Submitted = true

	// Persist the terminal state before any delivery side effect so a crash
	// mid-submit cannot lose the completed attempt.
	if err := s.saveSession(ctx, session); err != nil {
		return nil, err
	}
	if err := s.saveCompletedRecord(ctx, session); err != nil {
		return nil, err
	}

	session.Delivery = s.deliver(ctx, s.buildQuizResult(session))
	if err := s.saveSession(ctx, session); err != nil {
		return nil, err
	}
	s.log.Info("quiz session submitted",
		zap.String("session", session.ID),
		zap.Int("quiz", session.QuizNumber),
		zap.String("delivery", string(session.Delivery)),
	)
	return session, nil
}

// RetryDelivery re-attempts delivery for a submitted session. It never
// creates a second terminal record.
func (s *SessionService) RetryDelivery(ctx context.Context, registrationCode string) (*domain.QuizSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.loadSession(ctx, registrationCode)
	if err != nil {
		return nil, err
	}
	if !session.Submitted {
		return nil, domain.ErrSessionNotFound
	}
	if session.Delivery == domain.DeliveryDelivered {
		return session, nil
	}
	if session.Delivery == domain.DeliveryQueued {
		// The failed attempt is already queued; drop it before re-attempting
		// so a transient outcome cannot leave two copies behind.
		if _, err := s.queue.Purge(ctx, matchesQuizSession(session.ID)); err != nil {
			return nil, err
		}
	}
	session.Delivery = s.deliver(ctx, s.buildQuizResult(session))
	if err := s.saveSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// CompletePractice records the outcome of a practice session. Categories
// outside the submission convention are locally complete and never touch the
// network or the queue.
func (s *SessionService) CompletePractice(ctx context.Context, result domain.PracticeResult) (domain.DeliveryState, error) {
	payload := domain.ResultPayload{Kind: domain.KindPractice, Practice: &result}
	if !payload.SubmissionRequired() {
		return "", nil
	}
	return s.deliver(ctx, payload), nil
}

// Clear drops the active session record. Normal completion does not clear;
// only explicit navigation away or reset does.
func (s *SessionService) Clear(ctx context.Context, registrationCode string) error {
	return s.store.Remove(ctx, activeSessionKey(registrationCode))
}

// Clock exposes the service clock for callers driving countdowns.
func (s *SessionService) Clock() func() time.Time {
	return s.now
}

// deliver performs one attempt and maps the outcome to the user-facing
// delivery state. Transient failures end with the payload durably queued;
// nothing on this path can lose a completed result.
func (s *SessionService) deliver(ctx context.Context, payload domain.ResultPayload) domain.DeliveryState {
	outcome := s.submitter.Submit(ctx, payload)
	switch {
	case outcome.Success:
		return domain.DeliveryDelivered
	case outcome.PermanentFailure:
		s.log.Warn("result rejected permanently", zap.String("reason", outcome.ErrorMessage))
		return domain.DeliveryUnauthorized
	default:
		if _, err := s.queue.Enqueue(ctx, payload); err != nil {
			s.log.Error("enqueue pending upload", zap.Error(err))
		}
		return domain.DeliveryQueued
	}
}

func (s *SessionService) buildQuizResult(session *domain.QuizSession) domain.ResultPayload {
	end := session.StartTime
	if session.EndTime != nil {
		end = *session.EndTime
	}
	questions := make([]string, len(session.Questions))
	for i, q := range session.Questions {
		questions[i] = q.Prompt
	}
	return domain.ResultPayload{
		Kind: domain.KindQuiz,
		Quiz: &domain.QuizResult{
			RegistrationCode: session.RegistrationCode,
			SessionID:        session.ID,
			QuizNumber:       session.QuizNumber,
			StartTime:        session.StartTime,
			EndTime:          end,
			TotalTimeSeconds: int64(end.Sub(session.StartTime).Seconds()),
			TotalQuestions:   len(session.Questions),
			AnsweredCount:    session.AnsweredCount(),
			Answers:          session.UserAnswers,
			Questions:        questions,
		},
	}
}

// ensureShuffled performs the one-time Fisher-Yates shuffle on first load.
// Answers are index-keyed, so they are reset at the moment of shuffling, and
// the result is persisted immediately so a reload cannot re-shuffle.
func (s *SessionService) ensureShuffled(ctx context.Context, session *domain.QuizSession) (*domain.QuizSession, error) {
	if session.Shuffled {
		return session, nil
	}
	session.Questions = shuffleQuestions(session.Questions, s.rnd)
	session.UserAnswers = map[int]string{}
	session.CurrentQuestionIndex = 0
	session.Shuffled = true
	if err := s.saveSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func matchesQuizSession(sessionID string) func(domain.PendingUpload) bool {
	return func(u domain.PendingUpload) bool {
		return u.Payload.Kind == domain.KindQuiz && u.Payload.Quiz != nil && u.Payload.Quiz.SessionID == sessionID
	}
}

// shuffleQuestions shuffles a copy, leaving the input untouched.
func shuffleQuestions(questions []domain.Question, rnd *rand.Rand) []domain.Question {
	shuffled := make([]domain.Question, len(questions))
	copy(shuffled, questions)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := rnd.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled
}

func (s *SessionService) loadSession(ctx context.Context, registrationCode string) (*domain.QuizSession, error) {
	raw, ok, err := s.store.Get(ctx, activeSessionKey(registrationCode))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	var session domain.QuizSession
	if err := json.Unmarshal(raw, &session); err != nil {
		// A corrupt record is recoverable: the caller routes back to the
		// start flow.
		s.log.Warn("corrupt session record", zap.String("code", registrationCode), zap.Error(err))
		return nil, domain.ErrSessionNotFound
	}
	return &session, nil
}

func (s *SessionService) saveSession(ctx context.Context, session *domain.QuizSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, activeSessionKey(session.RegistrationCode), raw)
}

func (s *SessionService) saveCompletedRecord(ctx context.Context, session *domain.QuizSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, completedKey(session.RegistrationCode, session.QuizNumber), raw)
}
