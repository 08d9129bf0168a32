package app_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"practice-quiz-service/internal/app"
	"practice-quiz-service/internal/domain"
	"practice-quiz-service/internal/infra/memory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeSubmitter struct {
	mu       sync.Mutex
	outcomes []domain.SubmitOutcome
	calls    int
	payloads []domain.ResultPayload
}

func (f *fakeSubmitter) Submit(_ context.Context, payload domain.ResultPayload) domain.SubmitOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.payloads = append(f.payloads, payload)
	if len(f.outcomes) == 0 {
		return domain.SubmitOutcome{Success: true}
	}
	out := f.outcomes[0]
	f.outcomes = f.outcomes[1:]
	return out
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var transientOutcome = domain.SubmitOutcome{ErrorMessage: "sink returned status 500"}
var permanentOutcome = domain.SubmitOutcome{PermanentFailure: true, ErrorMessage: "registration code not recognized"}

type testEnv struct {
	service   *app.SessionService
	queue     *app.RetryQueue
	store     *memory.RecordStore
	submitter *fakeSubmitter
	clock     *fakeClock
}

func newTestEnv(t *testing.T, cfg app.SessionConfig) *testEnv {
	t.Helper()
	store := memory.NewRecordStore()
	clock := newFakeClock()
	submitter := &fakeSubmitter{}
	queue := app.NewRetryQueueWithClock(store, submitter, nil, clock.Now)
	bank := memory.NewQuestionBank(memory.NewStaticQuestionLoader(map[int][]domain.Question{
		1: {
			{ID: "q1", Prompt: "Reverse a string."},
			{ID: "q2", Prompt: "Explain slices vs arrays."},
			{ID: "q3", Prompt: "Implement FizzBuzz."},
		},
	}), 5*time.Minute)
	service := app.NewSessionServiceWithClock(store, bank, submitter, queue, cfg, nil, clock.Now, rand.New(rand.NewSource(1)))
	return &testEnv{service: service, queue: queue, store: store, submitter: submitter, clock: clock}
}

func defaultConfig() app.SessionConfig {
	return app.SessionConfig{Enabled: true, TimeLimit: 10 * time.Minute}
}

func TestStartValidation(t *testing.T) {
	ctx := context.Background()

	env := newTestEnv(t, app.SessionConfig{Enabled: false, TimeLimit: 10 * time.Minute})
	if _, err := env.service.Start(ctx, "abcd", 1); !errors.Is(err, domain.ErrQuizDisabled) {
		t.Fatalf("expected quiz disabled, got %v", err)
	}

	env = newTestEnv(t, defaultConfig())
	if _, err := env.service.Start(ctx, "ab", 1); !errors.Is(err, domain.ErrInvalidRegistrationCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}
	if _, err := env.service.Start(ctx, "abcd", 5); !errors.Is(err, domain.ErrInvalidQuizNumber) {
		t.Fatalf("expected invalid quiz number, got %v", err)
	}
}

func TestStartShufflesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, defaultConfig())

	session, err := env.service.Start(ctx, "abcd", 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !session.Shuffled {
		t.Fatalf("expected shuffled session")
	}
	if len(session.UserAnswers) != 0 {
		t.Fatalf("expected empty answers after shuffle, got %v", session.UserAnswers)
	}
	if session.CurrentQuestionIndex != 0 {
		t.Fatalf("expected index reset, got %d", session.CurrentQuestionIndex)
	}
	order := questionIDs(session)

	// A reload must not re-shuffle.
	resumed, err := env.service.Resume(ctx, "abcd")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got := questionIDs(resumed); got != order {
		t.Fatalf("question order changed on resume: %q vs %q", got, order)
	}

	// Starting again with an unfinished session resumes it too.
	again, err := env.service.Start(ctx, "abcd", 1)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if got := questionIDs(again); got != order {
		t.Fatalf("question order changed on restart: %q vs %q", got, order)
	}
}

func TestAnswerAndNavigatePersist(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, defaultConfig())

	if _, err := env.service.Start(ctx, "abcd", 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.service.Answer(ctx, "abcd", 0, "use a rune slice"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if _, err := env.service.Navigate(ctx, "abcd", 2); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if _, err := env.service.Answer(ctx, "abcd", 2, "for i := 1; i <= 100; i++"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	session, err := env.service.Resume(ctx, "abcd")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if session.CurrentQuestionIndex != 2 {
		t.Fatalf("expected index 2, got %d", session.CurrentQuestionIndex)
	}
	if session.UserAnswers[0] != "use a rune slice" || session.UserAnswers[2] == "" {
		t.Fatalf("answers lost across navigation: %v", session.UserAnswers)
	}

	if _, err := env.service.Answer(ctx, "abcd", 7, "x"); !errors.Is(err, domain.ErrQuestionIndexOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
}

func TestManualSubmitHappyPath(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, defaultConfig())

	start := env.clock.Now()
	if _, err := env.service.Start(ctx, "abcd", 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.service.Answer(ctx, "abcd", 0, "a"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if _, err := env.service.Answer(ctx, "abcd", 2, "b"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	env.clock.Advance(10 * time.Second)
	session, err := env.service.Submit(ctx, "abcd")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !session.Submitted || session.EndTime == nil {
		t.Fatalf("expected terminal state, got %+v", session)
	}
	if got := session.EndTime.Sub(start); got != 10*time.Second {
		t.Fatalf("expected 10s elapsed, got %v", got)
	}
	if session.Delivery != domain.DeliveryDelivered {
		t.Fatalf("expected delivered, got %s", session.Delivery)
	}

	if env.submitter.callCount() != 1 {
		t.Fatalf("expected exactly one delivery, got %d", env.submitter.callCount())
	}
	payload := env.submitter.payloads[0]
	if payload.Kind != domain.KindQuiz || payload.Quiz == nil {
		t.Fatalf("expected quiz payload, got %+v", payload)
	}
	if payload.Quiz.AnsweredCount != 2 || payload.Quiz.TotalQuestions != 3 {
		t.Fatalf("expected answeredCount=2 totalQuestions=3, got %+v", payload.Quiz)
	}
	if payload.Quiz.TotalTimeSeconds != 10 {
		t.Fatalf("expected totalTime=10, got %d", payload.Quiz.TotalTimeSeconds)
	}
}

func TestSubmittedSessionIsTerminal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, defaultConfig())

	if _, err := env.service.Start(ctx, "abcd", 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.service.Submit(ctx, "abcd"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := env.service.Answer(ctx, "abcd", 0, "late"); !errors.Is(err, domain.ErrSessionCompleted) {
		t.Fatalf("expected completed error, got %v", err)
	}
	if _, err := env.service.Navigate(ctx, "abcd", 1); !errors.Is(err, domain.ErrSessionCompleted) {
		t.Fatalf("expected completed error, got %v", err)
	}

	session, err := env.service.Resume(ctx, "abcd")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(session.UserAnswers) != 0 {
		t.Fatalf("answer mutated terminal session: %v", session.UserAnswers)
	}

	// Re-submitting is a no-op, not a second delivery.
	if _, err := env.service.Submit(ctx, "abcd"); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if env.submitter.callCount() != 1 {
		t.Fatalf("expected one delivery, got %d", env.submitter.callCount())
	}
}

func TestDuplicateSubmissionBlocksNewSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, defaultConfig())

	if _, err := env.service.Start(ctx, "abcd", 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.service.Submit(ctx, "abcd"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// Even after the active slot is cleared, the completed record blocks.
	if err := env.service.Clear(ctx, "abcd"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := env.service.Start(ctx, "abcd", 1); !errors.Is(err, domain.ErrDuplicateSubmission) {
		t.Fatalf("expected duplicate block, got %v", err)
	}
}

func TestAutoSubmitFiresExactlyOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, defaultConfig())

	start := env.clock.Now()
	if _, err := env.service.Start(ctx, "abcd", 1); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Before the deadline nothing happens.
	env.clock.Advance(9 * time.Minute)
	session, err := env.service.AutoSubmit(ctx, "abcd")
	if err != nil {
		t.Fatalf("auto submit: %v", err)
	}
	if session.Submitted {
		t.Fatalf("submitted before deadline")
	}

	// Ticks keep firing after expiry; only the first transitions.
	env.clock.Advance(1*time.Minute + 3*time.Second)
	for i := 0; i < 3; i++ {
		session, err = env.service.AutoSubmit(ctx, "abcd")
		if err != nil {
			t.Fatalf("auto submit: %v", err)
		}
	}
	if !session.Submitted {
		t.Fatalf("expected submitted after deadline")
	}
	if env.submitter.callCount() != 1 {
		t.Fatalf("expected one delivery, got %d", env.submitter.callCount())
	}
	// Late ticks record the deadline, not the tick instant.
	if got := session.EndTime.Sub(start); got != 10*time.Minute {
		t.Fatalf("expected endTime at deadline, got %v", got)
	}
}

func TestTransientFailureQueuesThenRecovers(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, defaultConfig())
	env.submitter.outcomes = []domain.SubmitOutcome{transientOutcome}

	if _, err := env.service.Start(ctx, "abcd", 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	session, err := env.service.Submit(ctx, "abcd")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if session.Delivery != domain.DeliveryQueued {
		t.Fatalf("expected queued, got %s", session.Delivery)
	}

	pending, err := env.queue.ListPending(ctx, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending upload, got %d", len(pending))
	}
	if pending[0].Attempts != 0 || pending[0].Status != domain.UploadPending {
		t.Fatalf("expected fresh pending record, got %+v", pending[0])
	}

	// Next pass succeeds and drains the queue.
	if err := env.queue.RunPass(ctx); err != nil {
		t.Fatalf("run pass: %v", err)
	}
	pending, _ = env.queue.ListPending(ctx, nil)
	if len(pending) != 0 {
		t.Fatalf("expected empty queue, got %d", len(pending))
	}
}

func TestPermanentFailureNeverQueued(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, defaultConfig())
	env.submitter.outcomes = []domain.SubmitOutcome{permanentOutcome}

	if _, err := env.service.Start(ctx, "abcd", 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	session, err := env.service.Submit(ctx, "abcd")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if session.Delivery != domain.DeliveryUnauthorized {
		t.Fatalf("expected unauthorized, got %s", session.Delivery)
	}
	pending, _ := env.queue.ListPending(ctx, nil)
	if len(pending) != 0 {
		t.Fatalf("permanent failure must not be queued, got %d records", len(pending))
	}
}

func TestRetryDeliveryDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, defaultConfig())
	env.submitter.outcomes = []domain.SubmitOutcome{transientOutcome}

	if _, err := env.service.Start(ctx, "abcd", 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.service.Submit(ctx, "abcd"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	session, err := env.service.RetryDelivery(ctx, "abcd")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if session.Delivery != domain.DeliveryDelivered {
		t.Fatalf("expected delivered after retry, got %s", session.Delivery)
	}
	pending, _ := env.queue.ListPending(ctx, nil)
	if len(pending) != 0 {
		t.Fatalf("retry left a stale queue record: %d", len(pending))
	}

	// Only one completed record exists for the pair.
	if _, err := env.service.Start(ctx, "abcd", 1); !errors.Is(err, domain.ErrDuplicateSubmission) {
		t.Fatalf("expected duplicate block, got %v", err)
	}
}

func TestResumeMissingOrCorrupt(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, defaultConfig())

	if _, err := env.service.Resume(ctx, "nobody"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	// A corrupt record is the same recoverable condition, not a crash.
	if err := env.store.Set(ctx, "quiz:active:abcd", []byte("{not json")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := env.service.Resume(ctx, "abcd"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found for corrupt record, got %v", err)
	}
}

func TestCompletePracticeCategoryGate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, defaultConfig())

	state, err := env.service.CompletePractice(ctx, practiceResult("General"))
	if err != nil {
		t.Fatalf("complete practice: %v", err)
	}
	if state != "" {
		t.Fatalf("expected locally complete, got %s", state)
	}
	if env.submitter.callCount() != 0 {
		t.Fatalf("ineligible category must not hit the network")
	}

	env.submitter.outcomes = []domain.SubmitOutcome{transientOutcome}
	state, err = env.service.CompletePractice(ctx, practiceResult("Class 2025"))
	if err != nil {
		t.Fatalf("complete practice: %v", err)
	}
	if state != domain.DeliveryQueued {
		t.Fatalf("expected queued, got %s", state)
	}
	pending, _ := env.queue.ListPending(ctx, nil)
	if len(pending) != 1 {
		t.Fatalf("expected queued upload, got %d", len(pending))
	}
}

func practiceResult(category string) domain.PracticeResult {
	now := time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)
	return domain.PracticeResult{
		Category:                category,
		StartTime:               now,
		EndTime:                 now.Add(5 * time.Minute),
		TotalChallenges:         4,
		TotalTimeSeconds:        300,
		TotalQuestionsCompleted: 3,
		TotalDontKnows:          1,
		TotalFirstTrialSuccess:  2,
		Attempts: []domain.ChallengeAttempt{
			{ChallengeID: "c1", Tries: 1, Completed: true, TimeSeconds: 60},
			{ChallengeID: "c2", Tries: 3, Completed: true, TimeSeconds: 120},
		},
	}
}

func questionIDs(session *domain.QuizSession) string {
	out := ""
	for _, q := range session.Questions {
		out += q.ID + ","
	}
	return out
}
