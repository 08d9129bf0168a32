package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"practice-quiz-service/internal/config"
	"practice-quiz-service/internal/domain"
)

// unauthorizedMarker is the well-known 403 body the sink returns for an
// unrecognized registration code. Only this exact rejection is permanent;
// every other failure is retryable.
const unauthorizedMarker = "registration code not recognized"

const defaultTimeout = 10 * time.Second

// Submitter delivers result payloads to the spreadsheet sink. One call is
// exactly one network round trip; the outcome is classified, never thrown.
type Submitter struct {
	client        *http.Client
	endpoint      string
	apiKey        string
	practiceSheet string
}

// New builds a Submitter from config. Missing endpoint or key is fatal:
// posting with wrong credentials risks corrupting the result sheet.
func New(cfg config.Config) (*Submitter, error) {
	if err := cfg.ValidateSheets(); err != nil {
		return nil, err
	}
	practiceSheet := cfg.Sheets.PracticeSheet
	if practiceSheet == "" {
		practiceSheet = "Practice"
	}
	return &Submitter{
		client:        &http.Client{Timeout: config.TTLDuration(cfg.Sheets.Timeout, defaultTimeout)},
		endpoint:      cfg.Sheets.Endpoint,
		apiKey:        cfg.Sheets.APIKey,
		practiceSheet: practiceSheet,
	}, nil
}

type submitRequest struct {
	Sheet string `json:"sheet"`
	domain.ResultPayload
}

// Submit posts the payload to the sink. 2xx is success; a 403 carrying the
// unauthorized marker is a permanent failure; anything else, including
// transport errors, is transient. Unknown is treated as retryable, not
// dropped.
func (s *Submitter) Submit(ctx context.Context, payload domain.ResultPayload) domain.SubmitOutcome {
	body, err := json.Marshal(submitRequest{Sheet: s.sheetFor(payload), ResultPayload: payload})
	if err != nil {
		return domain.SubmitOutcome{ErrorMessage: "encode payload: " + err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.SubmitOutcome{ErrorMessage: "build request: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.SubmitOutcome{ErrorMessage: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return domain.SubmitOutcome{Success: true}
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	message := "sink returned status " + strconv.Itoa(resp.StatusCode)
	if resp.StatusCode == http.StatusForbidden && strings.Contains(strings.ToLower(string(respBody)), unauthorizedMarker) {
		return domain.SubmitOutcome{PermanentFailure: true, ErrorMessage: unauthorizedMarker}
	}
	return domain.SubmitOutcome{ErrorMessage: message}
}

func (s *Submitter) sheetFor(payload domain.ResultPayload) string {
	switch payload.Kind {
	case domain.KindQuiz:
		if payload.Quiz != nil {
			return "Quiz" + strconv.Itoa(payload.Quiz.QuizNumber)
		}
	case domain.KindPractice:
		return s.practiceSheet
	}
	return ""
}
