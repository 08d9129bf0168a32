package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"practice-quiz-service/internal/app"
	"practice-quiz-service/internal/domain"
)

// WSHandler exposes a quiz attempt over a websocket: the server streams
// state and per-second ticks, the client sends answer/navigate/submit.
type WSHandler struct {
	service  *app.SessionService
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.SessionService, log *zap.Logger) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSHandler{
		service: service,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

type navigatePayload struct {
	Index int `json:"index"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type tickPayload struct {
	RemainingSeconds int64 `json:"remainingSeconds"`
}

type sessionView struct {
	ID                   string               `json:"id"`
	QuizNumber           int                  `json:"quizNumber"`
	Questions            []domain.Question    `json:"questions"`
	CurrentQuestionIndex int                  `json:"currentQuestionIndex"`
	UserAnswers          map[int]string       `json:"userAnswers"`
	AnsweredCount        int                  `json:"answeredCount"`
	RemainingSeconds     int64                `json:"remainingSeconds"`
	Submitted            bool                 `json:"submitted"`
	Delivery             domain.DeliveryState `json:"delivery,omitempty"`
}

func (h *WSHandler) view(session *domain.QuizSession) sessionView {
	return sessionView{
		ID:                   session.ID,
		QuizNumber:           session.QuizNumber,
		Questions:            session.Questions,
		CurrentQuestionIndex: session.CurrentQuestionIndex,
		UserAnswers:          session.UserAnswers,
		AnsweredCount:        session.AnsweredCount(),
		RemainingSeconds:     int64(session.Remaining(h.service.Clock()()).Seconds()),
		Submitted:            session.Submitted,
		Delivery:             session.Delivery,
	}
}

// ServeWS upgrades the request and runs one attempt connection: start or
// resume the session, stream ticks, apply client actions, and report the
// terminal state.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	quizNumber, err := strconv.Atoi(r.URL.Query().Get("quiz"))
	if code == "" || err != nil {
		http.Error(w, "missing code or quiz", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	session, err := h.service.Start(r.Context(), code, quizNumber)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: wsError(err)}})
		return
	}

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	countdownDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write error", zap.Error(err))
				return
			}
		}
	}()

	push := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-closeSignals:
		}
	}

	countdownCtx, cancelCountdown := context.WithCancel(r.Context())
	defer cancelCountdown()

	if session.Submitted {
		// Re-entry after completion shows the stored outcome and never
		// re-triggers submission.
		push(outboundMessage[any]{Type: "completed", Payload: h.view(session)})
		close(countdownDone)
	} else {
		push(outboundMessage[any]{Type: "state", Payload: h.view(session)})

		countdown := app.NewCountdown(session.StartTime, session.TimeLimit(), h.service.Clock(),
			func(remaining time.Duration) {
				push(outboundMessage[any]{Type: "tick", Payload: tickPayload{RemainingSeconds: int64(remaining.Seconds())}})
			},
			func() {
				expired, err := h.service.AutoSubmit(countdownCtx, code)
				if err != nil {
					push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: wsError(err)}})
					return
				}
				push(outboundMessage[any]{Type: "completed", Payload: h.view(expired)})
			},
		)
		go func() {
			defer close(countdownDone)
			countdown.Run(countdownCtx)
		}()
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}})
				continue
			}
			updated, err := h.service.Answer(r.Context(), code, payload.Index, payload.Text)
			if err != nil {
				push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: wsError(err)}})
				continue
			}
			push(outboundMessage[any]{Type: "state", Payload: h.view(updated)})
		case "navigate":
			var payload navigatePayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid navigate payload"}})
				continue
			}
			updated, err := h.service.Navigate(r.Context(), code, payload.Index)
			if err != nil {
				push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: wsError(err)}})
				continue
			}
			push(outboundMessage[any]{Type: "state", Payload: h.view(updated)})
		case "submit":
			finished, err := h.service.Submit(r.Context(), code)
			if err != nil {
				push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: wsError(err)}})
				continue
			}
			// The session is terminal; a stale expiry must not fire later.
			cancelCountdown()
			push(outboundMessage[any]{Type: "completed", Payload: h.view(finished)})
		case "retryDelivery":
			retried, err := h.service.RetryDelivery(r.Context(), code)
			if err != nil {
				push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: wsError(err)}})
				continue
			}
			push(outboundMessage[any]{Type: "completed", Payload: h.view(retried)})
		default:
			push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
		}
	}

	close(closeSignals)
	cancelCountdown()
	<-countdownDone
	close(send)
	<-writerDone
}

// wsError maps domain sentinels to client-facing messages where the default
// error string is too terse.
func wsError(err error) string {
	if errors.Is(err, domain.ErrDuplicateSubmission) {
		return "this quiz has already been submitted for your registration code"
	}
	return err.Error()
}
