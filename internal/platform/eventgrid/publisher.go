package eventgrid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

const dataVersion = "1.0"

// Result is the outcome handed back to the tool caller. Published false with
// a reason means the publisher ran in log-only mode.
type Result struct {
	Published bool   `json:"published"`
	EventID   string `json:"eventId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Attempt is one delivery try, kept in an in-memory log for inspection.
type Attempt struct {
	AttemptID  string    `json:"attemptId"`
	EventID    string    `json:"eventId"`
	EventType  string    `json:"eventType"`
	Subject    string    `json:"subject"`
	StatusCode int       `json:"statusCode"`
	Published  bool      `json:"published"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// Publisher posts events to an Event Grid topic. Without a topic URL it
// degrades to log-only mode so local runs work without cloud credentials.
type Publisher struct {
	topicURL string
	key      string
	http     *http.Client
	safeMode bool
	log      zerolog.Logger

	mu       sync.Mutex
	attempts []Attempt
}

func NewPublisher(topicURL, key string, timeout time.Duration, safeMode bool, log zerolog.Logger) *Publisher {
	return &Publisher{
		topicURL: topicURL,
		key:      key,
		http:     &http.Client{Timeout: timeout},
		safeMode: safeMode,
		log:      log,
	}
}

// Emit publishes one event. The topic receives a one-element array with the
// aeg-sas-key header; the envelope carries a fresh event id, RFC3339 event
// time, and data version.
func (p *Publisher) Emit(ctx context.Context, eventType, subject string, data map[string]interface{}) (Result, error) {
	if p.topicURL == "" {
		evt := p.log.Info().Str("event_type", eventType).Str("subject", subject)
		if !p.safeMode {
			evt = evt.Interface("data", data)
		}
		evt.Msg("eventgrid topic not configured, logging only")
		return Result{Published: false, Reason: "topic-not-configured"}, nil
	}

	eventID := uuid.NewString()
	envelope := []map[string]interface{}{{
		"id":          eventID,
		"eventType":   eventType,
		"subject":     subject,
		"eventTime":   time.Now().UTC().Format(time.RFC3339),
		"data":        data,
		"dataVersion": dataVersion,
	}}
	body, err := json.Marshal(envelope)
	if err != nil {
		return Result{}, fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.topicURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.key != "" {
		req.Header.Set("aeg-sas-key", p.key)
	}

	attempt := Attempt{
		AttemptID: ulid.Make().String(),
		EventID:   eventID,
		EventType: eventType,
		Subject:   subject,
		At:        time.Now().UTC(),
	}

	resp, err := p.http.Do(req)
	if err != nil {
		attempt.Error = err.Error()
		p.record(attempt)
		return Result{}, fmt.Errorf("publish event: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	attempt.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		attempt.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		p.record(attempt)
		return Result{}, fmt.Errorf("publish event: unexpected status %d", resp.StatusCode)
	}
	attempt.Published = true
	p.record(attempt)

	evt := p.log.Info().Str("event_type", eventType).Str("subject", subject).Str("event_id", eventID)
	if !p.safeMode {
		evt = evt.Interface("data", data)
	}
	evt.Msg("event published")
	return Result{Published: true, EventID: eventID}, nil
}

// Attempts returns a copy of the delivery attempt log.
func (p *Publisher) Attempts() []Attempt {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Attempt, len(p.attempts))
	copy(out, p.attempts)
	return out
}

func (p *Publisher) record(a Attempt) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts = append(p.attempts, a)
}
