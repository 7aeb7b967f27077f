package event

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/careloop/careloop/internal/domain/extraction"
)

// Caller is the retrying JSON-RPC transport the orchestrator fans out on.
type Caller interface {
	Call(ctx context.Context, method string, params interface{}, maxAttempts int) (json.RawMessage, error)
}

// Options tune orchestration behavior.
type Options struct {
	// MaxAttempts is passed through to the RPC transport per call.
	MaxAttempts int
	// SafeMode keeps raw document text out of log output.
	SafeMode bool
	// DeterministicIDs derives task ids from the event id, so a redelivery
	// after a crash between upsert and ledger record updates the same tasks
	// instead of creating duplicates.
	DeterministicIDs bool
}

// Orchestrator drives one discharge event through document fetch,
// extraction, task fan-out, and the idempotency ledger.
type Orchestrator struct {
	rpc    Caller
	ledger Ledger
	log    zerolog.Logger
	opts   Options
}

func NewOrchestrator(rpc Caller, ledger Ledger, log zerolog.Logger, opts Options) *Orchestrator {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	return &Orchestrator{rpc: rpc, ledger: ledger, log: log, opts: opts}
}

// HandleDischarge processes a single DischargeCreated event. An id-less
// event is logged and dropped; a previously recorded id is skipped. The
// ledger records the event only after every task and emission succeeded, so
// a mid-flight failure leaves the event eligible for redelivery.
func (o *Orchestrator) HandleDischarge(ctx context.Context, evt *IncomingEvent) error {
	if evt.ID == "" {
		o.log.Info().Str("event_type", evt.EventType).Msg("ignoring event without id")
		return nil
	}

	eventType := evt.EventType
	if eventType == "" {
		eventType = TypeDischargeCreated
	}
	patientID := evt.DataString("patientId", "patient_id")
	encounterID := evt.DataString("encounterId", "encounter_id")

	seen, err := o.ledger.HasSeen(ctx, evt.ID)
	if err != nil {
		return fmt.Errorf("ledger lookup for event %s: %w", evt.ID, err)
	}
	if seen {
		o.log.Info().
			Str("event_id", evt.ID).
			Str("event_type", eventType).
			Str("patient_id", patientID).
			Msg("duplicate event skipped")
		return nil
	}

	followups, err := o.fetchFollowUps(ctx, evt, patientID, encounterID)
	if err != nil {
		o.log.Error().Err(err).
			Str("event_id", evt.ID).
			Str("event_type", eventType).
			Msg("processing error")
		return err
	}

	for i, followup := range followups {
		if err := o.dispatchFollowUp(ctx, evt.ID, patientID, i, followup); err != nil {
			o.log.Error().Err(err).
				Str("event_id", evt.ID).
				Str("event_type", eventType).
				Int("followup_index", i).
				Msg("processing error")
			return err
		}
	}

	if err := o.ledger.Record(ctx, evt.ID, eventType, patientID); err != nil {
		return fmt.Errorf("record event %s: %w", evt.ID, err)
	}
	o.log.Info().
		Str("event_id", evt.ID).
		Str("event_type", eventType).
		Str("patient_id", patientID).
		Int("followups", len(followups)).
		Msg("event processed")
	return nil
}

// fetchFollowUps pulls the discharge document and extracts follow-up
// descriptors, falling back to a single generic descriptor when the note
// yields nothing actionable.
func (o *Orchestrator) fetchFollowUps(ctx context.Context, evt *IncomingEvent, patientID, encounterID string) ([]extraction.FollowUp, error) {
	raw, err := o.rpc.Call(ctx, "tools/get_fhir_document", map[string]interface{}{
		"patientId":   patientID,
		"encounterId": encounterID,
		"documentId":  evt.DataString("documentId", "document_id"),
	}, o.opts.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("fetch document: %w", err)
	}
	if !o.opts.SafeMode {
		o.log.Debug().Str("event_id", evt.ID).RawJSON("document", raw).Msg("fetched discharge document")
	}

	followups, err := extraction.ExtractJSON(raw, patientID, encounterID)
	if err != nil {
		return nil, fmt.Errorf("unexpected document payload: %w", err)
	}

	if len(followups) == 0 {
		followups = []extraction.FollowUp{{
			Category:          "other",
			Title:             "Follow up required",
			Priority:          "normal",
			PatientID:         patientID,
			SourceEncounterID: encounterID,
		}}
	}
	return followups, nil
}

// dispatchFollowUp upserts one task and emits its TaskCreated event. The
// first failure surfaces to the caller, aborting the remaining fan-out.
func (o *Orchestrator) dispatchFollowUp(ctx context.Context, eventID, patientID string, index int, followup extraction.FollowUp) error {
	taskJSON := map[string]interface{}{
		"category":  followup.Category,
		"title":     followup.Title,
		"priority":  followup.Priority,
		"patientId": followup.PatientID,
	}
	if followup.DueDate != "" {
		taskJSON["dueDate"] = followup.DueDate
	}
	if followup.SourceEncounterID != "" {
		taskJSON["sourceEncounterId"] = followup.SourceEncounterID
	}
	if o.opts.DeterministicIDs {
		taskJSON["taskId"] = deterministicTaskID(eventID, index)
	}

	raw, err := o.rpc.Call(ctx, "tools/upsert_task", map[string]interface{}{"taskJson": taskJSON}, o.opts.MaxAttempts)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	var result struct {
		TaskID string `json:"taskId"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("decode upsert result: %w", err)
	}

	if _, err := o.rpc.Call(ctx, "tools/emit_eventgrid", map[string]interface{}{
		"eventType": "TaskCreated",
		"subject":   fmt.Sprintf("patients/%s/tasks/%s", patientID, result.TaskID),
		"data": map[string]interface{}{
			"patientId": patientID,
			"taskId":    result.TaskID,
			"category":  followup.Category,
			"title":     followup.Title,
		},
	}, o.opts.MaxAttempts); err != nil {
		return fmt.Errorf("emit task event: %w", err)
	}
	return nil
}

// deterministicTaskID derives a stable task id from the event id and the
// descriptor's position, matching the "T" + 10 hex shape of generated ids.
func deterministicTaskID(eventID string, index int) string {
	sum := sha256.Sum256([]byte(eventID + ":" + strconv.Itoa(index)))
	return "T" + hex.EncodeToString(sum[:])[:10]
}
