package extraction

import (
	"encoding/base64"
	"testing"
)

const heartFailureNote = "Patient: Sarah Connor (P123)\n" +
	"Encounter: E456 | Discharge Date: 2024-02-12\n" +
	"Primary Diagnosis: Acute decompensated heart failure.\n\n" +
	"Follow-up Instructions:\n" +
	"1. Labs: Obtain a basic metabolic panel in 3 days to monitor renal function and potassium after starting lisinopril.\n" +
	"2. Visit: Schedule a cardiology follow-up within 7 days to assess volume status and titrate meds.\n" +
	"3. Medication: Nursing team to call the patient in 48 hours to reinforce low-sodium diet and confirm medication adherence.\n"

func docWithText(text string) map[string]interface{} {
	return map[string]interface{}{
		"resourceType": "DocumentReference",
		"id":           "D789",
		"content": []interface{}{
			map[string]interface{}{
				"attachment": map[string]interface{}{
					"contentType": "text/plain",
					"data":        base64.StdEncoding.EncodeToString([]byte(text)),
				},
			},
		},
	}
}

func TestExtract_Golden(t *testing.T) {
	followups := Extract(docWithText(heartFailureNote), "P123", "E456")

	if len(followups) != 3 {
		t.Fatalf("expected 3 follow-ups, got %d", len(followups))
	}

	expected := []struct {
		category string
		dueDate  string
	}{
		{"lab", "2024-02-15"},
		{"visit", "2024-02-19"},
		{"med", "2024-02-14"},
	}
	for i, want := range expected {
		got := followups[i]
		if got.Category != want.category {
			t.Errorf("followup[%d]: expected category %s, got %s", i, want.category, got.Category)
		}
		if got.DueDate != want.dueDate {
			t.Errorf("followup[%d]: expected due date %s, got %s", i, want.dueDate, got.DueDate)
		}
		if got.Priority != "normal" {
			t.Errorf("followup[%d]: expected priority normal, got %s", i, got.Priority)
		}
		if got.PatientID != "P123" {
			t.Errorf("followup[%d]: expected patient P123, got %s", i, got.PatientID)
		}
		if got.SourceEncounterID != "E456" {
			t.Errorf("followup[%d]: expected encounter E456, got %s", i, got.SourceEncounterID)
		}
	}
}

func TestExtract_AuthoredTitles(t *testing.T) {
	followups := Extract(docWithText(heartFailureNote), "P123", "E456")
	if len(followups) != 3 {
		t.Fatalf("expected 3 follow-ups, got %d", len(followups))
	}
	if followups[0].Title != labTitle {
		t.Errorf("unexpected lab title: %s", followups[0].Title)
	}
	if followups[1].Title != visitTitle {
		t.Errorf("unexpected visit title: %s", followups[1].Title)
	}
	if followups[2].Title != medTitle {
		t.Errorf("unexpected med title: %s", followups[2].Title)
	}
}

func TestExtract_ColonPrefixesCaseInsensitive(t *testing.T) {
	note := "Discharge Date: 2024-03-01\n" +
		"LABS: repeat in 2 days\n" +
		"Visit: see cardiology in 5 days\n" +
		"MEDICATION: call in 24 hours\n"
	followups := Extract(docWithText(note), "P1", "")

	if len(followups) != 3 {
		t.Fatalf("expected 3 follow-ups, got %d", len(followups))
	}
	if followups[0].Category != "lab" || followups[0].DueDate != "2024-03-03" {
		t.Errorf("unexpected lab followup: %+v", followups[0])
	}
	if followups[1].Category != "visit" || followups[1].DueDate != "2024-03-06" {
		t.Errorf("unexpected visit followup: %+v", followups[1])
	}
	if followups[2].Category != "med" || followups[2].DueDate != "2024-03-02" {
		t.Errorf("unexpected med followup: %+v", followups[2])
	}
}

func TestExtract_NoDischargeDate(t *testing.T) {
	note := "Labs: basic metabolic panel in 3 days\n"
	followups := Extract(docWithText(note), "P1", "E1")

	if len(followups) != 1 {
		t.Fatalf("expected 1 follow-up, got %d", len(followups))
	}
	if followups[0].DueDate != "" {
		t.Errorf("expected empty due date without a discharge date, got %s", followups[0].DueDate)
	}
}

func TestExtract_DaysTakePrecedenceOverHours(t *testing.T) {
	note := "Discharge Date: 2024-02-12\n" +
		"Labs: repeat in 3 days or 12 hours whichever comes first\n"
	followups := Extract(docWithText(note), "P1", "")

	if len(followups) != 1 {
		t.Fatalf("expected 1 follow-up, got %d", len(followups))
	}
	if followups[0].DueDate != "2024-02-15" {
		t.Errorf("expected days to win: got %s", followups[0].DueDate)
	}
}

func TestExtract_HoursUnderADay(t *testing.T) {
	note := "Discharge Date: 2024-02-12\n" +
		"Medication: call in 12 hours\n"
	followups := Extract(docWithText(note), "P1", "")

	if len(followups) != 1 {
		t.Fatalf("expected 1 follow-up, got %d", len(followups))
	}
	// 12 hours from midnight stays on the same calendar day.
	if followups[0].DueDate != "2024-02-12" {
		t.Errorf("expected 2024-02-12, got %s", followups[0].DueDate)
	}
}

func TestExtract_LineWithoutTimeframe(t *testing.T) {
	note := "Discharge Date: 2024-02-12\n" +
		"Visit: schedule a cardiology follow-up soon\n"
	followups := Extract(docWithText(note), "P1", "")

	if len(followups) != 1 {
		t.Fatalf("expected 1 follow-up, got %d", len(followups))
	}
	if followups[0].DueDate != "" {
		t.Errorf("expected empty due date, got %s", followups[0].DueDate)
	}
}

func TestExtract_UnrecognizedLinesIgnored(t *testing.T) {
	note := "Discharge Date: 2024-02-12\n" +
		"Primary Diagnosis: heart failure\n" +
		"4. Diet: low sodium\n" +
		"Call the office with questions.\n"
	followups := Extract(docWithText(note), "P1", "")

	if len(followups) != 0 {
		t.Errorf("expected no follow-ups, got %d", len(followups))
	}
}

func TestExtract_OrderPreserved(t *testing.T) {
	note := "Discharge Date: 2024-02-12\n" +
		"Medication: call in 48 hours\n" +
		"Labs: panel in 3 days\n"
	followups := Extract(docWithText(note), "P1", "")

	if len(followups) != 2 {
		t.Fatalf("expected 2 follow-ups, got %d", len(followups))
	}
	if followups[0].Category != "med" || followups[1].Category != "lab" {
		t.Errorf("expected note order preserved, got %s then %s", followups[0].Category, followups[1].Category)
	}
}

func TestDecodeText_FirstNonEmptyWins(t *testing.T) {
	doc := map[string]interface{}{
		"content": []interface{}{
			map[string]interface{}{}, // no attachment
			map[string]interface{}{
				"attachment": map[string]interface{}{"data": "!!!not-base64!!!"},
			},
			map[string]interface{}{
				"attachment": map[string]interface{}{
					"data": base64.StdEncoding.EncodeToString([]byte("second entry")),
				},
			},
			map[string]interface{}{
				"attachment": map[string]interface{}{
					"data": base64.StdEncoding.EncodeToString([]byte("third entry")),
				},
			},
		},
	}
	if got := DecodeText(doc); got != "second entry" {
		t.Errorf("expected first decodable entry, got %q", got)
	}
}

func TestDecodeText_NoContent(t *testing.T) {
	if got := DecodeText(map[string]interface{}{"resourceType": "DocumentReference"}); got != "" {
		t.Errorf("expected empty text, got %q", got)
	}
	if got := DecodeText(map[string]interface{}{"content": []interface{}{"bogus"}}); got != "" {
		t.Errorf("expected empty text for malformed entries, got %q", got)
	}
}

func TestExtract_EmptyDocument(t *testing.T) {
	followups := Extract(map[string]interface{}{}, "P1", "E1")
	if len(followups) != 0 {
		t.Errorf("expected no follow-ups from an empty document, got %d", len(followups))
	}
}

func TestExtractJSON_RejectsNonObject(t *testing.T) {
	if _, err := ExtractJSON([]byte(`"just a string"`), "P1", ""); err == nil {
		t.Error("expected error for non-object document")
	}
	if _, err := ExtractJSON([]byte(`[1,2,3]`), "P1", ""); err == nil {
		t.Error("expected error for array document")
	}
}
