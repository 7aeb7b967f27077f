package extraction

import (
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Authored titles for the recognized instruction categories. The note's own
// wording is never copied into a task title.
const (
	labTitle   = "Order basic metabolic panel to monitor renal function and potassium"
	visitTitle = "Schedule cardiology follow-up visit to reassess volume status and adjust medications"
	medTitle   = "Conduct nursing phone call to reinforce low-sodium diet and confirm medication adherence"
)

var (
	dischargeDateRe = regexp.MustCompile(`Discharge Date:\s*(\d{4}-\d{2}-\d{2})`)
	daysRe          = regexp.MustCompile(`(?i)(\d+)\s+day`)
	hoursRe         = regexp.MustCompile(`(?i)(\d+)\s+hour`)
)

// DecodeText returns the plain text of a DocumentReference: the first
// content entry whose attachment.data base64-decodes to a non-empty string.
// Entries with missing or undecodable data are skipped. Returns "" when no
// entry qualifies.
func DecodeText(document map[string]interface{}) string {
	contents, _ := document["content"].([]interface{})
	for _, entry := range contents {
		obj, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		attachment, ok := obj["attachment"].(map[string]interface{})
		if !ok {
			continue
		}
		data, _ := attachment["data"].(string)
		if data == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil || len(decoded) == 0 {
			continue
		}
		return string(decoded)
	}
	return ""
}

// parseDischargeDate finds the first "Discharge Date: YYYY-MM-DD" in the
// note and returns it as a midnight UTC time. The zero time means no valid
// date was found.
func parseDischargeDate(noteText string) time.Time {
	m := dischargeDateRe.FindStringSubmatch(noteText)
	if m == nil {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", m[1])
	if err != nil {
		return time.Time{}
	}
	return t
}

// dueDate computes the calendar due date for an instruction line. A day
// count takes precedence over an hour count when both appear. Hours are
// added as a duration to the discharge date, then the date is taken, so 48
// hours lands two calendar days out.
func dueDate(dischargeDate time.Time, line string) string {
	if dischargeDate.IsZero() {
		return ""
	}
	if m := daysRe.FindStringSubmatch(line); m != nil {
		days, _ := strconv.Atoi(m[1])
		return dischargeDate.AddDate(0, 0, days).Format("2006-01-02")
	}
	if m := hoursRe.FindStringSubmatch(line); m != nil {
		hours, _ := strconv.Atoi(m[1])
		return dischargeDate.Add(time.Duration(hours) * time.Hour).Format("2006-01-02")
	}
	return ""
}

// Extract scans a decoded DocumentReference for follow-up instruction lines
// and returns one FollowUp per recognized line, in note order. Lines are
// matched by case-insensitive prefix: "1. labs"/"labs:", "2. visit"/"visit:",
// "3. medication"/"medication:". Priority is always normal. With no
// discharge date in the note, follow-ups come back without due dates.
func Extract(document map[string]interface{}, patientID, encounterID string) []FollowUp {
	noteText := DecodeText(document)
	dischargeDate := parseDischargeDate(noteText)

	var followups []FollowUp
	for _, raw := range strings.Split(noteText, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		lowered := strings.ToLower(line)

		var category, title string
		switch {
		case strings.HasPrefix(lowered, "1. labs") || strings.HasPrefix(lowered, "labs:"):
			category, title = "lab", labTitle
		case strings.HasPrefix(lowered, "2. visit") || strings.HasPrefix(lowered, "visit:"):
			category, title = "visit", visitTitle
		case strings.HasPrefix(lowered, "3. medication") || strings.HasPrefix(lowered, "medication:"):
			category, title = "med", medTitle
		default:
			continue
		}

		followups = append(followups, FollowUp{
			Category:          category,
			Title:             title,
			DueDate:           dueDate(dischargeDate, line),
			Priority:          "normal",
			PatientID:         patientID,
			SourceEncounterID: encounterID,
		})
	}

	return followups
}

// ExtractJSON is Extract over a raw JSON document. An error means the bytes
// do not decode to a JSON object.
func ExtractJSON(raw json.RawMessage, patientID, encounterID string) ([]FollowUp, error) {
	var document map[string]interface{}
	if err := json.Unmarshal(raw, &document); err != nil {
		return nil, err
	}
	return Extract(document, patientID, encounterID), nil
}
