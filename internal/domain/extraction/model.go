package extraction

// FollowUp is one actionable instruction extracted from a discharge note.
// DueDate is a YYYY-MM-DD calendar date, empty when the note carries no
// discharge date or the line has no timeframe.
type FollowUp struct {
	Category          string `json:"category"`
	Title             string `json:"title"`
	DueDate           string `json:"dueDate,omitempty"`
	Priority          string `json:"priority"`
	PatientID         string `json:"patientId"`
	SourceEncounterID string `json:"sourceEncounterId,omitempty"`
}
