// Package sandbox serves seeded synthetic FHIR resources for development
// runs, so the pipeline can be exercised end to end without a real FHIR
// server.
package sandbox

import (
	"encoding/base64"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Seeded discharge summaries by document id. The heart-failure note carries
// the three follow-up instruction lines the extraction rules recognize.
var noteByDocument = map[string]string{
	"D789": "Patient: Sarah Connor (P123)\n" +
		"Encounter: E456 | Discharge Date: 2024-02-12\n" +
		"Primary Diagnosis: Acute decompensated heart failure.\n" +
		"Hospital Course: Improved with IV diuretics, transitioned to oral medications.\n\n" +
		"Follow-up Instructions:\n" +
		"1. Labs: Obtain a basic metabolic panel in 3 days to monitor renal function and potassium after starting lisinopril.\n" +
		"2. Visit: Schedule a cardiology follow-up within 7 days to assess volume status and titrate meds.\n" +
		"3. Medication: Nursing team to call the patient in 48 hours to reinforce low-sodium diet and confirm medication adherence.\n\n" +
		"Discharge Medications: Furosemide, Lisinopril, Spironolactone.\n" +
		"MRN: 555443\n",
}

const fallbackNote = "Synthetic discharge note not found."

// Handler serves the seeded DocumentReference fixtures.
type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

// RegisterRoutes mounts the synthetic FHIR read route. Intended for
// development environments only.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/fhir/DocumentReference/:id", h.GetDocumentReference)
}

func (h *Handler) GetDocumentReference(c echo.Context) error {
	docID := c.Param("id")
	note, ok := noteByDocument[docID]
	if !ok {
		note = fallbackNote
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"resourceType": "DocumentReference",
		"id":           docID,
		"description":  "Synthetic discharge summary",
		"content": []map[string]interface{}{
			{
				"attachment": map[string]interface{}{
					"contentType": "text/plain",
					"data":        base64.StdEncoding.EncodeToString([]byte(note)),
				},
			},
		},
	})
}
