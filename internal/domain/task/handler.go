package task

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/careloop/careloop/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/patients/:patient_id/tasks", h.ListPatientTasks)
	g.GET("/tasks/:id", h.GetTask)
	g.GET("/tasks/:id/audit", h.GetTaskAudit)
}

func (h *Handler) ListPatientTasks(c echo.Context) error {
	status := c.QueryParam("status")
	pg := pagination.FromContext(c)

	items, total, err := h.svc.ListByPatient(c.Request().Context(), c.Param("patient_id"), status, pg.Limit, pg.Offset)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*CareTask{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetTask(c echo.Context) error {
	t, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) GetTaskAudit(c echo.Context) error {
	records, err := h.svc.ListAudit(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if records == nil {
		records = []*AuditRecord{}
	}
	return c.JSON(http.StatusOK, records)
}
