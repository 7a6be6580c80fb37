package triage

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cholera-ops/triage/internal/platform/auth"
	"github.com/cholera-ops/triage/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/triage")

	// Read endpoints – admin, physician, nurse, operator
	readGroup := g.Group("", auth.RequireRole("physician", "nurse", "operator"))
	readGroup.GET("/symptoms", h.ListSymptoms)
	readGroup.GET("/protocols", h.ListProtocols)
	readGroup.GET("/thresholds", h.GetThresholds)
	readGroup.POST("/classify", h.Classify)
	readGroup.GET("/assessments", h.ListAssessments)
	readGroup.GET("/assessments/:id", h.GetAssessment)
	readGroup.GET("/assessments/:id/report", h.GetAssessmentReport)
	readGroup.GET("/summary", h.Summary)

	// Write endpoints – admin, physician, nurse
	writeGroup := g.Group("", auth.RequireRole("physician", "nurse"))
	writeGroup.POST("/assessments", h.CreateAssessment)

	adminGroup := g.Group("", auth.RequireRole("admin"))
	adminGroup.DELETE("/assessments/:id", h.DeleteAssessment)
	adminGroup.POST("/assessments/reclassify", h.Reclassify)
}

// ClassifyRequest is the body of POST /triage/classify.
type ClassifyRequest struct {
	Symptoms []SymptomID `json:"symptoms"`
}

// ReclassifyRequest is the body of POST /triage/assessments/reclassify. An
// empty id list re-runs every stored assessment.
type ReclassifyRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

func (h *Handler) ListSymptoms(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Classifier().Catalog())
}

func (h *Handler) ListProtocols(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Classifier().Protocols())
}

func (h *Handler) GetThresholds(c echo.Context) error {
	cl := h.svc.Classifier()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"risk_thresholds":       cl.Thresholds(),
		"critical_combinations": cl.CriticalCombinations(),
	})
}

func (h *Handler) Classify(c echo.Context) error {
	var req ClassifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Symptoms) > MaxSymptoms {
		return echo.NewHTTPError(http.StatusBadRequest, "too many symptoms")
	}
	return c.JSON(http.StatusOK, h.svc.Classify(req.Symptoms))
}

func (h *Handler) CreateAssessment(c echo.Context) error {
	var a Assessment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if a.AssessedBy == nil {
		if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
			a.AssessedBy = &uid
		}
	}
	r, err := h.svc.Assess(c.Request().Context(), &a)
	if err != nil {
		if errors.Is(err, ErrInvalidAssessment) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, AssessmentResponse{Assessment: &a, Protocol: r.Protocol, Warnings: r.Warnings})
}

func (h *Handler) GetAssessment(c echo.Context) error {
	a, err := h.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) GetAssessmentReport(c echo.Context) error {
	a, err := h.lookup(c)
	if err != nil {
		return err
	}
	p, ok := h.svc.Classifier().Protocol(a.RiskLevel)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "no protocol for stored risk level")
	}
	var buf bytes.Buffer
	if err := RenderReport(&buf, a, p, h.svc.Classifier().Catalog()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `inline; filename="triagem-`+a.ID.String()+`.pdf"`)
	return c.Blob(http.StatusOK, "application/pdf", buf.Bytes())
}

func (h *Handler) ListAssessments(c echo.Context) error {
	pg := pagination.FromContext(c)
	if patientID := c.QueryParam("patient_id"); patientID != "" {
		pid, err := uuid.Parse(patientID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		items, total, err := h.svc.ListAssessmentsByPatient(c.Request().Context(), pid, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
	}

	params := map[string]string{}
	if hid := c.QueryParam("hospital_id"); hid != "" {
		if _, err := uuid.Parse(hid); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid hospital_id")
		}
		params["hospital_id"] = hid
	}
	if lvl := c.QueryParam("risk_level"); lvl != "" {
		if !RiskLevel(lvl).Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid risk_level")
		}
		params["risk_level"] = lvl
	}
	items, total, err := h.svc.SearchAssessments(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		if errors.Is(err, ErrInvalidAssessment) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) DeleteAssessment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteAssessment(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "triage assessment not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Reclassify(c echo.Context) error {
	var req ReclassifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	outcomes, err := h.svc.Reclassify(c.Request().Context(), req.IDs)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, outcomes)
}

func (h *Handler) Summary(c echo.Context) error {
	counts, err := h.svc.Summary(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, counts)
}

func (h *Handler) lookup(c echo.Context) (*Assessment, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.GetAssessment(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, echo.NewHTTPError(http.StatusNotFound, "triage assessment not found")
		}
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return a, nil
}
