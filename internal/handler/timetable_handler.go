package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/college-timetable-api/internal/dto"
	"github.com/noah-isme/college-timetable-api/internal/middleware"
	"github.com/noah-isme/college-timetable-api/internal/models"
	"github.com/noah-isme/college-timetable-api/internal/service"
	appErrors "github.com/noah-isme/college-timetable-api/pkg/errors"
	"github.com/noah-isme/college-timetable-api/pkg/response"
)

type timetableService interface {
	AddEntry(ctx context.Context, req dto.CreateTimetableEntryRequest) (*models.TimetableEntry, error)
	Delete(ctx context.Context, id string) error
	SetPublished(ctx context.Context, req dto.PublishTimetableRequest) (*dto.PublishTimetableResponse, error)
	PublicationStatus(ctx context.Context, query dto.PublicationQuery) (*dto.PublicationStatusResponse, error)
	ListForGroup(ctx context.Context, query dto.TimetableQuery, claims *models.JWTClaims) ([]models.TimetableEntry, bool, error)
	MyTimetable(ctx context.Context, claims *models.JWTClaims) ([]models.TimetableEntry, bool, error)
	MySchedule(ctx context.Context, claims *models.JWTClaims) ([]models.TimetableEntry, bool, error)
	Slots() models.SlotCatalogView
}

type timetableGenerator interface {
	Generate(ctx context.Context, req dto.GenerateTimetableRequest) (*dto.GenerateTimetableResponse, error)
}

type timetableExporter interface {
	Export(ctx context.Context, query dto.ExportTimetableQuery, claims *models.JWTClaims) (*service.ExportFile, error)
}

// TimetableHandler exposes class group timetable endpoints.
type TimetableHandler struct {
	timetables timetableService
	generator  timetableGenerator
	exporter   timetableExporter
}

// NewTimetableHandler constructs the handler.
func NewTimetableHandler(timetables *service.TimetableService, generator *service.TimetableGeneratorService, exporter *service.TimetableExportService) *TimetableHandler {
	return &TimetableHandler{timetables: timetables, generator: generator, exporter: exporter}
}

// List godoc
// @Summary List a class group's timetable
// @Description Students only ever see published entries.
// @Tags Timetables
// @Produce json
// @Param departmentId query string true "Department ID"
// @Param semester query int true "Semester"
// @Param day query string false "Weekday, e.g. Monday"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /timetables [get]
func (h *TimetableHandler) List(c *gin.Context) {
	var query dto.TimetableQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	entries, hit, err := h.timetables.ListForGroup(c.Request.Context(), query, requesterClaims(c))
	h.respondEntries(c, entries, hit, err)
}

// Mine godoc
// @Summary Published timetable of the requesting student's class group
// @Tags Timetables
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /timetables/me [get]
func (h *TimetableHandler) Mine(c *gin.Context) {
	entries, hit, err := h.timetables.MyTimetable(c.Request.Context(), requesterClaims(c))
	h.respondEntries(c, entries, hit, err)
}

// MySchedule godoc
// @Summary Teaching schedule of the requesting staff member
// @Tags Timetables
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /timetables/my-schedule [get]
func (h *TimetableHandler) MySchedule(c *gin.Context) {
	entries, hit, err := h.timetables.MySchedule(c.Request.Context(), requesterClaims(c))
	h.respondEntries(c, entries, hit, err)
}

// Slots godoc
// @Summary Configured teaching days, slots and generated room names
// @Tags Timetables
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /timetables/slots [get]
func (h *TimetableHandler) Slots(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.timetables.Slots())
}

// Publication godoc
// @Summary Publication state of a class group
// @Tags Timetables
// @Produce json
// @Param departmentId query string true "Department ID"
// @Param semester query int true "Semester"
// @Success 200 {object} response.Envelope
// @Router /timetables/publication [get]
func (h *TimetableHandler) Publication(c *gin.Context) {
	var query dto.PublicationQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	status, err := h.timetables.PublicationStatus(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status)
}

// Create godoc
// @Summary Add a timetable entry
// @Description The entry inherits its class group's publication state.
// @Tags Timetables
// @Accept json
// @Produce json
// @Param payload body dto.CreateTimetableEntryRequest true "Timetable entry"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /timetables [post]
func (h *TimetableHandler) Create(c *gin.Context) {
	var req dto.CreateTimetableEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	entry, err := h.timetables.AddEntry(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, entry)
}

// Generate godoc
// @Summary Regenerate a class group's timetable as a draft
// @Tags Timetables
// @Accept json
// @Produce json
// @Param payload body dto.GenerateTimetableRequest true "Class group"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /timetables/generate [post]
func (h *TimetableHandler) Generate(c *gin.Context) {
	var req dto.GenerateTimetableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid generate payload"))
		return
	}
	result, err := h.generator.Generate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Publish godoc
// @Summary Publish or unpublish a class group's timetable
// @Tags Timetables
// @Accept json
// @Produce json
// @Param payload body dto.PublishTimetableRequest true "Publication toggle"
// @Success 200 {object} response.Envelope
// @Router /timetables/publish [patch]
func (h *TimetableHandler) Publish(c *gin.Context) {
	var req dto.PublishTimetableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid publish payload"))
		return
	}
	result, err := h.timetables.SetPublished(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// Delete godoc
// @Summary Delete a timetable entry
// @Tags Timetables
// @Param id path string true "Entry ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /timetables/{id} [delete]
func (h *TimetableHandler) Delete(c *gin.Context) {
	if err := h.timetables.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Export godoc
// @Summary Download a class group's timetable
// @Tags Timetables
// @Produce text/csv
// @Produce application/pdf
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param departmentId query string true "Department ID"
// @Param semester query int true "Semester"
// @Param format query string false "csv, pdf or xlsx"
// @Success 200 {file} file
// @Router /timetables/export [get]
func (h *TimetableHandler) Export(c *gin.Context) {
	var query dto.ExportTimetableQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	file, err := h.exporter.Export(c.Request.Context(), query, requesterClaims(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, file.Filename, file.ContentType, file.Body)
}

func (h *TimetableHandler) respondEntries(c *gin.Context, entries []models.TimetableEntry, hit bool, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	if entries == nil {
		entries = []models.TimetableEntry{}
	}
	middleware.SetCacheHit(c, hit)
	middleware.SetResultCount(c, len(entries))
	response.JSON(c, http.StatusOK, entries, middleware.ExtractMeta(c))
}
