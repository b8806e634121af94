package controllers

import (
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/fundflow/receipts/modules/imports/domain/row"
	"github.com/fundflow/receipts/modules/imports/infrastructure/persistence"
	"github.com/fundflow/receipts/modules/imports/presentation/dtos"
	"github.com/fundflow/receipts/modules/imports/services"
	"github.com/fundflow/receipts/pkg/application"
	"github.com/fundflow/receipts/pkg/composables"
	"github.com/fundflow/receipts/pkg/configuration"
	"github.com/fundflow/receipts/pkg/httpapi"
)

type ImportsController struct {
	app           application.Application
	importService *services.ImportService
	basePath      string
	maxUploadSize int64
}

func NewImportsController(app application.Application) application.Controller {
	return &ImportsController{
		app:           app,
		importService: app.Service(services.ImportService{}).(*services.ImportService),
		basePath:      "/imports",
		maxUploadSize: configuration.Use().MaxUploadSize,
	}
}

func (c *ImportsController) Key() string {
	return c.basePath
}

func (c *ImportsController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.HandleFunc("", c.Submit).Methods(http.MethodPost)
	router.HandleFunc("/{id}", c.GetJob).Methods(http.MethodGet)
	router.HandleFunc("/{id}/rows", c.ListRows).Methods(http.MethodGet)
	router.HandleFunc("/{id}/retry", c.Retry).Methods(http.MethodPost)
}

func (c *ImportsController) Submit(w http.ResponseWriter, r *http.Request) {
	period, err := strconv.Atoi(r.URL.Query().Get("period"))
	if err != nil || period < row.MinYear || period > row.MaxYear {
		_ = httpapi.WriteError(w, http.StatusBadRequest, "invalid_period", "period must be a year between 2000 and 2100", nil)
		return
	}

	body, ok := c.readCSV(w, r)
	if !ok {
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		_ = httpapi.WriteError(w, http.StatusBadRequest, "empty_body", "csv payload is empty", nil)
		return
	}

	j, err := c.importService.Submit(r.Context(), period, body)
	if err != nil {
		composables.UseLogger(r.Context()).WithError(err).Error("submit failed")
		_ = httpapi.WriteError(w, http.StatusInternalServerError, "internal", "failed to submit import", nil)
		return
	}

	_ = httpapi.WriteJSON(w, http.StatusOK, &dtos.SubmitResponse{
		JobID:     j.ID,
		Period:    j.Period,
		TotalRows: j.TotalRows,
	})
}

// readCSV accepts either a raw text/csv body or a multipart form with a
// "file" part.
func (c *ImportsController) readCSV(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	contentType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		_ = httpapi.WriteError(w, http.StatusBadRequest, "unsupported_media_type", "expected text/csv or multipart/form-data", nil)
		return nil, false
	}

	var source io.Reader
	switch contentType {
	case "text/csv":
		source = r.Body
	case "multipart/form-data":
		if err := r.ParseMultipartForm(c.maxUploadSize); err != nil {
			_ = httpapi.WriteError(w, http.StatusBadRequest, "unreadable_body", "failed to parse multipart form", nil)
			return nil, false
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			_ = httpapi.WriteError(w, http.StatusBadRequest, "missing_file", "multipart form must carry a file part", nil)
			return nil, false
		}
		defer file.Close()
		source = file
	default:
		_ = httpapi.WriteError(w, http.StatusBadRequest, "unsupported_media_type", "expected text/csv or multipart/form-data", nil)
		return nil, false
	}

	body, err := io.ReadAll(io.LimitReader(source, c.maxUploadSize+1))
	if err != nil {
		_ = httpapi.WriteError(w, http.StatusBadRequest, "unreadable_body", "failed to read request body", nil)
		return nil, false
	}
	if int64(len(body)) > c.maxUploadSize {
		_ = httpapi.WriteError(w, http.StatusBadRequest, "payload_too_large", "csv exceeds the upload limit", nil)
		return nil, false
	}
	return body, true
}

func (c *ImportsController) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	j, err := c.importService.GetJob(r.Context(), id)
	if errors.Is(err, persistence.ErrJobNotFound) {
		_ = httpapi.WriteError(w, http.StatusNotFound, "job_not_found", "no such import job", nil)
		return
	}
	if err != nil {
		composables.UseLogger(r.Context()).WithError(err).Error("job lookup failed")
		_ = httpapi.WriteError(w, http.StatusInternalServerError, "internal", "failed to load job", nil)
		return
	}

	_ = httpapi.WriteJSON(w, http.StatusOK, dtos.JobToResponse(j))
}

func (c *ImportsController) ListRows(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	var status *row.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := row.Status(strings.ToUpper(raw))
		switch s {
		case row.StatusPending, row.StatusDone, row.StatusError, row.StatusNeedsInput:
			status = &s
		default:
			_ = httpapi.WriteError(w, http.StatusBadRequest, "invalid_status", "unknown row status", nil)
			return
		}
	}

	rows, err := c.importService.Rows(r.Context(), id, status)
	if errors.Is(err, persistence.ErrJobNotFound) {
		_ = httpapi.WriteError(w, http.StatusNotFound, "job_not_found", "no such import job", nil)
		return
	}
	if err != nil {
		composables.UseLogger(r.Context()).WithError(err).Error("row listing failed")
		_ = httpapi.WriteError(w, http.StatusInternalServerError, "internal", "failed to list rows", nil)
		return
	}

	_ = httpapi.WriteJSON(w, http.StatusOK, dtos.RowsToResponse(rows))
}

func (c *ImportsController) Retry(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	j, err := c.importService.Retry(r.Context(), id)
	switch {
	case errors.Is(err, persistence.ErrJobNotFound):
		_ = httpapi.WriteError(w, http.StatusNotFound, "job_not_found", "no such import job", nil)
		return
	case errors.Is(err, services.ErrJobNotFinished):
		_ = httpapi.WriteRejection(w, "job_not_finished")
		return
	case errors.Is(err, services.ErrNoFailedRows):
		_ = httpapi.WriteRejection(w, "no_failed_rows")
		return
	case err != nil:
		composables.UseLogger(r.Context()).WithError(err).Error("retry failed")
		_ = httpapi.WriteError(w, http.StatusInternalServerError, "internal", "failed to retry job", nil)
		return
	}

	_ = httpapi.WriteJSON(w, http.StatusOK, dtos.JobToResponse(j))
}

func jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		_ = httpapi.WriteError(w, http.StatusBadRequest, "invalid_job_id", "job id must be a uuid", nil)
		return uuid.Nil, false
	}
	return id, true
}
