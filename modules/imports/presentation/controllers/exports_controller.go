package controllers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/fundflow/receipts/modules/imports/domain/row"
	"github.com/fundflow/receipts/modules/imports/services"
	"github.com/fundflow/receipts/pkg/application"
	"github.com/fundflow/receipts/pkg/composables"
	"github.com/fundflow/receipts/pkg/httpapi"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type ExportsController struct {
	app           application.Application
	exportService *services.ExportService
	basePath      string
}

func NewExportsController(app application.Application) application.Controller {
	return &ExportsController{
		app:           app,
		exportService: app.Service(services.ExportService{}).(*services.ExportService),
		basePath:      "/exports",
	}
}

func (c *ExportsController) Key() string {
	return c.basePath
}

func (c *ExportsController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.HandleFunc("/receipts.xlsx", c.ReceiptsXLSX).Methods(http.MethodGet)
}

func (c *ExportsController) ReceiptsXLSX(w http.ResponseWriter, r *http.Request) {
	period, err := periodQuery(r)
	if err != nil {
		_ = httpapi.WriteError(w, http.StatusBadRequest, "invalid_period", err.Error(), nil)
		return
	}

	data, err := c.exportService.ReceiptsXLSX(r.Context(), period)
	if err != nil {
		composables.UseLogger(r.Context()).WithError(err).Error("receipt export failed")
		_ = httpapi.WriteError(w, http.StatusInternalServerError, "internal", "failed to export receipts", nil)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=receipts-%d.xlsx", period))
	_, _ = w.Write(data)
}

func periodQuery(r *http.Request) (int, error) {
	period, err := strconv.Atoi(r.URL.Query().Get("period"))
	if err != nil || period < row.MinYear || period > row.MaxYear {
		return 0, fmt.Errorf("period must be a year between 2000 and 2100")
	}
	return period, nil
}
