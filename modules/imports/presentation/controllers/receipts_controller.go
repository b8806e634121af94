package controllers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/gorilla/mux"

	"github.com/fundflow/receipts/modules/imports/domain/row"
	"github.com/fundflow/receipts/modules/imports/infrastructure/blob"
	"github.com/fundflow/receipts/modules/imports/infrastructure/persistence"
	"github.com/fundflow/receipts/modules/imports/presentation/dtos"
	"github.com/fundflow/receipts/modules/imports/services"
	"github.com/fundflow/receipts/pkg/application"
	"github.com/fundflow/receipts/pkg/composables"
	"github.com/fundflow/receipts/pkg/httpapi"
)

type ReceiptsController struct {
	app            application.Application
	receiptService *services.ReceiptService
	basePath       string
}

func NewReceiptsController(app application.Application) application.Controller {
	return &ReceiptsController{
		app:            app,
		receiptService: app.Service(services.ReceiptService{}).(*services.ReceiptService),
		basePath:       "/receipts",
	}
}

func (c *ReceiptsController) Key() string {
	return c.basePath
}

func (c *ReceiptsController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.HandleFunc("/{period}", c.ListByPeriod).Methods(http.MethodGet)
	router.HandleFunc("/{period}/{memberID}", c.GetReceipt).Methods(http.MethodGet)
	router.HandleFunc("/{period}/{memberID}/document", c.GetDocument).Methods(http.MethodGet)
}

func (c *ReceiptsController) ListByPeriod(w http.ResponseWriter, r *http.Request) {
	period, ok := periodVar(w, r)
	if !ok {
		return
	}

	receipts, err := c.receiptService.FindByPeriod(r.Context(), period)
	if err != nil {
		composables.UseLogger(r.Context()).WithError(err).Error("receipt listing failed")
		_ = httpapi.WriteError(w, http.StatusInternalServerError, "internal", "failed to list receipts", nil)
		return
	}

	_ = httpapi.WriteJSON(w, http.StatusOK, dtos.ReceiptsToResponse(receipts))
}

func (c *ReceiptsController) GetReceipt(w http.ResponseWriter, r *http.Request) {
	period, ok := periodVar(w, r)
	if !ok {
		return
	}

	rec, err := c.receiptService.GetByKey(r.Context(), period, mux.Vars(r)["memberID"])
	if errors.Is(err, persistence.ErrReceiptNotFound) {
		_ = httpapi.WriteError(w, http.StatusNotFound, "receipt_not_found", "no receipt for that period and member", nil)
		return
	}
	if err != nil {
		composables.UseLogger(r.Context()).WithError(err).Error("receipt lookup failed")
		_ = httpapi.WriteError(w, http.StatusInternalServerError, "internal", "failed to load receipt", nil)
		return
	}

	_ = httpapi.WriteJSON(w, http.StatusOK, dtos.ReceiptToResponse(rec))
}

func (c *ReceiptsController) GetDocument(w http.ResponseWriter, r *http.Request) {
	period, ok := periodVar(w, r)
	if !ok {
		return
	}

	doc, err := c.receiptService.Document(r.Context(), period, mux.Vars(r)["memberID"])
	if errors.Is(err, persistence.ErrReceiptNotFound) || errors.Is(err, blob.ErrNotFound) {
		_ = httpapi.WriteError(w, http.StatusNotFound, "document_not_found", "no document for that period and member", nil)
		return
	}
	if err != nil {
		composables.UseLogger(r.Context()).WithError(err).Error("document lookup failed")
		_ = httpapi.WriteError(w, http.StatusInternalServerError, "internal", "failed to load document", nil)
		return
	}
	defer func() { _ = doc.Close() }()

	w.Header().Set("Content-Type", "application/pdf")
	if _, err := io.Copy(w, doc); err != nil {
		composables.UseLogger(r.Context()).WithError(err).Warn("document stream interrupted")
	}
}

func periodVar(w http.ResponseWriter, r *http.Request) (int, bool) {
	period, err := strconv.Atoi(mux.Vars(r)["period"])
	if err != nil || period < row.MinYear || period > row.MaxYear {
		_ = httpapi.WriteError(w, http.StatusBadRequest, "invalid_period", "period must be a year between 2000 and 2100", nil)
		return 0, false
	}
	return period, true
}
