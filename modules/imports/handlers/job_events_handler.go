package handlers

import (
	"github.com/sirupsen/logrus"

	"github.com/fundflow/receipts/modules/imports/domain/job"
	"github.com/fundflow/receipts/pkg/eventbus"
)

// JobEventsHandler writes an audit line for each job lifecycle transition.
type JobEventsHandler struct {
	logger *logrus.Logger
}

func RegisterJobEventsHandler(bus eventbus.EventBusWithError, logger *logrus.Logger) *JobEventsHandler {
	h := &JobEventsHandler{logger: logger}
	bus.Subscribe(h.onSubmitted)
	bus.Subscribe(h.onParsed)
	bus.Subscribe(h.onCompleted)
	bus.Subscribe(h.onFailed)
	return h
}

func (h *JobEventsHandler) onSubmitted(event job.SubmittedEvent) {
	h.logger.WithFields(logrus.Fields{
		"job_id": event.Result.ID,
		"period": event.Result.Period,
	}).Info("import job submitted")
}

func (h *JobEventsHandler) onParsed(event job.ParsedEvent) {
	h.logger.WithFields(logrus.Fields{
		"job_id":     event.Result.ID,
		"total_rows": event.Result.TotalRows,
	}).Info("import job parsed")
}

func (h *JobEventsHandler) onCompleted(event job.CompletedEvent) {
	h.logger.WithFields(logrus.Fields{
		"job_id": event.Result.ID,
		"ok":     event.Result.OKRows,
		"failed": event.Result.FailedRows,
	}).Info("import job completed")
}

func (h *JobEventsHandler) onFailed(event job.FailedEvent) {
	h.logger.WithFields(logrus.Fields{
		"job_id": event.Result.ID,
		"reason": event.Reason,
	}).Error("import job failed")
}
