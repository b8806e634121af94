package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundflow/receipts/modules/imports/domain/job"
	"github.com/fundflow/receipts/modules/imports/domain/row"
)

func newImportService(jobs *memJobs, rows *memRows, storage *memBlob, publisher *fakePublisher) *ImportService {
	svc := NewImportService(jobs, rows, storage, publisher, testBus())
	svc.inTx = passthroughTx
	return svc
}

func TestImport_SubmitStoresSourceAndSchedulesParse(t *testing.T) {
	jobs := newMemJobs()
	storage := newMemBlob()
	publisher := &fakePublisher{}
	svc := newImportService(jobs, newMemRows(), storage, publisher)

	csvData := []byte("member_id,branch,amount,year\nM-1,North,$10.00,2025\n")
	j, err := svc.Submit(testCtx(), 2025, csvData)
	require.NoError(t, err)

	assert.Equal(t, 2025, j.Period)
	assert.Equal(t, job.StatusRunning, j.Status)
	assert.Equal(t, job.PhaseParsing, j.Phase)

	stored, err := storage.Get(testCtx(), j.SourceKey)
	require.NoError(t, err)
	assert.Equal(t, csvData, stored)

	created := jobs.get(j.ID)
	assert.Equal(t, j.SourceKey, created.SourceKey)
	assert.Equal(t, []string{TopicParse}, publisher.enqueued())
}

func TestImport_RowsChecksJobExists(t *testing.T) {
	svc := newImportService(newMemJobs(), newMemRows(), newMemBlob(), &fakePublisher{})

	_, err := svc.Rows(testCtx(), newTestJob().ID, nil)
	assert.Error(t, err)
}

func TestImport_RowsFiltersByStatus(t *testing.T) {
	j := newTestJob()
	jobs := newMemJobs(j)
	rows := newMemRows()
	rows.seed(j.ID, []row.RawRow{memberRow("M-0"), memberRow("M-1")})
	require.NoError(t, rows.MarkError(testCtx(), j.ID, 1, row.CodeMemberNotFound))

	svc := newImportService(jobs, rows, newMemBlob(), &fakePublisher{})

	status := row.StatusError
	out, err := svc.Rows(testCtx(), j.ID, &status)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].RowIndex)
}

func TestImport_RetryResetsFailedRowsAndRewindsCursor(t *testing.T) {
	j := newTestJob()
	j.TotalRows = 4
	j.Status = job.StatusDone
	jobs := newMemJobs(j)
	rows := newMemRows()
	rows.seed(j.ID, []row.RawRow{
		memberRow("M-0"), memberRow("M-1"), memberRow("M-2"), memberRow("M-3"),
	})
	require.NoError(t, rows.MarkDone(testCtx(), j.ID, 0, "a@example.com", "k0"))
	require.NoError(t, rows.MarkError(testCtx(), j.ID, 1, row.CodeMemberNotFound))
	require.NoError(t, rows.MarkDone(testCtx(), j.ID, 2, "c@example.com", "k2"))
	require.NoError(t, rows.MarkNeedsInput(testCtx(), j.ID, 3, ""))
	require.NoError(t, jobs.AdvanceCursor(testCtx(), j.ID, 4, 2, 2))

	publisher := &fakePublisher{}
	svc := newImportService(jobs, rows, newMemBlob(), publisher)

	updated, err := svc.Retry(testCtx(), j.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, updated.ResumeCursor)
	assert.Equal(t, 1, updated.ProcessedRows)
	assert.Equal(t, 0, updated.FailedRows)
	assert.Equal(t, 2, updated.OKRows)
	assert.Equal(t, job.StatusRunning, updated.Status)

	assert.Equal(t, row.StatusPending, rows.get(j.ID, 1).Status)
	assert.Equal(t, row.StatusPending, rows.get(j.ID, 3).Status)
	assert.Equal(t, row.StatusDone, rows.get(j.ID, 0).Status)
	assert.Equal(t, []string{TopicProcess}, publisher.enqueued())
}

func TestImport_RetryWhileRunningIsRejected(t *testing.T) {
	j := newTestJob()
	jobs := newMemJobs(j)
	rows := newMemRows()
	rows.seed(j.ID, []row.RawRow{memberRow("M-0")})
	require.NoError(t, rows.MarkError(testCtx(), j.ID, 0, row.CodeMemberNotFound))

	svc := newImportService(jobs, rows, newMemBlob(), &fakePublisher{})

	_, err := svc.Retry(testCtx(), j.ID)
	assert.ErrorIs(t, err, ErrJobNotFinished)
	assert.Equal(t, row.StatusError, rows.get(j.ID, 0).Status)
}

func TestImport_RetryWithNothingFailedIsRejected(t *testing.T) {
	j := newTestJob()
	j.Status = job.StatusDone
	jobs := newMemJobs(j)
	rows := newMemRows()
	rows.seed(j.ID, []row.RawRow{memberRow("M-0")})
	require.NoError(t, rows.MarkDone(testCtx(), j.ID, 0, "a@example.com", "k0"))

	publisher := &fakePublisher{}
	svc := newImportService(jobs, rows, newMemBlob(), publisher)

	_, err := svc.Retry(testCtx(), j.ID)
	assert.ErrorIs(t, err, ErrNoFailedRows)
	assert.Empty(t, publisher.enqueued())
}

func newTestJob() *job.Job {
	j := job.New(2025, "")
	j.Phase = job.PhaseProcessing
	return j
}
