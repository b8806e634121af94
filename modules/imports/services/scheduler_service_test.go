package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundflow/receipts/modules/imports/domain/job"
	"github.com/fundflow/receipts/modules/imports/domain/receipt"
	"github.com/fundflow/receipts/modules/imports/domain/row"
	"github.com/fundflow/receipts/modules/imports/infrastructure/directory"
	"github.com/fundflow/receipts/modules/imports/infrastructure/docgen"
)

type schedulerFixture struct {
	jobs      *memJobs
	rows      *memRows
	receipts  *memReceipts
	dir       *fakeDirectory
	generator *fakeGenerator
	storage   *memBlob
	publisher *fakePublisher
	scheduler *SchedulerService
	job       *job.Job
}

func memberRow(memberID string) row.RawRow {
	return memberRowAmount(memberID, "$100.00")
}

func memberRowAmount(memberID, amount string) row.RawRow {
	return row.RawRow{Fields: map[string]string{
		"member_id": memberID,
		"branch":    "North",
		"amount":    amount,
		"year":      "2025",
	}}
}

func newSchedulerFixture(t *testing.T, cfg SchedulerConfig, raws []row.RawRow) *schedulerFixture {
	t.Helper()

	j := job.New(2025, "imports/test/source.csv")
	j.Phase = job.PhaseProcessing
	j.TotalRows = len(raws)

	f := &schedulerFixture{
		jobs:      newMemJobs(j),
		rows:      newMemRows(),
		receipts:  newMemReceipts(),
		dir:       newFakeDirectory(),
		generator: &fakeGenerator{},
		storage:   newMemBlob(),
		publisher: &fakePublisher{},
		job:       j,
	}
	f.rows.seed(j.ID, raws)

	f.scheduler = NewSchedulerService(
		cfg, f.jobs, f.rows, f.receipts, f.dir, f.generator, f.storage, f.publisher, testBus(),
	)
	f.scheduler.inTx = passthroughTx
	return f
}

// drain runs invocations until the job leaves RUNNING, like the queue would.
func (f *schedulerFixture) drain(t *testing.T) *job.Job {
	t.Helper()
	for i := 0; i < 50; i++ {
		require.NoError(t, f.scheduler.RunOnce(testCtx(), f.job.ID))
		if j := f.jobs.get(f.job.ID); j.Terminal() {
			return j
		}
	}
	t.Fatal("job did not terminate within 50 invocations")
	return nil
}

func (f *schedulerFixture) knowMembers(ids ...string) {
	for _, id := range ids {
		f.dir.profiles[id] = &directory.Profile{
			Email:       id + "@example.com",
			DisplayName: "Member " + id,
		}
	}
}

func TestScheduler_DrainsJobToCompletion(t *testing.T) {
	raws := make([]row.RawRow, 5)
	for i := range raws {
		raws[i] = memberRow(fmt.Sprintf("M-%d", i))
	}
	f := newSchedulerFixture(t, SchedulerConfig{
		BatchSize:           2,
		TimeBudget:          time.Minute,
		DirectoryCallBudget: 100,
	}, raws)
	f.knowMembers("M-0", "M-1", "M-2", "M-3", "M-4")

	done := f.drain(t)

	assert.Equal(t, job.StatusDone, done.Status)
	assert.Equal(t, 5, done.ResumeCursor)
	assert.Equal(t, 5, done.ProcessedRows)
	assert.Equal(t, 5, done.OKRows)
	assert.Equal(t, 0, done.FailedRows)

	for i := 0; i < 5; i++ {
		r := f.rows.get(f.job.ID, i)
		assert.Equal(t, row.StatusDone, r.Status)
		assert.NotEmpty(t, r.ArtifactKey)

		ok, err := f.storage.Exists(testCtx(), r.ArtifactKey)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 5, f.receipts.count())
	assert.Equal(t, receipt.StatusIssued, f.receipts.get(2025, "M-3").Status)
	// 5 rows at batch size 2 need two continuations.
	assert.Equal(t, []string{TopicProcess, TopicProcess}, f.publisher.enqueued())
}

func TestScheduler_DoneJobIsNoOp(t *testing.T) {
	f := newSchedulerFixture(t, SchedulerConfig{
		BatchSize:           10,
		TimeBudget:          time.Minute,
		DirectoryCallBudget: 10,
	}, []row.RawRow{memberRow("M-0")})
	require.NoError(t, f.jobs.MarkDone(testCtx(), f.job.ID))

	require.NoError(t, f.scheduler.RunOnce(testCtx(), f.job.ID))

	assert.Equal(t, row.StatusPending, f.rows.get(f.job.ID, 0).Status)
	assert.Equal(t, 0, f.dir.resolveCount())
	assert.Empty(t, f.publisher.enqueued())
}

func TestScheduler_ResumesFromCursor(t *testing.T) {
	raws := make([]row.RawRow, 10)
	for i := range raws {
		raws[i] = memberRow(fmt.Sprintf("M-%d", i))
	}
	f := newSchedulerFixture(t, SchedulerConfig{
		BatchSize:           100,
		TimeBudget:          time.Minute,
		DirectoryCallBudget: 100,
	}, raws)
	for i := range raws {
		f.knowMembers(fmt.Sprintf("M-%d", i))
	}
	// Simulate an earlier invocation that finished rows 0..2 and persisted
	// its progress before crashing.
	for i := 0; i < 3; i++ {
		require.NoError(t, f.rows.MarkDone(testCtx(), f.job.ID, i, "x@example.com", "k"))
	}
	require.NoError(t, f.jobs.AdvanceCursor(testCtx(), f.job.ID, 3, 3, 0))

	done := f.drain(t)

	assert.Equal(t, 10, done.ResumeCursor)
	assert.Equal(t, job.StatusDone, done.Status)
	assert.Equal(t, 10, done.OKRows)
	// Rows 0..2 were not re-resolved.
	assert.Equal(t, 7, f.dir.resolveCount())
}

func TestScheduler_ForwardProgressWhenEveryLookupFails(t *testing.T) {
	raws := make([]row.RawRow, 6)
	for i := range raws {
		raws[i] = memberRow(fmt.Sprintf("M-%d", i))
	}
	f := newSchedulerFixture(t, SchedulerConfig{
		BatchSize:           2,
		TimeBudget:          time.Minute,
		DirectoryCallBudget: 100,
	}, raws)
	// The fake directory knows nobody: every resolve is not-found.

	done := f.drain(t)

	assert.Equal(t, job.StatusDone, done.Status)
	assert.Equal(t, 6, done.ProcessedRows)
	assert.Equal(t, 0, done.OKRows)
	assert.Equal(t, 6, done.FailedRows)
	for i := 0; i < 6; i++ {
		r := f.rows.get(f.job.ID, i)
		assert.Equal(t, row.StatusError, r.Status)
		assert.Equal(t, row.CodeMemberNotFound, r.ErrorCode)
	}
	rec := f.receipts.get(2025, "M-0")
	require.NotNil(t, rec)
	assert.Equal(t, receipt.StatusFailed, rec.Status)
}

func TestScheduler_TransientFailureLeavesRowPending(t *testing.T) {
	f := newSchedulerFixture(t, SchedulerConfig{
		BatchSize:           10,
		TimeBudget:          time.Minute,
		DirectoryCallBudget: 100,
	}, []row.RawRow{memberRow("M-0"), memberRow("M-1"), memberRow("M-2")})
	f.knowMembers("M-0", "M-2")
	f.dir.errs["M-1"] = &directory.TransientError{Err: fmt.Errorf("connection reset")}

	require.NoError(t, f.scheduler.RunOnce(testCtx(), f.job.ID))

	assert.Equal(t, row.StatusDone, f.rows.get(f.job.ID, 0).Status)
	assert.Equal(t, row.StatusPending, f.rows.get(f.job.ID, 1).Status)
	assert.Equal(t, row.StatusDone, f.rows.get(f.job.ID, 2).Status)

	j := f.jobs.get(f.job.ID)
	assert.Equal(t, job.StatusRunning, j.Status)
	// The skipped row is uncounted; the cursor still advanced past row 2.
	assert.Equal(t, 3, j.ResumeCursor)
	assert.Equal(t, 2, j.OKRows)
	assert.Equal(t, 0, j.FailedRows)
	// A continuation is enqueued so the pending row below the cursor is
	// found again through the min-pending scan.
	assert.Equal(t, []string{TopicProcess}, f.publisher.enqueued())

	// Next invocation recovers it once the directory heals.
	delete(f.dir.errs, "M-1")
	f.knowMembers("M-1")
	done := f.drain(t)
	assert.Equal(t, job.StatusDone, done.Status)
	assert.Equal(t, 3, done.OKRows)
}

func TestScheduler_CallBudgetStopsClaiming(t *testing.T) {
	raws := make([]row.RawRow, 5)
	for i := range raws {
		raws[i] = memberRow(fmt.Sprintf("M-%d", i))
	}
	f := newSchedulerFixture(t, SchedulerConfig{
		BatchSize:           10,
		TimeBudget:          time.Minute,
		DirectoryCallBudget: 2,
	}, raws)
	for i := range raws {
		f.knowMembers(fmt.Sprintf("M-%d", i))
	}

	require.NoError(t, f.scheduler.RunOnce(testCtx(), f.job.ID))

	j := f.jobs.get(f.job.ID)
	assert.Equal(t, 2, j.OKRows)
	assert.Equal(t, 2, j.ResumeCursor)
	assert.Equal(t, 2, f.dir.resolveCount())
	for i := 2; i < 5; i++ {
		assert.Equal(t, row.StatusPending, f.rows.get(f.job.ID, i).Status)
	}
	assert.Equal(t, []string{TopicProcess}, f.publisher.enqueued())
}

func TestScheduler_MemoizedLookupsShareBudget(t *testing.T) {
	raws := []row.RawRow{
		memberRow("M-0"), memberRow("M-0"), memberRow("M-0"), memberRow("M-1"),
	}
	f := newSchedulerFixture(t, SchedulerConfig{
		BatchSize:           10,
		TimeBudget:          time.Minute,
		DirectoryCallBudget: 2,
	}, raws)
	f.knowMembers("M-0", "M-1")

	done := f.drain(t)

	assert.Equal(t, job.StatusDone, done.Status)
	assert.Equal(t, 4, done.OKRows)
	// Repeated keys inside one invocation resolve once.
	assert.Equal(t, 2, f.dir.resolveCount())
}

func TestScheduler_DuplicateMemberRowsKeepLastReceipt(t *testing.T) {
	raws := []row.RawRow{
		memberRowAmount("M-0", "$10.00"),
		memberRowAmount("M-0", "$25.50"),
	}
	f := newSchedulerFixture(t, SchedulerConfig{
		BatchSize:           10,
		TimeBudget:          time.Minute,
		DirectoryCallBudget: 10,
	}, raws)
	f.knowMembers("M-0")

	done := f.drain(t)

	assert.Equal(t, job.StatusDone, done.Status)
	assert.Equal(t, 2, done.OKRows)

	// Both rows wrote through the upsert, but the key collapses them to one
	// receipt carrying the later row's values.
	assert.Equal(t, 2, f.receipts.upserts)
	assert.Equal(t, 1, f.receipts.count())

	rec := f.receipts.get(2025, "M-0")
	require.NotNil(t, rec)
	assert.Equal(t, receipt.StatusIssued, rec.Status)
	assert.Equal(t, int64(2550), rec.AmountCents)
}

func TestScheduler_RetryReconcilesCounters(t *testing.T) {
	f := newSchedulerFixture(t, SchedulerConfig{
		BatchSize:           10,
		TimeBudget:          time.Minute,
		DirectoryCallBudget: 10,
	}, []row.RawRow{memberRow("M-0"), memberRow("M-1"), memberRow("M-2")})
	f.knowMembers("M-0", "M-2")

	done := f.drain(t)
	assert.Equal(t, 2, done.OKRows)
	assert.Equal(t, 1, done.FailedRows)

	importSvc := NewImportService(f.jobs, f.rows, f.storage, f.publisher, testBus())
	importSvc.inTx = passthroughTx
	retried, err := importSvc.Retry(testCtx(), f.job.ID)
	require.NoError(t, err)

	// The rewind leaves ok_rows ahead of processed_rows until the retried
	// row completes.
	assert.Equal(t, 1, retried.ResumeCursor)
	assert.Equal(t, 0, retried.FailedRows)
	assert.Equal(t, 2, retried.OKRows)

	f.knowMembers("M-1")
	done = f.drain(t)
	assert.Equal(t, job.StatusDone, done.Status)
	assert.Equal(t, 3, done.OKRows)
	assert.Equal(t, 0, done.FailedRows)
	assert.Equal(t, 3, done.ProcessedRows)
	assert.Equal(t, 3, done.ResumeCursor)
}

func TestScheduler_TimeBudgetLeavesRestPending(t *testing.T) {
	raws := make([]row.RawRow, 4)
	for i := range raws {
		raws[i] = memberRow(fmt.Sprintf("M-%d", i))
	}
	f := newSchedulerFixture(t, SchedulerConfig{
		BatchSize:           10,
		TimeBudget:          10 * time.Second,
		DirectoryCallBudget: 100,
	}, raws)
	for i := range raws {
		f.knowMembers(fmt.Sprintf("M-%d", i))
	}
	// Each clock read advances 6s: the second row check sees 12s elapsed.
	base := time.Now()
	elapsed := time.Duration(0)
	f.scheduler.now = func() time.Time {
		now := base.Add(elapsed)
		elapsed += 6 * time.Second
		return now
	}

	require.NoError(t, f.scheduler.RunOnce(testCtx(), f.job.ID))

	j := f.jobs.get(f.job.ID)
	assert.Equal(t, job.StatusRunning, j.Status)
	assert.Equal(t, 1, j.OKRows)
	assert.Equal(t, row.StatusPending, f.rows.get(f.job.ID, 1).Status)
	assert.Equal(t, []string{TopicProcess}, f.publisher.enqueued())
}

func TestScheduler_MissingEmailNeedsInput(t *testing.T) {
	f := newSchedulerFixture(t, SchedulerConfig{
		BatchSize:           10,
		TimeBudget:          time.Minute,
		DirectoryCallBudget: 10,
	}, []row.RawRow{memberRow("M-0")})
	f.dir.profiles["M-0"] = &directory.Profile{DisplayName: "No Email"}

	done := f.drain(t)

	assert.Equal(t, job.StatusDone, done.Status)
	assert.Equal(t, 1, done.FailedRows)

	r := f.rows.get(f.job.ID, 0)
	assert.Equal(t, row.StatusNeedsInput, r.Status)
	assert.Equal(t, row.CodeMissingEmail, r.ErrorCode)

	rec := f.receipts.get(2025, "M-0")
	require.NotNil(t, rec)
	assert.Equal(t, receipt.StatusMissingContact, rec.Status)
}

func TestScheduler_InvalidRowNeverReachesDirectory(t *testing.T) {
	bad := row.RawRow{Fields: map[string]string{
		"member_id": "M-0",
		"amount":    "not-money",
		"year":      "2025",
	}}
	f := newSchedulerFixture(t, SchedulerConfig{
		BatchSize:           10,
		TimeBudget:          time.Minute,
		DirectoryCallBudget: 10,
	}, []row.RawRow{bad})

	done := f.drain(t)

	assert.Equal(t, job.StatusDone, done.Status)
	assert.Equal(t, 1, done.FailedRows)
	assert.Equal(t, row.CodeInvalidRow, f.rows.get(f.job.ID, 0).ErrorCode)
	assert.Equal(t, 0, f.dir.resolveCount())
}

func TestScheduler_AssetFailureAbortsInvocation(t *testing.T) {
	f := newSchedulerFixture(t, SchedulerConfig{
		BatchSize:           10,
		TimeBudget:          time.Minute,
		DirectoryCallBudget: 10,
	}, []row.RawRow{memberRow("M-0")})
	f.knowMembers("M-0")
	f.generator.err = &docgen.AssetError{Err: fmt.Errorf("template missing")}

	err := f.scheduler.RunOnce(testCtx(), f.job.ID)
	require.Error(t, err)

	j := f.jobs.get(f.job.ID)
	assert.Equal(t, job.StatusRunning, j.Status)
	assert.Equal(t, row.StatusPending, f.rows.get(f.job.ID, 0).Status)
}

func TestScheduler_GenerationFailureFailsRow(t *testing.T) {
	f := newSchedulerFixture(t, SchedulerConfig{
		BatchSize:           10,
		TimeBudget:          time.Minute,
		DirectoryCallBudget: 10,
	}, []row.RawRow{memberRow("M-0")})
	f.knowMembers("M-0")
	f.generator.err = fmt.Errorf("glyph missing")

	done := f.drain(t)

	assert.Equal(t, job.StatusDone, done.Status)
	r := f.rows.get(f.job.ID, 0)
	assert.Equal(t, row.StatusError, r.Status)
	assert.Equal(t, row.CodeGeneration, r.ErrorCode)
}

func TestScheduler_CounterInvariants(t *testing.T) {
	raws := make([]row.RawRow, 8)
	for i := range raws {
		raws[i] = memberRow(fmt.Sprintf("M-%d", i))
	}
	f := newSchedulerFixture(t, SchedulerConfig{
		BatchSize:           3,
		TimeBudget:          time.Minute,
		DirectoryCallBudget: 100,
	}, raws)
	f.knowMembers("M-0", "M-2", "M-4", "M-6")
	// Odd members are unknown, so half the rows fail.

	for i := 0; i < 50; i++ {
		require.NoError(t, f.scheduler.RunOnce(testCtx(), f.job.ID))
		j := f.jobs.get(f.job.ID)
		assert.Equal(t, j.ResumeCursor, j.ProcessedRows)
		assert.LessOrEqual(t, j.OKRows+j.FailedRows, j.ProcessedRows)
		if j.Terminal() {
			break
		}
	}

	done := f.jobs.get(f.job.ID)
	assert.Equal(t, job.StatusDone, done.Status)
	assert.Equal(t, 4, done.OKRows)
	assert.Equal(t, 4, done.FailedRows)
	assert.Equal(t, 8, done.ResumeCursor)
}
