package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/fundflow/receipts/modules/imports/domain/job"
	"github.com/fundflow/receipts/modules/imports/domain/receipt"
	"github.com/fundflow/receipts/modules/imports/domain/row"
	"github.com/fundflow/receipts/modules/imports/infrastructure/blob"
	"github.com/fundflow/receipts/modules/imports/infrastructure/directory"
	"github.com/fundflow/receipts/modules/imports/infrastructure/docgen"
	"github.com/fundflow/receipts/pkg/constants"
	"github.com/fundflow/receipts/pkg/eventbus"
	"github.com/fundflow/receipts/pkg/queue"
	"github.com/fundflow/receipts/pkg/repo"
)

// nopTx satisfies repo.Tx so enqueue paths work without a database; the fake
// publisher never touches it.
type nopTx struct{}

func (nopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (nopTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, nil
}

func (nopTx) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func testCtx() context.Context {
	return context.WithValue(context.Background(), constants.TxKey, repo.Tx(nopTx{}))
}

func passthroughTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func testBus() eventbus.EventBusWithError {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return eventbus.NewEventPublisher(logger)
}

type memJobs struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*job.Job
}

func newMemJobs(jobs ...*job.Job) *memJobs {
	m := &memJobs{jobs: make(map[uuid.UUID]*job.Job)}
	for _, j := range jobs {
		copied := *j
		m.jobs[j.ID] = &copied
	}
	return m
}

func (m *memJobs) get(id uuid.UUID) *job.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *m.jobs[id]
	return &copied
}

func (m *memJobs) Create(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *j
	m.jobs[j.ID] = &copied
	return nil
}

func (m *memJobs) GetByID(_ context.Context, id uuid.UUID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("import job not found")
	}
	copied := *j
	return &copied, nil
}

func (m *memJobs) MarkParsed(_ context.Context, id uuid.UUID, totalRows int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	if j.Phase != job.PhaseParsing {
		return nil
	}
	j.TotalRows = totalRows
	j.Phase = job.PhaseProcessing
	return nil
}

func (m *memJobs) MarkError(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].Status = job.StatusError
	return nil
}

func (m *memJobs) MarkDone(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].Status = job.StatusDone
	return nil
}

func (m *memJobs) AdvanceCursor(_ context.Context, id uuid.UUID, cursor, okDelta, failedDelta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	if cursor > j.ResumeCursor {
		j.ResumeCursor = cursor
	}
	j.ProcessedRows = j.ResumeCursor
	j.OKRows += okDelta
	j.FailedRows += failedDelta
	return nil
}

func (m *memJobs) ResetForRetry(_ context.Context, id uuid.UUID, cursor, failedDelta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	if cursor < j.ResumeCursor {
		j.ResumeCursor = cursor
	}
	j.ProcessedRows = j.ResumeCursor
	j.FailedRows -= failedDelta
	if j.FailedRows < 0 {
		j.FailedRows = 0
	}
	j.Status = job.StatusRunning
	return nil
}

type memRows struct {
	mu   sync.Mutex
	byJb map[uuid.UUID]map[int]*row.Row
}

func newMemRows() *memRows {
	return &memRows{byJb: make(map[uuid.UUID]map[int]*row.Row)}
}

func (m *memRows) seed(jobID uuid.UUID, raws []row.RawRow) {
	_ = m.BulkCreate(context.Background(), jobID, raws)
}

func (m *memRows) get(jobID uuid.UUID, index int) *row.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *m.byJb[jobID][index]
	return &copied
}

func (m *memRows) BulkCreate(_ context.Context, jobID uuid.UUID, raws []row.RawRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.byJb[jobID]
	if !ok {
		rows = make(map[int]*row.Row)
		m.byJb[jobID] = rows
	}
	for i, raw := range raws {
		if _, exists := rows[i]; exists {
			continue
		}
		rows[i] = &row.Row{
			JobID:    jobID,
			RowIndex: i,
			Raw:      raw,
			Status:   row.StatusPending,
		}
	}
	return nil
}

func (m *memRows) FindPendingFrom(_ context.Context, jobID uuid.UUID, from, limit int) ([]*row.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*row.Row
	for _, r := range m.byJb[jobID] {
		if r.Status == row.StatusPending && r.RowIndex >= from {
			copied := *r
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowIndex < out[j].RowIndex })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRows) MinPendingIndex(_ context.Context, jobID uuid.UUID) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	min, found := 0, false
	for _, r := range m.byJb[jobID] {
		if r.Status != row.StatusPending {
			continue
		}
		if !found || r.RowIndex < min {
			min = r.RowIndex
			found = true
		}
	}
	return min, found, nil
}

func (m *memRows) FindByJob(_ context.Context, jobID uuid.UUID, status *row.Status) ([]*row.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*row.Row
	for _, r := range m.byJb[jobID] {
		if status != nil && r.Status != *status {
			continue
		}
		copied := *r
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowIndex < out[j].RowIndex })
	return out, nil
}

func (m *memRows) MarkDone(_ context.Context, jobID uuid.UUID, index int, resolvedEmail, artifactKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.byJb[jobID][index]
	r.Status = row.StatusDone
	r.ResolvedEmail = resolvedEmail
	r.ArtifactKey = artifactKey
	r.ErrorCode = ""
	return nil
}

func (m *memRows) MarkError(_ context.Context, jobID uuid.UUID, index int, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.byJb[jobID][index]
	r.Status = row.StatusError
	r.ErrorCode = code
	return nil
}

func (m *memRows) MarkNeedsInput(_ context.Context, jobID uuid.UUID, index int, resolvedEmail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.byJb[jobID][index]
	r.Status = row.StatusNeedsInput
	r.ResolvedEmail = resolvedEmail
	r.ErrorCode = row.CodeMissingEmail
	return nil
}

func (m *memRows) ResetFailed(_ context.Context, jobID uuid.UUID) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	min, count := 0, 0
	for _, r := range m.byJb[jobID] {
		if r.Status != row.StatusError && r.Status != row.StatusNeedsInput {
			continue
		}
		r.Status = row.StatusPending
		r.ErrorCode = ""
		if count == 0 || r.RowIndex < min {
			min = r.RowIndex
		}
		count++
	}
	return min, count, nil
}

type memReceipts struct {
	mu       sync.Mutex
	receipts map[string]*receipt.Receipt
	upserts  int
}

func newMemReceipts() *memReceipts {
	return &memReceipts{receipts: make(map[string]*receipt.Receipt)}
}

func receiptKey(period int, memberID string) string {
	return fmt.Sprintf("%d/%s", period, memberID)
}

func (m *memReceipts) get(period int, memberID string) *receipt.Receipt {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receipts[receiptKey(period, memberID)]
	if !ok {
		return nil
	}
	copied := *r
	return &copied
}

func (m *memReceipts) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.receipts)
}

func (m *memReceipts) Upsert(_ context.Context, r *receipt.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *r
	m.receipts[receiptKey(r.Period, r.MemberID)] = &copied
	m.upserts++
	return nil
}

func (m *memReceipts) GetByKey(_ context.Context, period int, memberID string) (*receipt.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receipts[receiptKey(period, memberID)]
	if !ok {
		return nil, fmt.Errorf("receipt not found")
	}
	copied := *r
	return &copied, nil
}

func (m *memReceipts) FindByPeriod(_ context.Context, period int) ([]*receipt.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*receipt.Receipt
	for _, r := range m.receipts {
		if r.Period == period {
			copied := *r
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out, nil
}

type fakeDirectory struct {
	mu       sync.Mutex
	profiles map[string]*directory.Profile
	errs     map[string]error
	resolves int
	tagged   map[string][]string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		profiles: make(map[string]*directory.Profile),
		errs:     make(map[string]error),
		tagged:   make(map[string][]string),
	}
}

func (d *fakeDirectory) Resolve(_ context.Context, memberID string) (*directory.Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resolves++
	if err, ok := d.errs[memberID]; ok {
		return nil, err
	}
	p, ok := d.profiles[memberID]
	if !ok {
		return nil, directory.ErrMemberNotFound
	}
	return p, nil
}

func (d *fakeDirectory) WriteTags(_ context.Context, memberID string, tags []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tagged[memberID] = tags
	return nil
}

func (d *fakeDirectory) resolveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resolves
}

type fakeGenerator struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (g *fakeGenerator) Generate(_ context.Context, _ docgen.Fields) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return []byte("%PDF"), nil
}

type memBlob struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemBlob() *memBlob {
	return &memBlob{blobs: make(map[string][]byte)}
}

func (b *memBlob) Put(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (b *memBlob) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[key]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return data, nil
}

func (b *memBlob) Open(_ context.Context, key string) (io.ReadCloser, error) {
	data, err := b.Get(context.Background(), key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memBlob) Exists(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.blobs[key]
	return ok, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *fakePublisher) Enqueue(_ context.Context, _ repo.Tx, msg queue.Message) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, msg.Topic)
	return int64(len(p.topics)), nil
}

func (p *fakePublisher) enqueued() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}
