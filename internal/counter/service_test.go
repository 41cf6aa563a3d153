package counter_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabtedu/counterd/internal/counter"
)

// memRepo is an in-memory counter.Repository with the same race-resolution
// semantics as the Postgres implementation.
type memRepo struct {
	mu      sync.Mutex
	records map[string]counter.Record
	seqs    map[counter.SequenceKey]int

	reserveResult *int            // overrides reservation when set
	failReserve   error           // returned by ReserveNextSequence when set
	failBind      error           // returned by BindLedger when set
	bindOverride  *counter.Record // returned by BindLedger when set
}

func newMemRepo() *memRepo {
	return &memRepo{
		records: make(map[string]counter.Record),
		seqs:    make(map[counter.SequenceKey]int),
	}
}

func (r *memRepo) GetPriorCounter(_ context.Context, nationalID string) (*counter.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[nationalID]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (r *memRepo) ReserveNextSequence(_ context.Context, yearCode, prefix string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failReserve != nil {
		return 0, r.failReserve
	}
	if r.reserveResult != nil {
		return *r.reserveResult, nil
	}
	key := counter.SequenceKey{YearCode: yearCode, Prefix: prefix}
	next, ok := r.seqs[key]
	if !ok {
		next = 1
	}
	if next >= counter.SequenceCeiling {
		return counter.SequenceCeiling, nil
	}
	r.seqs[key] = next + 1
	return next, nil
}

func (r *memRepo) BindLedger(_ context.Context, rec counter.Record) (counter.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failBind != nil {
		return counter.Record{}, r.failBind
	}
	if r.bindOverride != nil {
		return *r.bindOverride, nil
	}
	if existing, ok := r.records[rec.NationalID]; ok {
		return existing, nil
	}
	for _, existing := range r.records {
		if existing.Counter == rec.Counter {
			return existing, nil
		}
	}
	rec.CreatedAt = time.Now()
	r.records[rec.NationalID] = rec
	return rec, nil
}

func (r *memRepo) IterLedger(_ context.Context, fn func(counter.Record) error) error {
	r.mu.Lock()
	recs := make([]counter.Record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.Unlock()
	for _, rec := range recs {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (r *memRepo) GetSequencePositions(context.Context) (map[counter.SequenceKey]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[counter.SequenceKey]int, len(r.seqs))
	for k, v := range r.seqs {
		out[k] = v
	}
	return out, nil
}

func (r *memRepo) UpsertSequencePosition(_ context.Context, yearCode, prefix string, nextSeq int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seqs[counter.SequenceKey{YearCode: yearCode, Prefix: prefix}] = nextSeq
	return nil
}

// countingMetrics records observations for assertions.
type countingMetrics struct {
	mu        sync.Mutex
	reuse     int
	generated int
	overflow  int
	conflicts map[string]int
	mismatch  map[string]int
	positions map[counter.SequenceKey]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		conflicts: make(map[string]int),
		mismatch:  make(map[string]int),
		positions: make(map[counter.SequenceKey]int),
	}
}

func (m *countingMetrics) ObserveReuse(context.Context, string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reuse++
}

func (m *countingMetrics) ObserveGeneration(context.Context, string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generated++
}

func (m *countingMetrics) ObserveConflict(_ context.Context, conflictType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts[conflictType]++
}

func (m *countingMetrics) ObserveOverflow(context.Context, string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overflow++
}

func (m *countingMetrics) ObserveBackfillMismatch(_ context.Context, mismatchType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mismatch[mismatchType]++
}

func (m *countingMetrics) RecordSequencePosition(_ context.Context, year, prefix string, seq int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[counter.SequenceKey{YearCode: year, Prefix: prefix}] = seq
}

type fixedYear string

func (f fixedYear) CurrentYearCode() string { return string(f) }

func newTestService(repo counter.Repository, years counter.YearProvider, m counter.Metrics) *counter.Service {
	return counter.NewService(repo, years, m, slog.New(slog.DiscardHandler), "test-salt")
}

func TestGetOrCreate_FirstAllocation(t *testing.T) {
	repo := newMemRepo()
	m := newCountingMetrics()
	svc := newTestService(repo, fixedYear("54"), m)

	got, err := svc.GetOrCreate(context.Background(), "1234567890", 0)
	require.NoError(t, err)
	assert.Equal(t, "543730001", got)
	assert.True(t, counter.ValidCounter(got))
	assert.Equal(t, 1, m.generated)
	assert.Equal(t, 0, m.reuse)

	rec, err := repo.GetPriorCounter(context.Background(), "1234567890")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "543730001", rec.Counter)
	assert.Equal(t, "54", rec.YearCode)
}

func TestGetOrCreate_ReuseIgnoresGender(t *testing.T) {
	repo := newMemRepo()
	m := newCountingMetrics()
	svc := newTestService(repo, fixedYear("54"), m)

	first, err := svc.GetOrCreate(context.Background(), "1234567890", 0)
	require.NoError(t, err)

	// Same subject with the opposite gender still reuses the stored counter.
	second, err := svc.GetOrCreate(context.Background(), "1234567890", 1)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, "543730001", second)
	assert.Equal(t, 1, m.reuse)
	assert.Equal(t, 1, m.generated)
}

func TestGetOrCreate_ReuseAcrossYear(t *testing.T) {
	repo := newMemRepo()
	repo.records["1234567890"] = counter.Record{
		NationalID: "1234567890",
		Counter:    "533730007",
		YearCode:   "53",
		CreatedAt:  time.Now(),
	}
	m := newCountingMetrics()
	svc := newTestService(repo, fixedYear("54"), m)

	got, err := svc.GetOrCreate(context.Background(), "1234567890", 0)
	require.NoError(t, err)
	assert.Equal(t, "533730007", got, "stored counter wins even when the year moved on")
	assert.Equal(t, 1, m.reuse)
}

func TestGetOrCreate_Validation(t *testing.T) {
	tests := []struct {
		name       string
		nationalID string
		gender     int
		year       string
		wantCode   string
	}{
		{"short national id", "123", 0, "54", counter.CodeInvalidNationalID},
		{"non-digit national id", "12345abc90", 0, "54", counter.CodeInvalidNationalID},
		{"unknown gender", "1234567890", 7, "54", counter.CodeInvalidGender},
		{"negative gender", "1234567890", -1, "54", counter.CodeInvalidGender},
		{"bad year code", "1234567890", 0, "5", counter.CodeInvalidYearCode},
		{"empty year code", "1234567890", 0, "", counter.CodeInvalidYearCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo()
			svc := newTestService(repo, fixedYear(tt.year), newCountingMetrics())

			_, err := svc.GetOrCreate(context.Background(), tt.nationalID, tt.gender)
			require.Error(t, err)
			assert.True(t, counter.IsCode(err, tt.wantCode), "want %s, got %v", tt.wantCode, err)
			assert.Empty(t, repo.records, "validation failures must not write")
		})
	}
}

func TestGetOrCreate_Exhausted(t *testing.T) {
	repo := newMemRepo()
	repo.seqs[counter.SequenceKey{YearCode: "54", Prefix: "373"}] = counter.SequenceCeiling
	m := newCountingMetrics()
	svc := newTestService(repo, fixedYear("54"), m)

	_, err := svc.GetOrCreate(context.Background(), "1234567890", 0)
	require.Error(t, err)
	assert.True(t, counter.IsCode(err, counter.CodeExhausted))
	assert.Equal(t, 1, m.overflow)
	assert.Empty(t, repo.records, "no ledger row on exhaustion")
}

func TestGetOrCreate_ReserveZeroIsConflict(t *testing.T) {
	repo := newMemRepo()
	zero := 0
	repo.reserveResult = &zero
	svc := newTestService(repo, fixedYear("54"), newCountingMetrics())

	_, err := svc.GetOrCreate(context.Background(), "1234567890", 0)
	require.Error(t, err)
	assert.True(t, counter.IsCode(err, counter.CodeDBConflict))
}

func TestGetOrCreate_ReserveConflictPassthrough(t *testing.T) {
	repo := newMemRepo()
	repo.failReserve = counter.NewError(counter.CodeDBConflict, "تست", nil)
	svc := newTestService(repo, fixedYear("54"), newCountingMetrics())

	_, err := svc.GetOrCreate(context.Background(), "1234567890", 0)
	require.Error(t, err)
	assert.True(t, counter.IsCode(err, counter.CodeDBConflict))
}

func TestGetOrCreate_LedgerRaceReturnsWinner(t *testing.T) {
	repo := newMemRepo()
	// A concurrent writer bound the subject between our lookup and bind;
	// BindLedger hands back the winner's row instead of ours.
	repo.bindOverride = &counter.Record{
		NationalID: "1234567890",
		Counter:    "543730042",
		YearCode:   "54",
		CreatedAt:  time.Now(),
	}
	m := newCountingMetrics()
	svc := newTestService(repo, fixedYear("54"), m)

	got, err := svc.GetOrCreate(context.Background(), "1234567890", 0)
	require.NoError(t, err)
	assert.Equal(t, "543730042", got, "winner's counter is returned, not an error")
	assert.Equal(t, 1, m.conflicts["ledger_race"])
	assert.Equal(t, 0, m.generated, "a raced bind is not a generation")
}

func TestGetOrCreate_BindErrorTaxonomy(t *testing.T) {
	t.Run("typed conflict passes through", func(t *testing.T) {
		repo := newMemRepo()
		repo.failBind = counter.NewError(counter.CodeDBConflict, "تست", nil)
		m := newCountingMetrics()
		svc := newTestService(repo, fixedYear("54"), m)

		_, err := svc.GetOrCreate(context.Background(), "1234567890", 0)
		require.Error(t, err)
		assert.True(t, counter.IsCode(err, counter.CodeDBConflict))
		assert.Equal(t, 1, m.conflicts["ledger_conflict"])
	})

	t.Run("untyped error wrapped as conflict", func(t *testing.T) {
		repo := newMemRepo()
		repo.failBind = context.DeadlineExceeded
		m := newCountingMetrics()
		svc := newTestService(repo, fixedYear("54"), m)

		_, err := svc.GetOrCreate(context.Background(), "1234567890", 0)
		require.Error(t, err)
		assert.True(t, counter.IsCode(err, counter.CodeDBConflict))
		assert.Equal(t, 1, m.conflicts["ledger_exception"])
		assert.ErrorIs(t, err, context.DeadlineExceeded, "cause preserved in chain")
	})
}

func TestGetOrCreate_MonotonicPerKey(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, fixedYear("54"), newCountingMetrics())

	ids := []string{"1000000001", "1000000002", "1000000003"}
	var got []string
	for _, id := range ids {
		c, err := svc.GetOrCreate(context.Background(), id, 1)
		require.NoError(t, err)
		got = append(got, c)
	}
	assert.Equal(t, []string{"543570001", "543570002", "543570003"}, got)
}

func TestGetOrCreate_ConcurrentSameSubject(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, fixedYear("54"), newCountingMetrics())

	const workers = 16
	results := make([]string, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := svc.GetOrCreate(context.Background(), "1234567890", 0)
			if assert.NoError(t, err) {
				results[i] = c
			}
		}()
	}
	wg.Wait()

	for _, c := range results {
		assert.Equal(t, results[0], c, "all concurrent callers get the identical counter")
	}
	assert.Len(t, repo.records, 1, "exactly one ledger row")
}
