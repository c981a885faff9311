package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/checkinbot/checkinbot/internal/config"
	"github.com/checkinbot/checkinbot/internal/console"
	"github.com/checkinbot/checkinbot/internal/credentials"
	apperrors "github.com/checkinbot/checkinbot/internal/errors"
	"github.com/checkinbot/checkinbot/internal/limiter"
	"github.com/checkinbot/checkinbot/internal/models"
	"github.com/checkinbot/checkinbot/internal/pipeline"
	"github.com/checkinbot/checkinbot/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLoader struct {
	records []models.AccountRecord
	err     error
}

func (f *fakeLoader) LoadAll() ([]models.AccountRecord, error) {
	return f.records, f.err
}

type processorFunc func(ctx context.Context, record models.AccountRecord) models.AccountResult

func (fn processorFunc) Run(ctx context.Context, record models.AccountRecord) models.AccountResult {
	return fn(ctx, record)
}

type fakeAuth struct{}

func (fakeAuth) RefreshSession(_ context.Context, access, refresh, _ string) (models.RefreshResult, error) {
	return models.RefreshResult{Token: access + "-new", RefreshToken: refresh + "-new", IdentityToken: "id-" + access}, nil
}

func (fakeAuth) ExchangeAuthorization(_ context.Context, access, _ string) (models.AuthorizationToken, error) {
	if access == "t1-new" {
		return "", &apperrors.ErrAuthorizationMissing{Body: `{"data":{"userLogin":null}}`}
	}
	return models.AuthorizationToken("auth-" + access), nil
}

type fakeChecker struct{}

func (fakeChecker) SubmitCheckin(context.Context, string, models.AuthorizationToken, string, string) models.CheckinOutcome {
	return models.Completed([]models.Reward{{Type: "POINTS", Quantity: "10"}})
}

type fakeNotifier struct {
	mu        sync.Mutex
	summaries []*models.CycleSummary
}

func (f *fakeNotifier) NotifyCycle(_ context.Context, s *models.CycleSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, s)
	return nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	results []string
}

func (f *fakeRecorder) RecordCycle(result string, _ int, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result)
}

type fakeReporter struct {
	mu      sync.Mutex
	banners []string
	errors  []string
}

func (f *fakeReporter) Banner(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.banners = append(f.banners, message)
}

func (f *fakeReporter) Status(status console.Status, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status == console.StatusError {
		f.errors = append(f.errors, message)
	}
}

func writeCredentials(t *testing.T, proxies, access, refresh string) config.FilesConfig {
	t.Helper()
	dir := t.TempDir()
	files := config.FilesConfig{
		Proxies:        filepath.Join(dir, "proxy.txt"),
		AccessTokens:   filepath.Join(dir, "token.txt"),
		RefreshTokens:  filepath.Join(dir, "refreshtoken.txt"),
		IdentityTokens: filepath.Join(dir, "idtoken.txt"),
	}
	require.NoError(t, os.WriteFile(files.Proxies, []byte(proxies), 0o600))
	require.NoError(t, os.WriteFile(files.AccessTokens, []byte(access), 0o600))
	require.NoError(t, os.WriteFile(files.RefreshTokens, []byte(refresh), 0o600))
	return files
}

func TestRunCycle_OneFailureDoesNotAbort(t *testing.T) {
	files := writeCredentials(t, "\n\n\n", "t0\nt1\nt2\n", "r0\nr1\nr2\n")
	creds := credentials.NewStore(files)
	p := pipeline.New(creds, fakeAuth{}, fakeChecker{})

	history := store.NewMemoryStore()
	notifier := &fakeNotifier{}
	recorder := &fakeRecorder{}
	reporter := &fakeReporter{}

	r := New(creds, p,
		WithConcurrency(3),
		WithHistory(history),
		WithNotifier(notifier),
		WithRecorder(recorder),
		WithReporter(reporter),
		WithIDGenerator(func() string { return "cycle-1" }),
	)

	summary, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 3)

	assert.Equal(t, "cycle-1", summary.ID)
	assert.Equal(t, 3, summary.Accounts)
	assert.Equal(t, 2, summary.Succeeded())
	assert.Equal(t, 1, summary.Failed())
	assert.Equal(t, 2, summary.Counts["completed"])
	assert.Equal(t, 1, summary.Counts["failed:authorization_failed"])

	for i, result := range summary.Results {
		assert.Equal(t, i, result.Index)
	}
	assert.Equal(t, models.StageDone, summary.Results[0].Stage)
	assert.Equal(t, models.StageFailed, summary.Results[1].Stage)
	assert.Equal(t, models.ReasonAuthorizationFailed, summary.Results[1].Reason)
	assert.Equal(t, models.StageDone, summary.Results[2].Stage)

	// every account refreshed before the failing exchange, so all tokens rotated
	records, err := creds.LoadAll()
	require.NoError(t, err)
	for i, rec := range records {
		assert.Equal(t, []string{"t0-new", "t1-new", "t2-new"}[i], rec.AccessToken)
	}

	latest, ok, err := history.LatestCycle(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cycle-1", latest.ID)

	require.Len(t, notifier.summaries, 1)
	assert.Equal(t, []string{"ok"}, recorder.results)
	assert.Equal(t, []string{"processing 3 accounts", "cycle finished: 2 checked in, 1 failed"}, reporter.banners)
}

func TestRunCycle_LoadFailure(t *testing.T) {
	loadErr := &apperrors.ErrConfigMismatch{Proxies: 2, AccessTokens: 3, RefreshTokens: 3}
	var dispatched int32
	p := processorFunc(func(_ context.Context, rec models.AccountRecord) models.AccountResult {
		atomic.AddInt32(&dispatched, 1)
		return models.Failed(rec.Index, models.ReasonRefreshFailed)
	})

	history := store.NewMemoryStore()
	notifier := &fakeNotifier{}
	recorder := &fakeRecorder{}
	reporter := &fakeReporter{}

	r := New(&fakeLoader{err: loadErr}, p,
		WithHistory(history),
		WithNotifier(notifier),
		WithRecorder(recorder),
		WithReporter(reporter),
	)

	summary, err := r.RunCycle(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsFatalLoad(err))
	require.NotNil(t, summary)
	assert.Equal(t, loadErr.Error(), summary.Error)
	assert.Empty(t, summary.Results)
	assert.Zero(t, atomic.LoadInt32(&dispatched))

	assert.Equal(t, []string{"load_error"}, recorder.results)
	require.Len(t, notifier.summaries, 1)
	require.Len(t, reporter.errors, 1)
	assert.Contains(t, reporter.errors[0], "batch failed")
	assert.Empty(t, reporter.banners)

	_, ok, err := history.LatestCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunCycle_BoundedConcurrency(t *testing.T) {
	records := make([]models.AccountRecord, 12)
	for i := range records {
		records[i] = models.AccountRecord{Index: i}
	}

	var inFlight, peak int32
	p := processorFunc(func(_ context.Context, rec models.AccountRecord) models.AccountResult {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return models.Done(rec.Index, models.AlreadyChecked())
	})

	r := New(&fakeLoader{records: records}, p, WithConcurrency(3))
	summary, err := r.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Len(t, summary.Results, 12)
	assert.Equal(t, 12, summary.Counts["already_checked"])
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	assert.Greater(t, atomic.LoadInt32(&peak), int32(0))
}

func TestRunCycle_EachAccountOnce(t *testing.T) {
	records := make([]models.AccountRecord, 25)
	for i := range records {
		records[i] = models.AccountRecord{Index: i}
	}

	var mu sync.Mutex
	seen := make(map[int]int)
	p := processorFunc(func(_ context.Context, rec models.AccountRecord) models.AccountResult {
		mu.Lock()
		seen[rec.Index]++
		mu.Unlock()
		return models.Done(rec.Index, models.UnknownStatus("PENDING"))
	})

	r := New(&fakeLoader{records: records}, p, WithConcurrency(4))
	_, err := r.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, seen, 25)
	for idx, n := range seen {
		assert.Equal(t, 1, n, "account %d", idx)
	}
}

func TestRunCycle_EmptyAccountList(t *testing.T) {
	r := New(&fakeLoader{}, processorFunc(func(_ context.Context, rec models.AccountRecord) models.AccountResult {
		t.Errorf("unexpected dispatch of account %d", rec.Index)
		return models.AccountResult{}
	}))

	summary, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Accounts)
	assert.Empty(t, summary.Results)
}

func TestRunCycle_CancelledBeforeDispatch(t *testing.T) {
	records := []models.AccountRecord{{Index: 0}, {Index: 1}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var dispatched int32
	p := processorFunc(func(_ context.Context, rec models.AccountRecord) models.AccountResult {
		atomic.AddInt32(&dispatched, 1)
		return models.Done(rec.Index, models.AlreadyChecked())
	})

	r := New(&fakeLoader{records: records}, p, WithConcurrency(1))
	summary, err := r.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, int(atomic.LoadInt32(&dispatched)), len(summary.Results))
	assert.LessOrEqual(t, len(summary.Results), 2)
}

type failingHistory struct{}

func (failingHistory) SaveCycle(context.Context, *models.CycleSummary) error {
	return errors.New("disk full")
}

func TestRunCycle_HistoryFailureIsNotFatal(t *testing.T) {
	records := []models.AccountRecord{{Index: 0}}
	p := processorFunc(func(_ context.Context, rec models.AccountRecord) models.AccountResult {
		return models.Done(rec.Index, models.AlreadyChecked())
	})

	r := New(&fakeLoader{records: records}, p, WithHistory(failingHistory{}))
	summary, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded())
}

func TestSetConcurrency(t *testing.T) {
	r := New(&fakeLoader{}, processorFunc(nil), WithConcurrency(0))
	assert.Equal(t, DefaultConcurrency, r.Concurrency())

	r.SetConcurrency(8)
	assert.Equal(t, 8, r.Concurrency())

	r.SetConcurrency(-1)
	assert.Equal(t, DefaultConcurrency, r.Concurrency())
}

func TestRunCycle_PerProxyGate(t *testing.T) {
	records := []models.AccountRecord{
		{Index: 0, Proxy: "http://10.0.0.1:8080"},
		{Index: 1, Proxy: "http://10.0.0.1:8080"},
		{Index: 2, Proxy: "http://10.0.0.1:8080"},
		{Index: 3, Proxy: "http://10.0.0.2:8080"},
	}

	gate := limiter.New(1, nil)
	var mu sync.Mutex
	inFlight := map[string]int{}
	peak := map[string]int{}

	p := processorFunc(func(_ context.Context, rec models.AccountRecord) models.AccountResult {
		mu.Lock()
		inFlight[rec.Proxy]++
		if inFlight[rec.Proxy] > peak[rec.Proxy] {
			peak[rec.Proxy] = inFlight[rec.Proxy]
		}
		mu.Unlock()

		time.Sleep(15 * time.Millisecond)

		mu.Lock()
		inFlight[rec.Proxy]--
		mu.Unlock()
		return models.Done(rec.Index, models.AlreadyChecked())
	})

	r := New(&fakeLoader{records: records}, p, WithConcurrency(4), WithGate(gate))
	summary, err := r.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Succeeded())
	assert.Equal(t, 1, peak["http://10.0.0.1:8080"])
	assert.Equal(t, 1, peak["http://10.0.0.2:8080"])
	assert.Zero(t, gate.Current("http://10.0.0.1:8080"))
}

type closedGate struct{}

func (closedGate) Wait(context.Context, string) error { return context.Canceled }
func (closedGate) Release(string)                     {}

func TestRunCycle_GateFailureIsException(t *testing.T) {
	records := []models.AccountRecord{{Index: 0}}
	p := processorFunc(func(_ context.Context, rec models.AccountRecord) models.AccountResult {
		t.Errorf("account %d should not run without a slot", rec.Index)
		return models.AccountResult{}
	})

	r := New(&fakeLoader{records: records}, p, WithGate(closedGate{}))
	summary, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, "failed:exception", summary.Results[0].Category())
	assert.Contains(t, string(summary.Results[0].Reason), "proxy slot")
}
