package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"studio/internal/domain"
	"studio/internal/domain/jsoncfg"
	"studio/internal/ledger"
	"studio/internal/providers"
)

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]domain.Job
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[string]domain.Job)}
}

func (r *fakeJobRepo) Create(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job.CreatedAt = time.Now()
	r.jobs[job.ID] = *job
	return nil
}

func (r *fakeJobRepo) GetByID(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := job
	return &out, nil
}

func (r *fakeJobRepo) Transition(_ context.Context, job *domain.Job, from domain.JobStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.jobs[job.ID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if current.Status != from {
		return false, nil
	}
	r.jobs[job.ID] = *job
	return true, nil
}

func (r *fakeJobRepo) ListProcessing(_ context.Context, limit int) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Job, 0)
	for _, job := range r.jobs {
		if job.Status == domain.JobStatusProcessing {
			out = append(out, job)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeJobRepo) Delete(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, jobID)
	return nil
}

func (r *fakeJobRepo) get(t *testing.T, id string) domain.Job {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		t.Fatalf("job %s not found", id)
	}
	return job
}

func (r *fakeJobRepo) onlyID(t *testing.T) string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.jobs) != 1 {
		t.Fatalf("jobs stored = %d, want 1", len(r.jobs))
	}
	for id := range r.jobs {
		return id
	}
	return ""
}

type fakeLedgerRepo struct {
	mu       sync.Mutex
	balances map[string]map[domain.CreditPool]int
	refunds  int
}

func newFakeLedgerRepo(userID string, image, video, legacy int) *fakeLedgerRepo {
	return &fakeLedgerRepo{balances: map[string]map[domain.CreditPool]int{
		userID: {
			domain.PoolImage:  image,
			domain.PoolVideo:  video,
			domain.PoolLegacy: legacy,
		},
	}}
}

func (r *fakeLedgerRepo) Debit(_ context.Context, userID string, pool domain.CreditPool, amount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.balances[userID][pool] < amount {
		return domain.ErrInsufficientFunds
	}
	r.balances[userID][pool] -= amount
	return nil
}

func (r *fakeLedgerRepo) Refund(_ context.Context, userID string, pool domain.CreditPool, amount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[userID][pool] += amount
	r.refunds++
	return nil
}

func (r *fakeLedgerRepo) Grant(_ context.Context, userID string, pool domain.CreditPool, amount int) error {
	return r.Refund(context.Background(), userID, pool, amount)
}

func (r *fakeLedgerRepo) Balances(_ context.Context, userID string) (domain.Balances, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(domain.Balances, len(r.balances[userID]))
	for pool, amount := range r.balances[userID] {
		out[pool] = amount
	}
	return out, nil
}

func (r *fakeLedgerRepo) total(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	sum := 0
	for _, amount := range r.balances[userID] {
		sum += amount
	}
	return sum
}

type scriptedBackend struct {
	name      string
	submitErr error
	sub       providers.Submission

	mu      sync.Mutex
	polls   []providers.PollResult
	pollErr error
	polled  int
}

func (b *scriptedBackend) Name() string { return b.name }

func (b *scriptedBackend) Submit(_ context.Context, _ providers.Request) (providers.Submission, error) {
	if b.submitErr != nil {
		return providers.Submission{}, b.submitErr
	}
	return b.sub, nil
}

func (b *scriptedBackend) Poll(_ context.Context, _ providers.Submission) (providers.PollResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pollErr != nil {
		return providers.PollResult{}, b.pollErr
	}
	idx := b.polled
	if idx >= len(b.polls) {
		idx = len(b.polls) - 1
	}
	b.polled++
	return b.polls[idx], nil
}

// blockingBackend holds Submit until released so a test can interleave other
// calls with an in-flight provider submission.
type blockingBackend struct {
	scriptedBackend
	started chan struct{}
	release chan struct{}
}

func (b *blockingBackend) Submit(ctx context.Context, req providers.Request) (providers.Submission, error) {
	close(b.started)
	<-b.release
	return b.scriptedBackend.Submit(ctx, req)
}

type testEnv struct {
	svc     *Service
	sweeper *Sweeper
	jobs    *fakeJobRepo
	credits *fakeLedgerRepo
	backend providers.Backend
	now     time.Time
}

func newTestEnv(t *testing.T, backend providers.Backend, credits *fakeLedgerRepo) *testEnv {
	t.Helper()
	registry, err := providers.NewRegistry([]providers.Backend{backend}, map[string]string{"kie-x": backend.Name()}, backend.Name())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	env := &testEnv{
		jobs:    newFakeJobRepo(),
		credits: credits,
		backend: backend,
		now:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	svc, err := NewService(Options{
		Jobs:     env.jobs,
		Ledger:   ledger.NewService(credits, zerolog.Nop()),
		Registry: registry,
		Logger:   zerolog.Nop(),
		Now:      func() time.Time { return env.now },
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	env.svc = svc
	env.sweeper = NewSweeper(svc, SweepConfig{})
	return env
}

func imageParams() jsoncfg.JobParams {
	return jsoncfg.JobParams{Prompt: "a lighthouse at dusk", Model: "kie-x", AspectRatio: "1:1"}
}

func TestSubmitJobHappyPath(t *testing.T) {
	backend := &scriptedBackend{
		name:  "kie",
		sub:   providers.Submission{ExternalID: "task-1"},
		polls: []providers.PollResult{{Phase: providers.PhaseDone, ResultURLs: []string{"https://cdn.example/out.png"}}},
	}
	env := newTestEnv(t, backend, newFakeLedgerRepo("user-1", 10, 0, 0))

	job, err := env.svc.SubmitJob(context.Background(), "user-1", domain.MediaKindImage, imageParams())
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if job.Status != domain.JobStatusProcessing {
		t.Fatalf("status = %s, want PROCESSING", job.Status)
	}
	if job.CostDebited != 1 || job.DebitPool != domain.PoolImage {
		t.Fatalf("debit = %d from %s, want 1 from image", job.CostDebited, job.DebitPool)
	}
	if got := env.credits.total("user-1"); got != 9 {
		t.Fatalf("balance after debit = %d, want 9", got)
	}

	if err := env.sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	final := env.jobs.get(t, job.ID)
	if final.Status != domain.JobStatusReady {
		t.Fatalf("status after sweep = %s, want READY", final.Status)
	}
	if final.Progress != 100 || len(final.ResultURLs) != 1 {
		t.Fatalf("progress=%d results=%v", final.Progress, final.ResultURLs)
	}
	if env.credits.refunds != 0 {
		t.Fatalf("refunds = %d, want 0", env.credits.refunds)
	}
}

func TestSubmitJobInsufficientFundsCreatesNoRecord(t *testing.T) {
	backend := &scriptedBackend{name: "kie"}
	env := newTestEnv(t, backend, newFakeLedgerRepo("user-1", 0, 0, 0))

	_, err := env.svc.SubmitJob(context.Background(), "user-1", domain.MediaKindImage, imageParams())
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	env.jobs.mu.Lock()
	defer env.jobs.mu.Unlock()
	if len(env.jobs.jobs) != 0 {
		t.Fatalf("job records created = %d, want 0", len(env.jobs.jobs))
	}
}

func TestSubmitJobDebitsLegacyPoolWhenPrimaryShort(t *testing.T) {
	backend := &scriptedBackend{name: "kie", sub: providers.Submission{ExternalID: "task-2"}}
	env := newTestEnv(t, backend, newFakeLedgerRepo("user-1", 0, 0, 3))

	job, err := env.svc.SubmitJob(context.Background(), "user-1", domain.MediaKindImage, imageParams())
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if job.DebitPool != domain.PoolLegacy {
		t.Fatalf("debit pool = %s, want legacy", job.DebitPool)
	}
}

func TestSubmitJobProviderFailureRefundsAndFails(t *testing.T) {
	backend := &scriptedBackend{name: "kie", submitErr: errors.New("upstream 500")}
	env := newTestEnv(t, backend, newFakeLedgerRepo("user-1", 10, 0, 0))

	job, err := env.svc.SubmitJob(context.Background(), "user-1", domain.MediaKindImage, imageParams())
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want FAILED", job.Status)
	}
	if got := env.credits.total("user-1"); got != 10 {
		t.Fatalf("balance after refund = %d, want 10", got)
	}
	stored := env.jobs.get(t, job.ID)
	if stored.Error == "" {
		t.Fatal("expected failure reason on job")
	}
}

func TestSweepRefundsFailedGeneration(t *testing.T) {
	backend := &scriptedBackend{
		name:  "kie",
		sub:   providers.Submission{ExternalID: "task-3"},
		polls: []providers.PollResult{{Phase: providers.PhaseFailed, ErrorMessage: "content policy"}},
	}
	env := newTestEnv(t, backend, newFakeLedgerRepo("user-1", 5, 0, 0))

	job, err := env.svc.SubmitJob(context.Background(), "user-1", domain.MediaKindImage, imageParams())
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if err := env.sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	final := env.jobs.get(t, job.ID)
	if final.Status != domain.JobStatusFailed || final.Error != "content policy" {
		t.Fatalf("status=%s error=%q", final.Status, final.Error)
	}
	if got := env.credits.total("user-1"); got != 5 {
		t.Fatalf("balance after refund = %d, want 5", got)
	}
	if env.credits.refunds != 1 {
		t.Fatalf("refunds = %d, want 1", env.credits.refunds)
	}
}

func TestSweepIsIdempotentOnTerminalStates(t *testing.T) {
	backend := &scriptedBackend{
		name:  "kie",
		sub:   providers.Submission{ExternalID: "task-4"},
		polls: []providers.PollResult{{Phase: providers.PhaseFailed, ErrorMessage: "boom"}},
	}
	env := newTestEnv(t, backend, newFakeLedgerRepo("user-1", 5, 0, 0))

	if _, err := env.svc.SubmitJob(context.Background(), "user-1", domain.MediaKindImage, imageParams()); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := env.sweeper.SweepOnce(context.Background()); err != nil {
			t.Fatalf("SweepOnce: %v", err)
		}
	}
	if env.credits.refunds != 1 {
		t.Fatalf("refunds after repeated sweeps = %d, want exactly 1", env.credits.refunds)
	}
}

func TestSweepTimesOutStaleJobs(t *testing.T) {
	backend := &scriptedBackend{
		name:  "kie",
		sub:   providers.Submission{ExternalID: "task-5"},
		polls: []providers.PollResult{{Phase: providers.PhasePending}},
	}
	env := newTestEnv(t, backend, newFakeLedgerRepo("user-1", 5, 0, 0))

	job, err := env.svc.SubmitJob(context.Background(), "user-1", domain.MediaKindImage, imageParams())
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	env.now = env.now.Add(11 * time.Minute)
	if err := env.sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	final := env.jobs.get(t, job.ID)
	if final.Status != domain.JobStatusFailed || final.Error != "timeout" {
		t.Fatalf("status=%s error=%q, want FAILED/timeout", final.Status, final.Error)
	}
	if got := env.credits.total("user-1"); got != 5 {
		t.Fatalf("balance after timeout refund = %d, want 5", got)
	}
}

func TestSweepPollErrorLeavesJobProcessing(t *testing.T) {
	backend := &scriptedBackend{
		name:    "kie",
		sub:     providers.Submission{ExternalID: "task-6"},
		pollErr: errors.New("network flake"),
	}
	env := newTestEnv(t, backend, newFakeLedgerRepo("user-1", 5, 0, 0))

	job, err := env.svc.SubmitJob(context.Background(), "user-1", domain.MediaKindImage, imageParams())
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if err := env.sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if got := env.jobs.get(t, job.ID); got.Status != domain.JobStatusProcessing {
		t.Fatalf("status = %s, want PROCESSING preserved on poll error", got.Status)
	}
}

func TestSweepProgressIsMonotonic(t *testing.T) {
	backend := &scriptedBackend{
		name: "kie",
		sub:  providers.Submission{ExternalID: "task-7"},
		polls: []providers.PollResult{
			{Phase: providers.PhasePending, ProgressHint: 40},
			{Phase: providers.PhasePending, ProgressHint: 20},
			{Phase: providers.PhasePending, ProgressHint: 99},
		},
	}
	env := newTestEnv(t, backend, newFakeLedgerRepo("user-1", 5, 0, 0))

	job, err := env.svc.SubmitJob(context.Background(), "user-1", domain.MediaKindImage, imageParams())
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	want := []int{40, 40, 95}
	for i, expected := range want {
		if err := env.sweeper.SweepOnce(context.Background()); err != nil {
			t.Fatalf("SweepOnce #%d: %v", i, err)
		}
		if got := env.jobs.get(t, job.ID).Progress; got != expected {
			t.Fatalf("progress after sweep #%d = %d, want %d", i, got, expected)
		}
	}
}

func TestSweepDeletesEphemeralJobAfterCompletion(t *testing.T) {
	backend := &scriptedBackend{
		name:  "kie",
		sub:   providers.Submission{ExternalID: "task-8"},
		polls: []providers.PollResult{{Phase: providers.PhaseDone, ResultURLs: []string{"https://cdn.example/fill.png"}}},
	}
	env := newTestEnv(t, backend, newFakeLedgerRepo("user-1", 5, 0, 0))

	params := imageParams()
	params.Ephemeral = true
	job, err := env.svc.SubmitJob(context.Background(), "user-1", domain.MediaKindImage, params)
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if err := env.sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if _, err := env.jobs.GetByID(context.Background(), job.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ephemeral job lookup err = %v, want ErrNotFound", err)
	}
}

func TestCancelJobOnlyFromNew(t *testing.T) {
	backend := &scriptedBackend{name: "kie", sub: providers.Submission{ExternalID: "task-9"}}
	env := newTestEnv(t, backend, newFakeLedgerRepo("user-1", 5, 0, 0))

	job, err := env.svc.SubmitJob(context.Background(), "user-1", domain.MediaKindImage, imageParams())
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if err := env.svc.CancelJob(context.Background(), job.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("cancel PROCESSING err = %v, want ErrInvalidState", err)
	}

	// A job stuck in NEW after a crash mid-submission still carries its
	// debit; cancelling it must give the credits back.
	stuck := &domain.Job{
		ID:          "stuck-1",
		UserID:      "user-1",
		MediaKind:   domain.MediaKindImage,
		Status:      domain.JobStatusNew,
		CostDebited: 1,
		DebitPool:   domain.PoolImage,
	}
	if err := env.jobs.Create(context.Background(), stuck); err != nil {
		t.Fatalf("Create: %v", err)
	}
	before := env.credits.total("user-1")
	if err := env.svc.CancelJob(context.Background(), "stuck-1"); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if got := env.jobs.get(t, "stuck-1").Status; got != domain.JobStatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", got)
	}
	if got := env.credits.total("user-1"); got != before+1 {
		t.Fatalf("balance after cancel refund = %d, want %d", got, before+1)
	}
}

func TestCancelDuringSubmitDoesNotResurrectJob(t *testing.T) {
	backend := &blockingBackend{
		scriptedBackend: scriptedBackend{name: "kie", sub: providers.Submission{ExternalID: "task-11"}},
		started:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	env := newTestEnv(t, backend, newFakeLedgerRepo("user-1", 10, 0, 0))

	type result struct {
		job *domain.Job
		err error
	}
	done := make(chan result, 1)
	go func() {
		job, err := env.svc.SubmitJob(context.Background(), "user-1", domain.MediaKindImage, imageParams())
		done <- result{job, err}
	}()

	// The row is NEW with its debit captured while the provider call is in
	// flight; cancelling now must win and refund.
	<-backend.started
	jobID := env.jobs.onlyID(t)
	if err := env.svc.CancelJob(context.Background(), jobID); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if got := env.credits.total("user-1"); got != 10 {
		t.Fatalf("balance after cancel refund = %d, want 10", got)
	}
	close(backend.release)

	res := <-done
	if res.err != nil {
		t.Fatalf("SubmitJob: %v", res.err)
	}
	if res.job.Status != domain.JobStatusCancelled {
		t.Fatalf("status after racing cancel = %s, want CANCELLED", res.job.Status)
	}
	if got := env.jobs.get(t, jobID).Status; got != domain.JobStatusCancelled {
		t.Fatalf("stored status = %s, want CANCELLED", got)
	}
	for i := 0; i < 2; i++ {
		if err := env.sweeper.SweepOnce(context.Background()); err != nil {
			t.Fatalf("SweepOnce: %v", err)
		}
	}
	if env.credits.refunds != 1 {
		t.Fatalf("refunds = %d, want exactly 1", env.credits.refunds)
	}
	if got := env.credits.total("user-1"); got != 10 {
		t.Fatalf("balance after sweeps = %d, want 10", got)
	}
}

func TestCancelDuringFailedSubmitRefundsOnce(t *testing.T) {
	backend := &blockingBackend{
		scriptedBackend: scriptedBackend{name: "kie", submitErr: errors.New("upstream 500")},
		started:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	env := newTestEnv(t, backend, newFakeLedgerRepo("user-1", 10, 0, 0))

	done := make(chan error, 1)
	go func() {
		_, err := env.svc.SubmitJob(context.Background(), "user-1", domain.MediaKindImage, imageParams())
		done <- err
	}()

	<-backend.started
	jobID := env.jobs.onlyID(t)
	if err := env.svc.CancelJob(context.Background(), jobID); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	close(backend.release)
	if err := <-done; err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	// The failed-submission path loses the transition out of NEW and must
	// not refund a second time.
	if got := env.jobs.get(t, jobID).Status; got != domain.JobStatusCancelled {
		t.Fatalf("stored status = %s, want CANCELLED", got)
	}
	if env.credits.refunds != 1 {
		t.Fatalf("refunds = %d, want exactly 1", env.credits.refunds)
	}
	if got := env.credits.total("user-1"); got != 10 {
		t.Fatalf("balance = %d, want 10", got)
	}
}

func TestSubmitJobRejectsInvalidParams(t *testing.T) {
	backend := &scriptedBackend{name: "kie"}
	env := newTestEnv(t, backend, newFakeLedgerRepo("user-1", 5, 0, 0))

	params := imageParams()
	params.Prompt = "   "
	if _, err := env.svc.SubmitJob(context.Background(), "user-1", domain.MediaKindImage, params); err == nil || !strings.Contains(err.Error(), "prompt") {
		t.Fatalf("err = %v, want prompt validation error", err)
	}
}

func TestJobStatusProjection(t *testing.T) {
	backend := &scriptedBackend{name: "kie", sub: providers.Submission{ExternalID: "task-10"}}
	env := newTestEnv(t, backend, newFakeLedgerRepo("user-1", 5, 0, 0))

	job, err := env.svc.SubmitJob(context.Background(), "user-1", domain.MediaKindImage, imageParams())
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	env.now = env.now.Add(20 * time.Second)
	view, err := env.svc.JobStatus(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("JobStatus: %v", err)
	}
	if view.Progress >= 100 {
		t.Fatalf("processing progress = %d, must stay below 100", view.Progress)
	}
	if view.PhaseLabel == "" {
		t.Fatal("expected a phase label while processing")
	}
}
