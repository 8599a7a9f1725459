package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/donahuenet/imagen/internal/adapter/memstore"
	"github.com/donahuenet/imagen/internal/domain"
	"github.com/donahuenet/imagen/internal/domain/task"
	"github.com/donahuenet/imagen/internal/port/worker"
)

type mockNotifier struct {
	mu     sync.Mutex
	jobs   []worker.Job
	err    error
	called chan struct{}
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{called: make(chan struct{}, 16)}
}

func (m *mockNotifier) Notify(_ context.Context, job worker.Job) error {
	m.mu.Lock()
	m.jobs = append(m.jobs, job)
	err := m.err
	m.mu.Unlock()
	m.called <- struct{}{}
	return err
}

func (m *mockNotifier) lastJob() (worker.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.jobs) == 0 {
		return worker.Job{}, false
	}
	return m.jobs[len(m.jobs)-1], true
}

type mockBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (m *mockBroadcaster) BroadcastEvent(_ context.Context, event string, _ any) {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
}

func (m *mockBroadcaster) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type mockQueue struct {
	mu       sync.Mutex
	subjects []string
}

func (m *mockQueue) Publish(_ context.Context, subject string, _ []byte) error {
	m.mu.Lock()
	m.subjects = append(m.subjects, subject)
	m.mu.Unlock()
	return nil
}

func (m *mockQueue) Drain() error      { return nil }
func (m *mockQueue) Close() error      { return nil }
func (m *mockQueue) IsConnected() bool { return true }

func (m *mockQueue) published() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.subjects...)
}

func newTestService(notifier worker.Notifier) (*TaskService, *memstore.Store) {
	store := memstore.New()
	svc := NewTaskService(store, notifier, nil, nil, nil, TaskConfig{
		CallbackURL:     "http://localhost:3000/api/webhook/result",
		DispatchTimeout: time.Second,
		Retention:       24 * time.Hour,
		MaxInFlight:     4,
	})
	return svc, store
}

func TestSubmitCreatesPendingTask(t *testing.T) {
	notifier := newMockNotifier()
	svc, store := newTestService(notifier)

	created, err := svc.Submit(context.Background(), "A red fox in the snow")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if created.ID == "" {
		t.Fatal("Submit() returned task with empty id")
	}
	if created.Status != task.StatusPending {
		t.Errorf("Status = %q, want %q", created.Status, task.StatusPending)
	}

	select {
	case <-notifier.called:
	case <-time.After(2 * time.Second):
		t.Fatal("worker was never notified")
	}
	job, ok := notifier.lastJob()
	if !ok {
		t.Fatal("no job recorded")
	}
	if job.TaskID != created.ID {
		t.Errorf("job.TaskID = %q, want %q", job.TaskID, created.ID)
	}
	if job.Prompt != "A red fox in the snow" {
		t.Errorf("job.Prompt = %q", job.Prompt)
	}
	if job.CallbackURL != "http://localhost:3000/api/webhook/result" {
		t.Errorf("job.CallbackURL = %q", job.CallbackURL)
	}

	if store.Len(context.Background()) != 1 {
		t.Errorf("store.Len() = %d, want 1", store.Len(context.Background()))
	}
}

func TestSubmitRejectsEmptyPrompt(t *testing.T) {
	for _, prompt := range []string{"", "   ", "\n\t"} {
		svc, store := newTestService(newMockNotifier())
		_, err := svc.Submit(context.Background(), prompt)
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("Submit(%q) error = %v, want ErrValidation", prompt, err)
		}
		if store.Len(context.Background()) != 0 {
			t.Errorf("Submit(%q) left %d records in the store", prompt, store.Len(context.Background()))
		}
	}
}

func TestDispatchAckMovesTaskToProcessing(t *testing.T) {
	notifier := newMockNotifier()
	svc, store := newTestService(notifier)

	tk := task.New("t1", "a fox", time.Now())
	if err := store.Create(context.Background(), tk); err != nil {
		t.Fatal(err)
	}

	svc.dispatch("t1", "a fox")

	got, err := store.Get(context.Background(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusProcessing {
		t.Errorf("Status = %q, want %q", got.Status, task.StatusProcessing)
	}
	if !got.DispatchConfirmed {
		t.Error("DispatchConfirmed = false after ack")
	}
	if got.DispatchedAt.IsZero() {
		t.Error("DispatchedAt not recorded")
	}
}

func TestDispatchFailureFailsTask(t *testing.T) {
	notifier := newMockNotifier()
	notifier.err = errors.New("connection refused")
	svc, store := newTestService(notifier)

	tk := task.New("t1", "a fox", time.Now())
	if err := store.Create(context.Background(), tk); err != nil {
		t.Fatal(err)
	}

	svc.dispatch("t1", "a fox")

	got, err := store.Get(context.Background(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusError {
		t.Fatalf("Status = %q, want %q", got.Status, task.StatusError)
	}
	if !strings.HasPrefix(got.FailureReason, "Failed to start generation: ") {
		t.Errorf("FailureReason = %q, want dispatch failure prefix", got.FailureReason)
	}
	if got.CompletedAt.IsZero() {
		t.Error("CompletedAt not set on dispatch failure")
	}
}

func TestDispatchFailureNeverOverwritesCallbackResult(t *testing.T) {
	notifier := newMockNotifier()
	notifier.err = errors.New("timeout")
	svc, store := newTestService(notifier)

	tk := task.New("t1", "a fox", time.Now())
	tk.MarkCompleted("aGVsbG8=", time.Now())
	if err := store.Create(context.Background(), tk); err != nil {
		t.Fatal(err)
	}

	svc.dispatch("t1", "a fox")

	got, _ := store.Get(context.Background(), "t1")
	if got.Status != task.StatusCompleted {
		t.Errorf("Status = %q, the earlier completion must win", got.Status)
	}
	if got.ImageData != "aGVsbG8=" {
		t.Error("result payload lost")
	}
}

func TestReportSuccessCompletesTask(t *testing.T) {
	svc, store := newTestService(newMockNotifier())

	tk := task.New("t1", "a fox", time.Now())
	tk.MarkProcessing()
	if err := store.Create(context.Background(), tk); err != nil {
		t.Fatal(err)
	}

	got, err := svc.Report(context.Background(), CallbackReport{
		TaskID:    "t1",
		Success:   true,
		ImageData: "aGVsbG8=",
	})
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if got.Status != task.StatusCompleted {
		t.Errorf("Status = %q, want %q", got.Status, task.StatusCompleted)
	}
	if got.ImageData != "aGVsbG8=" {
		t.Errorf("ImageData = %q", got.ImageData)
	}
	if got.FailureReason != "" {
		t.Errorf("FailureReason = %q, want empty", got.FailureReason)
	}
	if got.CompletedAt.IsZero() {
		t.Error("CompletedAt not set")
	}
}

func TestReportFailureUsesDefaultReason(t *testing.T) {
	svc, store := newTestService(newMockNotifier())

	tk := task.New("t1", "a fox", time.Now())
	if err := store.Create(context.Background(), tk); err != nil {
		t.Fatal(err)
	}

	got, err := svc.Report(context.Background(), CallbackReport{TaskID: "t1", Success: false})
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if got.Status != task.StatusError {
		t.Errorf("Status = %q, want %q", got.Status, task.StatusError)
	}
	if got.FailureReason != defaultFailureReason {
		t.Errorf("FailureReason = %q, want %q", got.FailureReason, defaultFailureReason)
	}
}

func TestReportUnknownTask(t *testing.T) {
	svc, _ := newTestService(newMockNotifier())

	_, err := svc.Report(context.Background(), CallbackReport{
		TaskID:    "never-issued",
		Success:   true,
		ImageData: "aGVsbG8=",
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Report() error = %v, want ErrNotFound", err)
	}
}

func TestReportMissingTaskID(t *testing.T) {
	svc, _ := newTestService(newMockNotifier())

	_, err := svc.Report(context.Background(), CallbackReport{Success: true, ImageData: "aGVsbG8="})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Report() error = %v, want ErrValidation", err)
	}
}

func TestReportSuccessWithoutImageDataLeavesRecordUntouched(t *testing.T) {
	svc, store := newTestService(newMockNotifier())

	tk := task.New("t1", "a fox", time.Now())
	tk.MarkProcessing()
	if err := store.Create(context.Background(), tk); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Report(context.Background(), CallbackReport{TaskID: "t1", Success: true})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Report() error = %v, want ErrValidation", err)
	}

	got, _ := store.Get(context.Background(), "t1")
	if got.Status != task.StatusProcessing {
		t.Errorf("Status = %q, malformed callback must not change state", got.Status)
	}
}

func TestReportDuplicateCallbackIsInert(t *testing.T) {
	svc, store := newTestService(newMockNotifier())

	tk := task.New("t1", "a fox", time.Now())
	if err := store.Create(context.Background(), tk); err != nil {
		t.Fatal(err)
	}

	first, err := svc.Report(context.Background(), CallbackReport{
		TaskID: "t1", Success: true, ImageData: "Zmlyc3Q=",
	})
	if err != nil {
		t.Fatal(err)
	}

	// A contradictory second callback is acknowledged but changes nothing.
	second, err := svc.Report(context.Background(), CallbackReport{
		TaskID: "t1", Success: false, Error: "changed my mind",
	})
	if err != nil {
		t.Fatalf("duplicate Report() error = %v, want nil", err)
	}
	if second.Status != task.StatusCompleted {
		t.Errorf("Status = %q, first writer must win", second.Status)
	}
	if second.ImageData != "Zmlyc3Q=" {
		t.Error("result payload changed by duplicate callback")
	}
	if !second.CompletedAt.Equal(first.CompletedAt) {
		t.Error("CompletedAt changed by duplicate callback")
	}
}

func TestStatusElapsedTime(t *testing.T) {
	svc, store := newTestService(newMockNotifier())
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base.Add(2*time.Minute + 5*time.Second) }

	tk := task.New("t1", "a fox", base)
	tk.MarkProcessing()
	if err := store.Create(context.Background(), tk); err != nil {
		t.Fatal(err)
	}

	view, err := svc.Status(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if view.Elapsed.Minutes != 2 || view.Elapsed.Seconds != 5 {
		t.Errorf("Elapsed = %dm%ds, want 2m5s", view.Elapsed.Minutes, view.Elapsed.Seconds)
	}
	if view.Elapsed.TotalMillis != 125000 {
		t.Errorf("TotalMillis = %d, want 125000", view.Elapsed.TotalMillis)
	}
}

func TestStatusLazyExpiry(t *testing.T) {
	svc, store := newTestService(newMockNotifier())
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tk := task.New("t1", "a fox", base)
	tk.MarkCompleted("aGVsbG8=", base.Add(time.Minute))
	if err := store.Create(context.Background(), tk); err != nil {
		t.Fatal(err)
	}

	// Inside the horizon the record is still served.
	svc.now = func() time.Time { return base.Add(23 * time.Hour) }
	if _, err := svc.Status(context.Background(), "t1"); err != nil {
		t.Fatalf("Status() inside horizon error = %v", err)
	}

	// Past the horizon the read itself evicts.
	svc.now = func() time.Time { return base.Add(26 * time.Hour) }
	_, err := svc.Status(context.Background(), "t1")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Status() past horizon error = %v, want ErrNotFound", err)
	}
	if store.Len(context.Background()) != 0 {
		t.Error("expired record still in store after lazy expiry")
	}
}

func TestStatusUnknownTask(t *testing.T) {
	svc, _ := newTestService(newMockNotifier())
	if _, err := svc.Status(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Status() error = %v, want ErrNotFound", err)
	}
}

func TestLifecycleEventsPublished(t *testing.T) {
	notifier := newMockNotifier()
	store := memstore.New()
	queue := &mockQueue{}
	hub := &mockBroadcaster{}
	svc := NewTaskService(store, notifier, hub, queue, nil, TaskConfig{
		CallbackURL:     "http://localhost:3000/api/webhook/result",
		DispatchTimeout: time.Second,
		Retention:       24 * time.Hour,
		MaxInFlight:     4,
	})

	created, err := svc.Submit(context.Background(), "a fox")
	if err != nil {
		t.Fatal(err)
	}
	<-notifier.called

	if _, err := svc.Report(context.Background(), CallbackReport{
		TaskID: created.ID, Success: true, ImageData: "aGVsbG8=",
	}); err != nil {
		t.Fatal(err)
	}

	subjects := queue.published()
	if len(subjects) < 2 {
		t.Fatalf("published subjects = %v, want created and completed", subjects)
	}
	if subjects[0] != "tasks.created" {
		t.Errorf("first subject = %q, want tasks.created", subjects[0])
	}
	if subjects[len(subjects)-1] != "tasks.completed" {
		t.Errorf("last subject = %q, want tasks.completed", subjects[len(subjects)-1])
	}
	if hub.count() < 2 {
		t.Errorf("broadcast events = %d, want at least 2", hub.count())
	}
}
