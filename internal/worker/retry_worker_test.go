package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/natsumeaurlia/exam-forge-integrations/internal/models"
	"github.com/natsumeaurlia/exam-forge-integrations/internal/provider"
	"github.com/natsumeaurlia/exam-forge-integrations/pkg/crypto"
	"github.com/natsumeaurlia/exam-forge-integrations/pkg/jobs"
)

type stubRetrySource struct {
	mu            sync.Mutex
	due           []models.WebhookRetry
	integrationID string
	claims        int
}

func (s *stubRetrySource) DueRetries(ctx context.Context, now time.Time, limit int) ([]models.WebhookRetry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims++
	out := s.due
	s.due = nil
	return out, nil
}

func (s *stubRetrySource) IntegrationIDForDelivery(ctx context.Context, deliveryID string) (string, error) {
	return s.integrationID, nil
}

type stubLoader struct {
	integration *models.Integration
	calls       int
}

func (s *stubLoader) FindByID(ctx context.Context, id string) (*models.Integration, error) {
	s.calls++
	return s.integration, nil
}

type stubResolver struct {
	managers map[string]*provider.WebhookManager
}

func (s *stubResolver) Manager(id string) (*provider.WebhookManager, bool) {
	m, ok := s.managers[id]
	return m, ok
}

type stubEvents struct{}

func (stubEvents) CreateEvent(ctx context.Context, event *models.IntegrationEvent) error { return nil }
func (stubEvents) ListRecentEvents(ctx context.Context, integrationID string, limit int) ([]models.IntegrationEvent, error) {
	return nil, nil
}

type stubStatuses struct{}

func (stubStatuses) UpdateStatus(ctx context.Context, id string, status models.IntegrationStatus) error {
	return nil
}
func (stubStatuses) UpdateLastSync(ctx context.Context, id string, at time.Time) error { return nil }
func (stubStatuses) UpdateCredentials(ctx context.Context, id string, envelope string) error {
	return nil
}

type stubDeliveries struct {
	mu        sync.Mutex
	delivery  *models.WebhookDelivery
	delivered []string
	failed    []string
	retries   []models.WebhookRetry
}

func (s *stubDeliveries) CreateDelivery(ctx context.Context, delivery *models.WebhookDelivery) error {
	return nil
}

func (s *stubDeliveries) FindDelivery(ctx context.Context, id string) (*models.WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delivery == nil || s.delivery.ID != id {
		return nil, nil
	}
	copied := *s.delivery
	return &copied, nil
}

func (s *stubDeliveries) MarkDelivered(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, id)
	return nil
}

func (s *stubDeliveries) MarkFailed(ctx context.Context, id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, id)
	return nil
}

func (s *stubDeliveries) ListDeliveries(ctx context.Context, integrationID string, limit int) ([]models.WebhookDelivery, error) {
	return nil, nil
}

func (s *stubDeliveries) DeliveryStats(ctx context.Context, integrationID string, since time.Time) (*models.DeliveryStats, error) {
	return &models.DeliveryStats{}, nil
}

func (s *stubDeliveries) CreateRetry(ctx context.Context, retry *models.WebhookRetry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries = append(s.retries, *retry)
	return nil
}

type workerFixture struct {
	source     *stubRetrySource
	loader     *stubLoader
	resolver   *stubResolver
	deliveries *stubDeliveries
	vault      *crypto.Vault
	factory    provider.ManagerFactory
	factoryUse int
}

func newWorkerFixture(t *testing.T, url string) *workerFixture {
	t.Helper()
	vault, err := crypto.NewVault("test-secret")
	require.NoError(t, err)

	f := &workerFixture{
		source:     &stubRetrySource{integrationID: "int-1"},
		loader:     &stubLoader{},
		resolver:   &stubResolver{managers: map[string]*provider.WebhookManager{}},
		deliveries: &stubDeliveries{},
		vault:      vault,
	}
	f.factory = func(integration *models.Integration) (*provider.WebhookManager, error) {
		f.factoryUse++
		return provider.NewWebhookManager(integration, stubEvents{}, f.deliveries, provider.Services{
			Integrations: stubStatuses{},
			Vault:        vault,
		}, provider.WebhookDefaults{Timeout: 2 * time.Second, RetryAttempts: 3, RetryDelay: time.Second}, "ExamForge")
	}
	f.loader.integration = f.webhookIntegration(t, url)
	return f
}

func (f *workerFixture) webhookIntegration(t *testing.T, url string) *models.Integration {
	t.Helper()
	envelope, err := f.vault.EncryptMap(map[string]string{"secret": "whsec"})
	require.NoError(t, err)
	return &models.Integration{
		ID:          "int-1",
		TeamID:      "team-1",
		Name:        "hook",
		Type:        models.IntegrationTypeWebhook,
		Provider:    "custom",
		Status:      models.IntegrationStatusActive,
		Credentials: envelope,
		Config:      models.JSONMap{"url": url, "events": []interface{}{"quiz.created"}},
	}
}

func (f *workerFixture) worker() *RetryWorker {
	return NewRetryWorker(f.source, f.loader, f.resolver, f.factory, RetryWorkerConfig{
		Interval:    10 * time.Millisecond,
		Concurrency: 1,
	})
}

func (f *workerFixture) seedFailedDelivery() {
	errMsg := "HTTP 503: busy"
	f.deliveries.delivery = &models.WebhookDelivery{
		ID:            "d-1",
		IntegrationID: "int-1",
		Event:         "quiz.created",
		Payload: models.JSONMap{
			"event":     "quiz.created",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"data":      map[string]interface{}{"quizId": "q-1"},
			"team":      map[string]interface{}{"id": "team-1", "name": "Team One"},
			"signature": "cafe0001",
		},
		Status:    models.DeliveryStatusFailed,
		Error:     &errMsg,
		CreatedAt: time.Now().UTC(),
	}
}

func retryJob(attempt int) jobs.Job {
	return jobs.Job{
		ID:   "r-1",
		Type: "webhook_retry",
		Payload: models.WebhookRetry{
			ID:         "r-1",
			DeliveryID: "d-1",
			Attempt:    attempt,
			RetryAt:    time.Now().UTC().Add(-time.Second),
		},
	}
}

func TestRetryWorkerRedeliversThroughRegistry(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newWorkerFixture(t, srv.URL)
	f.seedFailedDelivery()
	manager, err := f.factory(f.loader.integration)
	require.NoError(t, err)
	f.factoryUse = 0
	f.resolver.managers["int-1"] = manager

	w := f.worker()
	require.NoError(t, w.handle(context.Background(), retryJob(1)))

	assert.Equal(t, 1, hits)
	assert.Equal(t, []string{"d-1"}, f.deliveries.delivered)
	assert.Zero(t, f.factoryUse, "live manager should be reused, not rebuilt")
	assert.Zero(t, f.loader.calls)
}

func TestRetryWorkerFallsBackToFactory(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newWorkerFixture(t, srv.URL)
	f.seedFailedDelivery()

	w := f.worker()
	require.NoError(t, w.handle(context.Background(), retryJob(2)))

	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, f.factoryUse)
	assert.Equal(t, 1, f.loader.calls)
	assert.Equal(t, []string{"d-1"}, f.deliveries.delivered)
}

func TestRetryWorkerDropsRetryForDeletedIntegration(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	f := newWorkerFixture(t, srv.URL)
	f.seedFailedDelivery()
	f.loader.integration = nil

	w := f.worker()
	require.NoError(t, w.handle(context.Background(), retryJob(1)))

	assert.Zero(t, hits)
	assert.Empty(t, f.deliveries.delivered)
}

func TestRetryWorkerIgnoresUnexpectedPayload(t *testing.T) {
	f := newWorkerFixture(t, "http://unused.test")
	w := f.worker()

	require.NoError(t, w.handle(context.Background(), jobs.Job{ID: "bad", Type: "webhook_retry", Payload: "oops"}))
	assert.Zero(t, f.loader.calls)
}

func TestRetryWorkerPollClaimsAndRedelivers(t *testing.T) {
	delivered := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case delivered <- struct{}{}:
		default:
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newWorkerFixture(t, srv.URL)
	f.seedFailedDelivery()
	f.source.due = []models.WebhookRetry{{
		ID:         "r-1",
		DeliveryID: "d-1",
		Attempt:    1,
		RetryAt:    time.Now().UTC().Add(-time.Second),
	}}

	w := f.worker()
	w.Start(context.Background())
	defer w.Stop()

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("retry was not redelivered in time")
	}
}
