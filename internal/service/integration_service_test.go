package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/natsumeaurlia/exam-forge-integrations/internal/dto"
	"github.com/natsumeaurlia/exam-forge-integrations/internal/models"
	"github.com/natsumeaurlia/exam-forge-integrations/internal/provider"
	"github.com/natsumeaurlia/exam-forge-integrations/pkg/crypto"
	appErrors "github.com/natsumeaurlia/exam-forge-integrations/pkg/errors"
)

type stubIntegrationRepo struct {
	byID    map[string]*models.Integration
	created []*models.Integration
	deleted []string
}

func newStubIntegrationRepo() *stubIntegrationRepo {
	return &stubIntegrationRepo{byID: map[string]*models.Integration{}}
}

func (s *stubIntegrationRepo) Create(ctx context.Context, integration *models.Integration) error {
	s.created = append(s.created, integration)
	s.byID[integration.ID] = integration
	return nil
}

func (s *stubIntegrationRepo) FindByID(ctx context.Context, id string) (*models.Integration, error) {
	return s.byID[id], nil
}

func (s *stubIntegrationRepo) ListByTeam(ctx context.Context, teamID string) ([]models.Integration, error) {
	var out []models.Integration
	for _, integration := range s.byID {
		if integration.TeamID == teamID {
			out = append(out, *integration)
		}
	}
	return out, nil
}

func (s *stubIntegrationRepo) Delete(ctx context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	delete(s.byID, id)
	return nil
}

type stubEventReader struct {
	events []models.IntegrationEvent
}

func (s *stubEventReader) ListRecentEvents(ctx context.Context, integrationID string, limit int) ([]models.IntegrationEvent, error) {
	return s.events, nil
}

type stubCache struct {
	values map[string]string
	gets   int
	sets   int
}

func newStubCache() *stubCache { return &stubCache{values: map[string]string{}} }

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.gets++
	return s.values[key], nil
}

func (s *stubCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.sets++
	s.values[key] = value
	return nil
}

func (s *stubCache) Delete(ctx context.Context, key string) error {
	delete(s.values, key)
	return nil
}

type stubRegistry struct {
	added   []string
	removed []string
	emits   []string
}

func (s *stubRegistry) AddIntegration(integration *models.Integration) error {
	s.added = append(s.added, integration.ID)
	return nil
}

func (s *stubRegistry) RemoveIntegration(id string) {
	s.removed = append(s.removed, id)
}

func (s *stubRegistry) Emit(ctx context.Context, teamID, event string, data map[string]interface{}) {
	s.emits = append(s.emits, teamID+"/"+event)
}

type fakeProvider struct {
	connectErr error
	healthy    bool
	syncResult func(op *models.SyncOperation) *models.SyncOperation

	connects    int
	disconnects int
}

func (p *fakeProvider) Connect(ctx context.Context) error {
	p.connects++
	return p.connectErr
}

func (p *fakeProvider) Disconnect(ctx context.Context) error {
	p.disconnects++
	return nil
}

func (p *fakeProvider) TestConnection(ctx context.Context) bool { return p.healthy }

func (p *fakeProvider) Sync(ctx context.Context, op *models.SyncOperation) *models.SyncOperation {
	if p.syncResult != nil {
		return p.syncResult(op)
	}
	op.Complete()
	return op
}

type stubDeliveryStore struct {
	deliveries []models.WebhookDelivery
	statsCalls int
}

func (s *stubDeliveryStore) CreateDelivery(ctx context.Context, delivery *models.WebhookDelivery) error {
	return nil
}

func (s *stubDeliveryStore) FindDelivery(ctx context.Context, id string) (*models.WebhookDelivery, error) {
	return nil, nil
}

func (s *stubDeliveryStore) MarkDelivered(ctx context.Context, id string) error { return nil }

func (s *stubDeliveryStore) MarkFailed(ctx context.Context, id, errMsg string) error { return nil }

func (s *stubDeliveryStore) ListDeliveries(ctx context.Context, integrationID string, limit int) ([]models.WebhookDelivery, error) {
	return s.deliveries, nil
}

func (s *stubDeliveryStore) DeliveryStats(ctx context.Context, integrationID string, since time.Time) (*models.DeliveryStats, error) {
	s.statsCalls++
	return &models.DeliveryStats{Total: 4, Delivered: 3, Failed: 1}, nil
}

func (s *stubDeliveryStore) CreateRetry(ctx context.Context, retry *models.WebhookRetry) error {
	return nil
}

type eventSink struct{}

func (eventSink) CreateEvent(ctx context.Context, event *models.IntegrationEvent) error { return nil }
func (eventSink) ListRecentEvents(ctx context.Context, integrationID string, limit int) ([]models.IntegrationEvent, error) {
	return nil, nil
}

type serviceFixture struct {
	svc        *IntegrationService
	repo       *stubIntegrationRepo
	cache      *stubCache
	registry   *stubRegistry
	vault      *crypto.Vault
	fake       *fakeProvider
	deliveries *stubDeliveryStore
	factoryErr error
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	vault, err := crypto.NewVault("test-secret")
	require.NoError(t, err)

	f := &serviceFixture{
		repo:       newStubIntegrationRepo(),
		cache:      newStubCache(),
		registry:   &stubRegistry{},
		vault:      vault,
		fake:       &fakeProvider{healthy: true},
		deliveries: &stubDeliveryStore{},
	}
	managerFactory := func(integration *models.Integration) (*provider.WebhookManager, error) {
		return provider.NewWebhookManager(integration, eventSink{}, f.deliveries, provider.Services{
			Integrations: stubIntegrationStore{},
			Vault:        vault,
		}, provider.WebhookDefaults{Timeout: time.Second, RetryDelay: time.Second}, "ExamForge")
	}
	f.svc = NewIntegrationService(IntegrationServiceDeps{
		Integrations: f.repo,
		Events:       &stubEventReader{},
		Cache:        f.cache,
		Vault:        vault,
		Registry:     f.registry,
		Providers: func(integration *models.Integration) (provider.Provider, error) {
			if f.factoryErr != nil {
				return nil, f.factoryErr
			}
			return f.fake, nil
		},
		Managers: managerFactory,
		StatsTTL: time.Minute,
	})
	return f
}

type stubIntegrationStore struct{}

func (stubIntegrationStore) UpdateStatus(ctx context.Context, id string, status models.IntegrationStatus) error {
	return nil
}
func (stubIntegrationStore) UpdateLastSync(ctx context.Context, id string, at time.Time) error {
	return nil
}
func (stubIntegrationStore) UpdateCredentials(ctx context.Context, id string, envelope string) error {
	return nil
}

func (f *serviceFixture) seedWebhook(t *testing.T, id, teamID string) *models.Integration {
	t.Helper()
	envelope, err := f.vault.EncryptMap(map[string]string{"secret": "whsec"})
	require.NoError(t, err)
	integration := &models.Integration{
		ID:          id,
		TeamID:      teamID,
		Name:        "hook",
		Type:        models.IntegrationTypeWebhook,
		Provider:    "custom",
		Status:      models.IntegrationStatusActive,
		Credentials: envelope,
		Config:      models.JSONMap{"url": "https://consumer.test/hook", "events": []interface{}{"quiz.created"}},
	}
	f.repo.byID[id] = integration
	return integration
}

func (f *serviceFixture) seedLMS(t *testing.T, id, teamID string) *models.Integration {
	t.Helper()
	integration := &models.Integration{
		ID:       id,
		TeamID:   teamID,
		Name:     "classroom",
		Type:     models.IntegrationTypeLMS,
		Provider: "google-classroom",
		Status:   models.IntegrationStatusActive,
		Config:   models.JSONMap{},
	}
	f.repo.byID[id] = integration
	return integration
}

func TestIntegrationServiceCreateEncryptsCredentials(t *testing.T) {
	f := newServiceFixture(t)

	item, err := f.svc.Create(context.Background(), "team-1", dto.CreateIntegrationRequest{
		Name:        "classroom",
		Type:        "lms",
		Provider:    "google-classroom",
		Credentials: map[string]string{"accessToken": "tok-secret"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pending", item.Status)
	assert.Equal(t, "team-1", item.TeamID)

	require.Len(t, f.repo.created, 1)
	stored := f.repo.created[0]
	assert.NotContains(t, stored.Credentials, "tok-secret")
	opened, err := f.vault.DecryptMap(stored.Credentials)
	require.NoError(t, err)
	assert.Equal(t, "tok-secret", opened["accessToken"])
}

func TestIntegrationServiceCreateRejectsBadConfig(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Create(context.Background(), "team-1", dto.CreateIntegrationRequest{
		Name:     "hook",
		Type:     "webhook",
		Provider: "custom",
		Config:   map[string]interface{}{"events": []interface{}{"quiz.created"}},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.repo.created)
}

func TestIntegrationServiceCreateRejectsUnknownType(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Create(context.Background(), "team-1", dto.CreateIntegrationRequest{
		Name:     "x",
		Type:     "crm",
		Provider: "custom",
	})
	require.Error(t, err)
}

func TestIntegrationServiceGetScopesByTeam(t *testing.T) {
	f := newServiceFixture(t)
	f.seedLMS(t, "int-1", "team-1")

	_, err := f.svc.Get(context.Background(), "team-2", "int-1")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	item, err := f.svc.Get(context.Background(), "team-1", "int-1")
	require.NoError(t, err)
	assert.Equal(t, "int-1", item.ID)
}

func TestIntegrationServiceDeleteDropsFromRegistry(t *testing.T) {
	f := newServiceFixture(t)
	f.seedWebhook(t, "w-1", "team-1")

	require.NoError(t, f.svc.Delete(context.Background(), "team-1", "w-1"))
	assert.Equal(t, []string{"w-1"}, f.registry.removed)
	assert.Equal(t, []string{"w-1"}, f.repo.deleted)
}

func TestIntegrationServiceConnectRegistersWebhook(t *testing.T) {
	f := newServiceFixture(t)
	f.seedWebhook(t, "w-1", "team-1")

	_, err := f.svc.Connect(context.Background(), "team-1", "w-1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.fake.connects)
	assert.Equal(t, []string{"w-1"}, f.registry.added)
}

func TestIntegrationServiceConnectFailureMapsToBadGateway(t *testing.T) {
	f := newServiceFixture(t)
	f.seedLMS(t, "int-1", "team-1")
	f.fake.connectErr = provider.NewError(provider.CodeConnectionFailed, "probe rejected")

	_, err := f.svc.Connect(context.Background(), "team-1", "int-1")
	require.Error(t, err)
	assert.Equal(t, 502, appErrors.FromError(err).Status)
	assert.Empty(t, f.registry.added)
}

func TestIntegrationServiceSyncRequiresLMS(t *testing.T) {
	f := newServiceFixture(t)
	f.seedWebhook(t, "w-1", "team-1")

	_, err := f.svc.Sync(context.Background(), "team-1", "w-1", dto.SyncRequest{Type: "roster"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestIntegrationServiceSyncReturnsOperation(t *testing.T) {
	f := newServiceFixture(t)
	f.seedLMS(t, "int-1", "team-1")
	f.fake.syncResult = func(op *models.SyncOperation) *models.SyncOperation {
		op.RecordSuccess()
		op.RecordFailure("u-2", "constraint violation", "PERSIST_FAILED")
		op.Complete()
		return op
	}

	op, err := f.svc.Sync(context.Background(), "team-1", "int-1", dto.SyncRequest{Type: "roster"})
	require.NoError(t, err)
	assert.Equal(t, models.SyncTypeRoster, op.Type)
	assert.Equal(t, models.SyncStatusFailed, op.Status)
	assert.Equal(t, 1, op.RecordsSucceeded)
	assert.Equal(t, 1, op.RecordsFailed)
}

func TestIntegrationServiceDeliveryStatsCaches(t *testing.T) {
	f := newServiceFixture(t)
	f.seedWebhook(t, "w-1", "team-1")

	stats, err := f.svc.DeliveryStats(context.Background(), "team-1", "w-1", 7)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.InDelta(t, 75.0, stats.SuccessRate, 0.001)
	assert.Equal(t, 1, f.deliveries.statsCalls)

	// Second read is served from cache without touching the store.
	stats, err = f.svc.DeliveryStats(context.Background(), "team-1", "w-1", 7)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 1, f.deliveries.statsCalls)
	assert.Equal(t, 1, f.cache.sets)
}

func TestIntegrationServiceDeliveriesRejectsNonWebhook(t *testing.T) {
	f := newServiceFixture(t)
	f.seedLMS(t, "int-1", "team-1")

	_, err := f.svc.Deliveries(context.Background(), "team-1", "int-1", 10)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestIntegrationServiceExportDeliveriesCSV(t *testing.T) {
	f := newServiceFixture(t)
	f.seedWebhook(t, "w-1", "team-1")
	now := time.Now().UTC()
	errMsg := "HTTP 503: busy"
	f.deliveries.deliveries = []models.WebhookDelivery{
		{ID: "d-1", Event: "quiz.created", Status: models.DeliveryStatusDelivered, CreatedAt: now, DeliveredAt: &now},
		{ID: "d-2", Event: "quiz.completed", Status: models.DeliveryStatusFailed, Error: &errMsg, CreatedAt: now},
	}

	raw, contentType, err := f.svc.ExportDeliveries(context.Background(), "team-1", "w-1", "csv", 50)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", contentType)

	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id,event,status,error,created_at,delivered_at", lines[0])
	assert.Contains(t, lines[2], "HTTP 503: busy")
}

func TestIntegrationServiceExportRejectsUnknownFormat(t *testing.T) {
	f := newServiceFixture(t)
	f.seedWebhook(t, "w-1", "team-1")

	_, _, err := f.svc.ExportDeliveries(context.Background(), "team-1", "w-1", "xlsx", 50)
	require.Error(t, err)
}

func TestIntegrationServiceEmitEvent(t *testing.T) {
	f := newServiceFixture(t)

	require.NoError(t, f.svc.EmitEvent(context.Background(), "team-1", dto.EmitEventRequest{
		Event: "quiz.created",
		Data:  map[string]interface{}{"quizId": "q-1"},
	}))
	assert.Equal(t, []string{"team-1/quiz.created"}, f.registry.emits)

	err := f.svc.EmitEvent(context.Background(), "team-1", dto.EmitEventRequest{})
	require.Error(t, err)
}

func TestIntegrationServiceStatsCacheRoundTrip(t *testing.T) {
	// The cached value must decode back into the same stats shape.
	stats := &models.DeliveryStats{Total: 4, Delivered: 3, Failed: 1, SuccessRate: 75, Days: 7}
	raw, err := json.Marshal(stats)
	require.NoError(t, err)
	var decoded models.DeliveryStats
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, *stats, decoded)
}
