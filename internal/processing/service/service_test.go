package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/brandseal/brandseal/internal/allowance"
	"github.com/brandseal/brandseal/internal/clock"
	"github.com/brandseal/brandseal/internal/commerce"
	"github.com/brandseal/brandseal/internal/config"
	"github.com/brandseal/brandseal/internal/locking"
	"github.com/brandseal/brandseal/internal/pipeline"
	"github.com/brandseal/brandseal/internal/processing/domain"
	shopdomain "github.com/brandseal/brandseal/internal/shop/domain"
	shoprepository "github.com/brandseal/brandseal/internal/shop/repository"
)

const testShopID = "shop-1"

type fakeGateway struct {
	subs       []commerce.Subscription
	subsErr    error
	exportID   string
	exportErr  error
	lastQuery  string
	op         *commerce.BulkOperation
	exportBody string
	fetchErr   error
}

func (f *fakeGateway) StartBulkExport(_ context.Context, _ commerce.Credentials, query string) (string, error) {
	f.lastQuery = query
	if f.exportErr != nil {
		return "", f.exportErr
	}
	return f.exportID, nil
}

func (f *fakeGateway) GetBulkOperation(context.Context, commerce.Credentials, string) (*commerce.BulkOperation, error) {
	if f.op == nil {
		return nil, commerce.ErrOperationNotFound
	}
	return f.op, nil
}

func (f *fakeGateway) FetchExport(context.Context, string) (io.ReadCloser, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return io.NopCloser(strings.NewReader(f.exportBody)), nil
}

func (f *fakeGateway) ActiveSubscriptions(context.Context, commerce.Credentials) ([]commerce.Subscription, error) {
	if f.subsErr != nil {
		return nil, f.subsErr
	}
	return f.subs, nil
}

type fakeJobs struct {
	jobs []pipeline.JobInput
	err  error
}

func (f *fakeJobs) Dispatch(_ context.Context, job pipeline.JobInput) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type fakeRemoval struct {
	reqs []pipeline.RemovalRequest
	err  error
}

func (f *fakeRemoval) Invoke(_ context.Context, req pipeline.RemovalRequest) error {
	if f.err != nil {
		return f.err
	}
	f.reqs = append(f.reqs, req)
	return nil
}

type usageCall struct {
	shopID      string
	operationID string
	count       int64
}

type fakeReporter struct {
	calls []usageCall
	err   error
}

func (f *fakeReporter) ReportCompletion(_ context.Context, shopID, operationID string, count int64) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, usageCall{shopID: shopID, operationID: operationID, count: count})
	return nil
}

type harness struct {
	svc      domain.Service
	repo     shopdomain.Repository
	gw       *fakeGateway
	jobs     *fakeJobs
	removal  *fakeRemoval
	reporter *fakeReporter
	clk      *clock.FakeClock
}

func setup(t *testing.T) *harness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&shopdomain.ShopBillingRecord{}, &shopdomain.ShopSettings{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	repo := shoprepository.NewRepository(db, zap.NewNop(), node, clk)
	holder := config.NewStaticProcessingConfigHolder(config.DefaultProcessingConfig())
	engine := allowance.NewEngine(repo, clk, holder, nil, zap.NewNop())

	gw := &fakeGateway{exportID: "platform-op-1"}
	jobs := &fakeJobs{}
	removal := &fakeRemoval{}
	reporter := &fakeReporter{}

	var locker *locking.Locker
	svc := NewService(repo, engine, gw, jobs, removal, reporter, locker, clk, nil, zap.NewNop())

	return &harness{
		svc:      svc,
		repo:     repo,
		gw:       gw,
		jobs:     jobs,
		removal:  removal,
		reporter: reporter,
		clk:      clk,
	}
}

func (h *harness) seedShop(t *testing.T, mutate func(*shopdomain.ShopBillingRecord)) {
	t.Helper()
	billing := &shopdomain.ShopBillingRecord{
		ShopID:      testShopID,
		ShopDomain:  "shop-1.example.com",
		AccessToken: "token",
	}
	if mutate != nil {
		mutate(billing)
	}
	settings := &shopdomain.ShopSettings{ShopID: testShopID}
	require.NoError(t, h.repo.CreateShop(context.Background(), billing, settings))
}

func (h *harness) inTrial(b *shopdomain.ShopBillingRecord) {
	b.TrialEverStarted = true
	end := h.clk.Now().Add(72 * time.Hour)
	b.TrialEndsAt = &end
}

func (h *harness) settings(t *testing.T) *shopdomain.ShopSettings {
	t.Helper()
	settings, err := h.repo.FindSettings(context.Background(), testShopID)
	require.NoError(t, err)
	return settings
}

func (h *harness) setStatus(t *testing.T, status shopdomain.ProcessStatus) {
	t.Helper()
	settings := h.settings(t)
	require.NoError(t, h.repo.UpdateProcessStatus(context.Background(), testShopID, settings.Version, status))
}

func exportLine(mediaID, parentID string) string {
	return `{"id":"` + mediaID + `","mediaContentType":"IMAGE","preview":{"image":{"src":"https://cdn.example/` + mediaID + `.jpg"}},"__parentId":"` + parentID + `"}`
}

func defaultConfig() shopdomain.ActiveConfig {
	return shopdomain.ActiveConfig{
		Selection:          shopdomain.SelectionAll,
		Watermark:          shopdomain.WatermarkConfig{OpacityPercent: 40, Position: "bottom-right", ScalePercent: 20},
		CompressionQuality: 80,
	}
}

func TestEnableProcessing_DispatchesExport(t *testing.T) {
	h := setup(t)
	h.seedShop(t, h.inTrial)

	status, err := h.svc.EnableProcessing(context.Background(), testShopID, defaultConfig())
	require.NoError(t, err)

	require.NotNil(t, status)
	assert.Equal(t, shopdomain.ProcessStateProcessing, status.State)
	assert.Equal(t, "platform-op-1", status.OperationID)
	assert.NotEmpty(t, h.gw.lastQuery)

	settings := h.settings(t)
	assert.True(t, settings.IsActive)
	assert.Equal(t, "platform-op-1", settings.Status.OperationID)
	assert.Equal(t, defaultConfig(), settings.ActiveConfig.Data())
}

func TestEnableProcessing_RejectsWhileOutstanding(t *testing.T) {
	h := setup(t)
	h.seedShop(t, h.inTrial)
	h.setStatus(t, shopdomain.ProcessStatus{State: shopdomain.ProcessStateProcessing, OperationID: "op-0"})

	_, err := h.svc.EnableProcessing(context.Background(), testShopID, defaultConfig())
	assert.ErrorIs(t, err, domain.ErrOperationInFlight)
	assert.Empty(t, h.gw.lastQuery)
}

func TestEnableProcessing_BlockedParksShopInLimited(t *testing.T) {
	h := setup(t)
	h.seedShop(t, nil) // never had a trial, no subscription

	_, err := h.svc.EnableProcessing(context.Background(), testShopID, defaultConfig())
	assert.ErrorIs(t, err, domain.ErrAllowanceExhausted)

	settings := h.settings(t)
	assert.Equal(t, shopdomain.ProcessStateLimited, settings.Status.State)
	assert.Empty(t, h.gw.lastQuery)
}

func TestEnableProcessing_ExportRequestFailureMarksFailed(t *testing.T) {
	h := setup(t)
	h.seedShop(t, h.inTrial)
	h.gw.exportErr = errors.New("platform down")

	_, err := h.svc.EnableProcessing(context.Background(), testShopID, defaultConfig())
	require.Error(t, err)

	settings := h.settings(t)
	assert.Equal(t, shopdomain.ProcessStateFailed, settings.Status.State)
}

func TestHandleExportCompleted_CapsWorklistAtRemainingAllowance(t *testing.T) {
	h := setup(t)
	h.seedShop(t, func(b *shopdomain.ShopBillingRecord) {
		h.inTrial(b)
		b.MarkedImagesCount = 48 // 2 left of the 50 cap
	})
	require.NoError(t, h.repo.UpdateActivation(context.Background(), testShopID, 0, true, defaultConfig(),
		shopdomain.ProcessStatus{State: shopdomain.ProcessStateProcessing, OperationID: "op-1"}))

	h.gw.exportBody = strings.Join([]string{
		exportLine("m1", "gid://commerce/Product/1"),
		exportLine("m2", "gid://commerce/Product/1"),
		exportLine("m3", "gid://commerce/Product/2"),
		exportLine("m4", "gid://commerce/Product/2"),
	}, "\n")

	err := h.svc.HandleExportCompleted(context.Background(), domain.ExportCompletedEvent{
		ShopID:      testShopID,
		OperationID: "op-1",
		Status:      "COMPLETED",
		URL:         "https://exports.example/op-1.ndjson",
		ObjectCount: 4,
	})
	require.NoError(t, err)

	require.Len(t, h.jobs.jobs, 1)
	job := h.jobs.jobs[0]
	assert.Equal(t, testShopID, job.ShopID)
	assert.Equal(t, "op-1", job.OperationID)
	assert.Len(t, job.Items, 2)
	assert.Equal(t, 80, job.CompressionQuality)

	settings := h.settings(t)
	assert.Equal(t, shopdomain.ProcessStateProcessing, settings.Status.State)
	assert.Equal(t, 2, settings.Status.PlannedCount)
}

func TestHandleExportCompleted_StaleOperationIsIgnored(t *testing.T) {
	h := setup(t)
	h.seedShop(t, h.inTrial)
	h.setStatus(t, shopdomain.ProcessStatus{State: shopdomain.ProcessStateProcessing, OperationID: "op-current"})

	err := h.svc.HandleExportCompleted(context.Background(), domain.ExportCompletedEvent{
		ShopID:      testShopID,
		OperationID: "op-old",
		Status:      "COMPLETED",
	})
	require.NoError(t, err)

	assert.Empty(t, h.jobs.jobs)
	settings := h.settings(t)
	assert.Equal(t, "op-current", settings.Status.OperationID)
	assert.Equal(t, shopdomain.ProcessStateProcessing, settings.Status.State)
}

func TestHandleExportCompleted_EmptyWorklistFailsRun(t *testing.T) {
	h := setup(t)
	h.seedShop(t, h.inTrial)
	h.setStatus(t, shopdomain.ProcessStatus{State: shopdomain.ProcessStateProcessing, OperationID: "op-1"})
	h.gw.exportBody = `{"id":"gid://commerce/Product/1"}`

	err := h.svc.HandleExportCompleted(context.Background(), domain.ExportCompletedEvent{
		ShopID:      testShopID,
		OperationID: "op-1",
		Status:      "COMPLETED",
	})
	require.NoError(t, err)

	assert.Empty(t, h.jobs.jobs)
	assert.Equal(t, shopdomain.ProcessStateFailed, h.settings(t).Status.State)
}

func TestHandleExportCompleted_PlatformFailureMarksFailed(t *testing.T) {
	h := setup(t)
	h.seedShop(t, h.inTrial)
	h.setStatus(t, shopdomain.ProcessStatus{State: shopdomain.ProcessStateProcessing, OperationID: "op-1"})

	err := h.svc.HandleExportCompleted(context.Background(), domain.ExportCompletedEvent{
		ShopID:      testShopID,
		OperationID: "op-1",
		Status:      "FAILED",
	})
	require.NoError(t, err)
	assert.Equal(t, shopdomain.ProcessStateFailed, h.settings(t).Status.State)
}

func TestHandleExportCompleted_AllowanceGoneAtBuildTime(t *testing.T) {
	h := setup(t)
	h.seedShop(t, func(b *shopdomain.ShopBillingRecord) {
		h.inTrial(b)
		b.MarkedImagesCount = 50
	})
	h.setStatus(t, shopdomain.ProcessStatus{State: shopdomain.ProcessStateProcessing, OperationID: "op-1"})

	err := h.svc.HandleExportCompleted(context.Background(), domain.ExportCompletedEvent{
		ShopID:      testShopID,
		OperationID: "op-1",
		Status:      "COMPLETED",
	})
	require.NoError(t, err)

	assert.Empty(t, h.jobs.jobs)
	assert.Equal(t, shopdomain.ProcessStateLimited, h.settings(t).Status.State)
}

func TestHandleTransformCompleted_ReportsUsageExactlyOnce(t *testing.T) {
	h := setup(t)
	h.seedShop(t, h.inTrial)
	h.setStatus(t, shopdomain.ProcessStatus{
		State:        shopdomain.ProcessStateProcessing,
		OperationID:  "op-1",
		PlannedCount: 5,
	})

	evt := domain.TransformCompletedEvent{ShopID: testShopID, OperationID: "op-1", Status: "COMPLETED"}
	require.NoError(t, h.svc.HandleTransformCompleted(context.Background(), evt))

	settings := h.settings(t)
	assert.Equal(t, shopdomain.ProcessStateCompleted, settings.Status.State)
	assert.Equal(t, 0, settings.Status.PlannedCount)
	require.Len(t, h.reporter.calls, 1)
	assert.Equal(t, usageCall{shopID: testShopID, operationID: "op-1", count: 5}, h.reporter.calls[0])

	// redelivery of the same webhook is a no-op
	require.NoError(t, h.svc.HandleTransformCompleted(context.Background(), evt))
	assert.Len(t, h.reporter.calls, 1)
	assert.Equal(t, shopdomain.ProcessStateCompleted, h.settings(t).Status.State)
}

func TestHandleTransformCompleted_FailureSkipsUsage(t *testing.T) {
	h := setup(t)
	h.seedShop(t, h.inTrial)
	h.setStatus(t, shopdomain.ProcessStatus{
		State:        shopdomain.ProcessStateProcessing,
		OperationID:  "op-1",
		PlannedCount: 5,
	})

	err := h.svc.HandleTransformCompleted(context.Background(), domain.TransformCompletedEvent{
		ShopID:      testShopID,
		OperationID: "op-1",
		Status:      "FAILED",
	})
	require.NoError(t, err)

	assert.Empty(t, h.reporter.calls)
	assert.Equal(t, shopdomain.ProcessStateFailed, h.settings(t).Status.State)
}

func TestDisableProcessing_NoMarkedImagesIdlesInPlace(t *testing.T) {
	h := setup(t)
	h.seedShop(t, nil)

	status, err := h.svc.DisableProcessing(context.Background(), testShopID)
	require.NoError(t, err)

	assert.Equal(t, shopdomain.ProcessStateIdle, status.State)
	assert.Empty(t, h.removal.reqs)
	settings := h.settings(t)
	assert.False(t, settings.IsActive)
}

func TestDisableProcessing_DispatchesRemoval(t *testing.T) {
	h := setup(t)
	h.seedShop(t, func(b *shopdomain.ShopBillingRecord) {
		b.MarkedImagesCount = 10
	})

	status, err := h.svc.DisableProcessing(context.Background(), testShopID)
	require.NoError(t, err)

	assert.Equal(t, shopdomain.ProcessStateRemoving, status.State)
	require.Len(t, h.removal.reqs, 1)
	assert.Equal(t, testShopID, h.removal.reqs[0].ShopID)
	assert.Equal(t, status.OperationID, h.removal.reqs[0].OperationID)
	assert.False(t, h.settings(t).IsActive)
}

func TestDisableProcessing_RemovalInvokeFailureMarksFailed(t *testing.T) {
	h := setup(t)
	h.seedShop(t, func(b *shopdomain.ShopBillingRecord) {
		b.MarkedImagesCount = 10
	})
	h.removal.err = errors.New("lambda unavailable")

	_, err := h.svc.DisableProcessing(context.Background(), testShopID)
	require.Error(t, err)
	assert.Equal(t, shopdomain.ProcessStateFailed, h.settings(t).Status.State)
}

func TestHandleRemovalCompleted_ReturnsToIdle(t *testing.T) {
	h := setup(t)
	h.seedShop(t, nil)
	h.setStatus(t, shopdomain.ProcessStatus{State: shopdomain.ProcessStateRemoving, OperationID: "rm-1"})

	err := h.svc.HandleRemovalCompleted(context.Background(), domain.RemovalCompletedEvent{
		ShopID:      testShopID,
		OperationID: "rm-1",
		Success:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, shopdomain.ProcessStateIdle, h.settings(t).Status.State)
}

func TestHandleRemovalCompleted_FailureMarksFailed(t *testing.T) {
	h := setup(t)
	h.seedShop(t, nil)
	h.setStatus(t, shopdomain.ProcessStatus{State: shopdomain.ProcessStateRemoving, OperationID: "rm-1"})

	err := h.svc.HandleRemovalCompleted(context.Background(), domain.RemovalCompletedEvent{
		ShopID:      testShopID,
		OperationID: "rm-1",
		Success:     false,
	})
	require.NoError(t, err)
	assert.Equal(t, shopdomain.ProcessStateFailed, h.settings(t).Status.State)
}

func TestHandleRemovalCompleted_MismatchedOperationIgnored(t *testing.T) {
	h := setup(t)
	h.seedShop(t, nil)
	h.setStatus(t, shopdomain.ProcessStatus{State: shopdomain.ProcessStateRemoving, OperationID: "rm-1"})

	err := h.svc.HandleRemovalCompleted(context.Background(), domain.RemovalCompletedEvent{
		ShopID:      testShopID,
		OperationID: "rm-other",
		Success:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, shopdomain.ProcessStateRemoving, h.settings(t).Status.State)
}

func TestTrialAllowance_TrialGrantLockedIn(t *testing.T) {
	h := setup(t)
	h.seedShop(t, nil)
	h.gw.subs = []commerce.Subscription{
		{ID: "sub-1", Status: "ACTIVE", TrialDays: 7, CreatedAt: h.clk.Now()},
	}

	view, err := h.svc.TrialAllowance(context.Background(), testShopID)
	require.NoError(t, err)

	assert.True(t, view.InTrial)
	assert.Equal(t, 50, view.Cap)
	assert.Equal(t, 50, view.Remaining)
	assert.False(t, view.IsPaidUser)

	billing, err := h.repo.FindBilling(context.Background(), testShopID)
	require.NoError(t, err)
	assert.True(t, billing.TrialEverStarted)
	require.NotNil(t, billing.TrialEndsAt)
	assert.Equal(t, h.clk.Now().Add(7*24*time.Hour), billing.TrialEndsAt.UTC())
}

func TestTrialAllowance_PaidUserUnlimitedAndClearsLimited(t *testing.T) {
	h := setup(t)
	h.seedShop(t, nil)
	h.setStatus(t, shopdomain.ProcessStatus{State: shopdomain.ProcessStateLimited})
	h.gw.subs = []commerce.Subscription{
		{ID: "sub-1", Status: "ACTIVE", TrialDays: 0, CreatedAt: h.clk.Now().Add(-time.Hour)},
	}

	view, err := h.svc.TrialAllowance(context.Background(), testShopID)
	require.NoError(t, err)

	assert.Equal(t, -1, view.Remaining)
	assert.True(t, view.IsPaidUser)
	assert.Equal(t, shopdomain.ProcessStateIdle, h.settings(t).Status.State)
}

func TestTrialAllowance_SubscriptionLookupFailureDegrades(t *testing.T) {
	h := setup(t)
	h.seedShop(t, nil)
	h.gw.subsErr = errors.New("platform timeout")

	view, err := h.svc.TrialAllowance(context.Background(), testShopID)
	require.NoError(t, err)
	assert.Equal(t, 0, view.Remaining)
	assert.False(t, view.InTrial)
}

func TestRecordManualUsage_DelegatesToReporter(t *testing.T) {
	h := setup(t)
	h.seedShop(t, nil)

	require.NoError(t, h.svc.RecordManualUsage(context.Background(), testShopID, 3))
	require.Len(t, h.reporter.calls, 1)
	assert.Equal(t, usageCall{shopID: testShopID, operationID: "manual", count: 3}, h.reporter.calls[0])
}

func TestReconcileBulkOperation_RoutesByKind(t *testing.T) {
	h := setup(t)
	h.seedShop(t, h.inTrial)
	h.setStatus(t, shopdomain.ProcessStatus{
		State:        shopdomain.ProcessStateProcessing,
		OperationID:  "op-1",
		PlannedCount: 4,
	})
	h.gw.op = &commerce.BulkOperation{
		ID:     "op-1",
		Kind:   "MUTATION",
		Status: "COMPLETED",
	}

	require.NoError(t, h.svc.ReconcileBulkOperation(context.Background(), testShopID, "gid://commerce/BulkOperation/op-1"))
	assert.Equal(t, shopdomain.ProcessStateCompleted, h.settings(t).Status.State)
	require.Len(t, h.reporter.calls, 1)
	assert.Equal(t, int64(4), h.reporter.calls[0].count)
}

func TestReconcileBulkOperation_UnknownOperation(t *testing.T) {
	h := setup(t)
	h.seedShop(t, h.inTrial)
	h.setStatus(t, shopdomain.ProcessStatus{
		State:       shopdomain.ProcessStateProcessing,
		OperationID: "op-1",
	})

	// h.gw.op stays nil: the platform has no record of the operation
	err := h.svc.ReconcileBulkOperation(context.Background(), testShopID, "gid://commerce/BulkOperation/op-gone")
	assert.ErrorIs(t, err, domain.ErrUnknownOperation)
	assert.Equal(t, shopdomain.ProcessStateProcessing, h.settings(t).Status.State)
}
