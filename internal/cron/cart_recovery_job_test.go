package cron

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/cartpulse-backend/internal/cart"
	"github.com/angelmondragon/cartpulse-backend/internal/settings"
	"github.com/angelmondragon/cartpulse-backend/pkg/config"
	"github.com/angelmondragon/cartpulse-backend/pkg/db/models"
	"github.com/angelmondragon/cartpulse-backend/pkg/enums"
	"github.com/angelmondragon/cartpulse-backend/pkg/logger"
	"github.com/angelmondragon/cartpulse-backend/pkg/types"
)

type sendCall struct {
	token string
	step  int
}

type fakeSender struct {
	calls []sendCall
	fail  map[string]error
}

func (f *fakeSender) Send(_ context.Context, record models.CartRecord, step int) error {
	f.calls = append(f.calls, sendCall{token: record.CartToken, step: step})
	if err, ok := f.fail[fmt.Sprintf("%s/%d", record.CartToken, step)]; ok {
		return err
	}
	return nil
}

func (f *fakeSender) count(token string, step int) int {
	n := 0
	for _, c := range f.calls {
		if c.token == token && c.step == step {
			n++
		}
	}
	return n
}

type fixedSettings struct {
	value settings.Settings
	err   error
}

func (f *fixedSettings) Get(context.Context) (settings.Settings, error) { return f.value, f.err }

type recoveryFixture struct {
	store    *cart.Store
	repo     *cart.Repository
	sender   *fakeSender
	settings *fixedSettings
	job      *cartRecoveryJob
}

func newRecoveryFixture(t *testing.T) *recoveryFixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := conn.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo := cart.NewRepository(conn)
	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	store, err := cart.NewStore(cart.StoreParams{Repo: repo, Logger: logger.Nop()})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	f := &recoveryFixture{
		store:    store,
		repo:     repo,
		sender:   &fakeSender{fail: map[string]error{}},
		settings: &fixedSettings{value: settings.Defaults()},
	}
	job, err := NewCartRecoveryJob(CartRecoveryJobParams{
		Logger:          logger.Nop(),
		Store:           store,
		Settings:        f.settings,
		Sender:          f.sender,
		MaxSendAttempts: 5,
	})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	f.job = job.(*cartRecoveryJob)
	return f
}

func (f *recoveryFixture) runAt(t *testing.T, now time.Time) error {
	t.Helper()
	f.job.now = func() time.Time { return now }
	return f.job.Run(context.Background())
}

func (f *recoveryFixture) seed(t *testing.T, token string, email *string, activity time.Time) {
	t.Helper()
	items := types.CartLineItems{{ProductID: "sku-1", Name: "Widget", Quantity: 2, UnitPrice: decimal.RequireFromString("10.00")}}
	_, err := f.store.Upsert(context.Background(), cart.UpsertInput{
		Token:      token,
		RestoreKey: "key",
		Email:      email,
		Items:      items,
		Currency:   enums.CurrencyUSD,
		Subtotal:   items.Subtotal(),
		Total:      items.Subtotal(),
	}, activity)
	if err != nil {
		t.Fatalf("seed %s: %v", token, err)
	}
}

func (f *recoveryFixture) record(t *testing.T, token string) *models.CartRecord {
	t.Helper()
	record, err := f.repo.FindByToken(context.Background(), token)
	if err != nil {
		t.Fatalf("find %s: %v", token, err)
	}
	return record
}

func email(v string) *string { return &v }

func intPtr(v int) *int { return &v }

var jobNow = time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

func TestCartRecoveryJobAbandonCutoff(t *testing.T) {
	f := newRecoveryFixture(t)
	abandon := time.Duration(f.settings.value.AbandonMinutes) * time.Minute
	f.seed(t, "past", nil, jobNow.Add(-abandon-time.Minute))
	f.seed(t, "within", nil, jobNow.Add(-abandon+time.Minute))

	if err := f.runAt(t, jobNow); err != nil {
		t.Fatalf("run: %v", err)
	}
	past := f.record(t, "past")
	if past.Status != enums.CartStatusAbandoned || past.AbandonedAt == nil {
		t.Fatalf("expected abandoned with timestamp, got %s", past.Status)
	}
	if got := f.record(t, "within").Status; got != enums.CartStatusActive {
		t.Fatalf("expected active, got %s", got)
	}
}

func TestCartRecoveryJobExpirySupersedesAbandonment(t *testing.T) {
	f := newRecoveryFixture(t)
	retention := time.Duration(f.settings.value.RetentionDays) * 24 * time.Hour
	old := jobNow.Add(-retention - 24*time.Hour)
	f.seed(t, "old-active", nil, old)
	f.seed(t, "old-abandoned", nil, old)
	if _, err := f.store.BulkTransition(context.Background(), cart.Transition{
		From:           []enums.CartStatus{enums.CartStatusActive},
		To:             enums.CartStatusAbandoned,
		InactiveBefore: old.Add(time.Second),
		Stamp:          cart.StampAbandonedAt,
	}, old.Add(time.Hour)); err != nil {
		t.Fatalf("pre-abandon: %v", err)
	}
	f.seed(t, "old-active", nil, old)

	if err := f.runAt(t, jobNow); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, token := range []string{"old-active", "old-abandoned"} {
		if got := f.record(t, token).Status; got != enums.CartStatusExpired {
			t.Fatalf("%s: expected expired, got %s", token, got)
		}
	}
}

func TestCartRecoveryJobHugeWindowsKeepFreshCarts(t *testing.T) {
	f := newRecoveryFixture(t)
	f.settings.value = settings.Input{
		AbandonMinutes: intPtr(200000000),
		RetentionDays:  intPtr(200000),
	}.Apply(settings.Defaults())
	f.seed(t, "fresh", nil, jobNow.Add(-time.Minute))

	if err := f.runAt(t, jobNow); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := f.record(t, "fresh").Status; got != enums.CartStatusActive {
		t.Fatalf("expected active, got %s", got)
	}
}

func TestCartRecoveryJobLeavesRecoveredAlone(t *testing.T) {
	f := newRecoveryFixture(t)
	old := jobNow.Add(-365 * 24 * time.Hour)
	f.seed(t, "won", email("buyer@example.com"), old)
	if _, err := f.store.MarkRecovered(context.Background(), "won", "order-1", old); err != nil {
		t.Fatalf("mark recovered: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := f.runAt(t, jobNow.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if got := f.record(t, "won").Status; got != enums.CartStatusRecovered {
		t.Fatalf("expected recovered, got %s", got)
	}
	if len(f.sender.calls) != 0 {
		t.Fatalf("recovered cart must not be emailed, got %v", f.sender.calls)
	}
}

func TestCartRecoveryJobWatermarkAfterDowntime(t *testing.T) {
	f := newRecoveryFixture(t)
	f.seed(t, "T1", email("buyer@example.com"), jobNow.Add(-48*time.Hour))

	if err := f.runAt(t, jobNow); err != nil {
		t.Fatalf("run: %v", err)
	}
	abandonedAt := *f.record(t, "T1").AbandonedAt
	// 25h after abandonment steps 1 and 2 are both due, step 3 is not
	if err := f.runAt(t, abandonedAt.Add(25*time.Hour)); err != nil {
		t.Fatalf("run: %v", err)
	}
	record := f.record(t, "T1")
	if record.LastEmailStep != 2 {
		t.Fatalf("expected watermark 2, got %d", record.LastEmailStep)
	}

	for i := 0; i < 3; i++ {
		if err := f.runAt(t, abandonedAt.Add(26*time.Hour+time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("rerun: %v", err)
		}
	}
	if f.sender.count("T1", 1) != 1 || f.sender.count("T1", 2) != 1 {
		t.Fatalf("steps must be sent once each, calls=%v", f.sender.calls)
	}
	if f.sender.count("T1", 3) != 0 {
		t.Fatalf("step 3 not yet due, calls=%v", f.sender.calls)
	}
}

func TestCartRecoveryJobFailedSendRetriesNextRun(t *testing.T) {
	f := newRecoveryFixture(t)
	f.seed(t, "T1", email("buyer@example.com"), jobNow.Add(-2*time.Hour))
	if err := f.runAt(t, jobNow.Add(-30*time.Minute)); err != nil {
		t.Fatalf("abandon run: %v", err)
	}
	f.sender.calls = nil
	f.sender.fail["T1/1"] = errors.New("provider down")

	later := jobNow.Add(3 * time.Hour)
	if err := f.runAt(t, later); err != nil {
		t.Fatalf("run: %v", err)
	}
	record := f.record(t, "T1")
	if record.LastEmailStep != 0 || record.EmailFailureCount != 1 {
		t.Fatalf("expected no watermark and one failure, got step=%d failures=%d", record.LastEmailStep, record.EmailFailureCount)
	}
	if f.sender.count("T1", 1) != 1 {
		t.Fatalf("expected a single attempt in the failing run, calls=%v", f.sender.calls)
	}

	delete(f.sender.fail, "T1/1")
	if err := f.runAt(t, later.Add(time.Hour)); err != nil {
		t.Fatalf("retry run: %v", err)
	}
	record = f.record(t, "T1")
	if record.LastEmailStep != 1 || record.EmailFailureCount != 0 {
		t.Fatalf("expected step 1 with failures reset, got step=%d failures=%d", record.LastEmailStep, record.EmailFailureCount)
	}
}

func TestCartRecoveryJobStopsAfterMaxAttempts(t *testing.T) {
	f := newRecoveryFixture(t)
	f.job.maxAttempts = 2
	f.seed(t, "T1", email("buyer@example.com"), jobNow.Add(-2*time.Hour))
	f.sender.fail["T1/1"] = errors.New("bounced")

	for i := 0; i < 4; i++ {
		if err := f.runAt(t, jobNow.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if got := f.sender.count("T1", 1); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestCartRecoveryJobEmailsDisabled(t *testing.T) {
	f := newRecoveryFixture(t)
	f.settings.value.EnableEmails = false
	f.seed(t, "T1", email("buyer@example.com"), jobNow.Add(-5*time.Hour))

	if err := f.runAt(t, jobNow); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := f.record(t, "T1").Status; got != enums.CartStatusAbandoned {
		t.Fatalf("sweeps must still run, got %s", got)
	}
	if len(f.sender.calls) != 0 {
		t.Fatalf("no emails expected, got %v", f.sender.calls)
	}
}

func TestCartRecoveryJobSkipsCartsWithoutEmail(t *testing.T) {
	f := newRecoveryFixture(t)
	f.seed(t, "anon", nil, jobNow.Add(-5*time.Hour))

	if err := f.runAt(t, jobNow); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := f.runAt(t, jobNow.Add(4*time.Hour)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(f.sender.calls) != 0 {
		t.Fatalf("no emails expected, got %v", f.sender.calls)
	}
}

func TestCartRecoveryJobSettingsFailure(t *testing.T) {
	f := newRecoveryFixture(t)
	f.settings.err = errors.New("db down")
	if err := f.runAt(t, jobNow); err == nil {
		t.Fatal("expected settings error")
	}
}

func TestCartRecoveryEndToEnd(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()
	abandon := time.Duration(f.settings.value.AbandonMinutes) * time.Minute

	start := time.Now().UTC().Truncate(time.Second)
	clock := start
	tracker, err := cart.NewTracker(cart.TrackerParams{
		Store:         f.store,
		Settings:      f.settings,
		Orders:        cart.NewOrderAttributionRepository(f.repo.DB(ctx)),
		JWT:           config.JWTConfig{Secret: "jwt-secret", Issuer: "cartpulse"},
		RestoreSecret: "restore-secret",
		Logger:        logger.Nop(),
		Now:           func() time.Time { return clock },
	})
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}

	state := &cart.RequestState{Token: "T1", AccountEmail: email("buyer@example.com")}
	res, err := tracker.OnCartChanged(cart.WithRequestState(ctx, state), cart.CartChange{
		Items: types.CartLineItems{{ProductID: "sku-1", Name: "Widget", Quantity: 2, UnitPrice: decimal.RequireFromString("10.00")}},
	})
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if !res.Record.Total.Equal(decimal.RequireFromString("20.00")) {
		t.Fatalf("unexpected total %s", res.Record.Total)
	}

	if err := f.runAt(t, start.Add(abandon+time.Minute)); err != nil {
		t.Fatalf("abandon run: %v", err)
	}
	record := f.record(t, "T1")
	if record.Status != enums.CartStatusAbandoned || record.AbandonedAt == nil {
		t.Fatalf("expected abandoned, got %s", record.Status)
	}

	step1 := time.Duration(f.settings.value.EmailSteps.Step1Hours) * time.Hour
	if err := f.runAt(t, record.AbandonedAt.Add(step1)); err != nil {
		t.Fatalf("email run: %v", err)
	}
	if f.sender.count("T1", 1) != 1 {
		t.Fatalf("expected step 1 send, calls=%v", f.sender.calls)
	}
	if got := f.record(t, "T1").LastEmailStep; got != 1 {
		t.Fatalf("expected watermark 1, got %d", got)
	}

	clock = record.AbandonedAt.Add(step1 + time.Minute)
	orderState := &cart.RequestState{Token: "T1"}
	if _, err := tracker.OnOrderCompleted(cart.WithRequestState(ctx, orderState), "order-9"); err != nil {
		t.Fatalf("order completed: %v", err)
	}
	record = f.record(t, "T1")
	if record.Status != enums.CartStatusRecovered || record.RecoveredAt == nil || record.OrderID == nil || *record.OrderID != "order-9" {
		t.Fatalf("expected recovered with order id, got %+v", record)
	}

	calls := len(f.sender.calls)
	for i := 1; i <= 3; i++ {
		if err := f.runAt(t, clock.Add(time.Duration(i)*40*24*time.Hour)); err != nil {
			t.Fatalf("later run: %v", err)
		}
	}
	if got := f.record(t, "T1").Status; got != enums.CartStatusRecovered {
		t.Fatalf("recovered cart changed to %s", got)
	}
	if len(f.sender.calls) != calls {
		t.Fatalf("no further emails expected, calls=%v", f.sender.calls)
	}
}

func TestNewCartRecoveryJobValidates(t *testing.T) {
	if _, err := NewCartRecoveryJob(CartRecoveryJobParams{}); err == nil {
		t.Fatal("expected logger error")
	}
	if _, err := NewCartRecoveryJob(CartRecoveryJobParams{Logger: logger.Nop()}); err == nil {
		t.Fatal("expected store error")
	}
}
