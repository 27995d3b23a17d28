package cart

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/cartpulse-backend/internal/settings"
	"github.com/angelmondragon/cartpulse-backend/pkg/auth"
	"github.com/angelmondragon/cartpulse-backend/pkg/config"
	"github.com/angelmondragon/cartpulse-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cartpulse-backend/pkg/errors"
	"github.com/angelmondragon/cartpulse-backend/pkg/logger"
	"github.com/angelmondragon/cartpulse-backend/pkg/security"
)

const testRestoreSecret = "restore-secret"

type stubSettings struct {
	value settings.Settings
	err   error
}

func (s stubSettings) Get(context.Context) (settings.Settings, error) {
	return s.value, s.err
}

type recordingAnnotator struct {
	calls map[string]string
	err   error
}

func (r *recordingAnnotator) TagOrder(_ context.Context, orderID, cartToken string, _ time.Time) error {
	if r.calls == nil {
		r.calls = map[string]string{}
	}
	r.calls[orderID] = cartToken
	return r.err
}

type trackerFixture struct {
	tracker   *Tracker
	store     *Store
	annotator *recordingAnnotator
	jwt       config.JWTConfig
	now       time.Time
}

func newTrackerFixture(t *testing.T, current settings.Settings) *trackerFixture {
	t.Helper()
	f := &trackerFixture{
		store:     newTestStore(t, newTestRepository(t), nil),
		annotator: &recordingAnnotator{},
		jwt:       config.JWTConfig{Secret: "jwt-secret", Issuer: "cartpulse", ExpirationMinutes: 60},
		now:       time.Now().UTC().Truncate(time.Second),
	}
	tracker, err := NewTracker(TrackerParams{
		Store:         f.store,
		Settings:      stubSettings{value: current},
		Orders:        f.annotator,
		JWT:           f.jwt,
		RestoreSecret: testRestoreSecret,
		Logger:        logger.Nop(),
		Now:           func() time.Time { return f.now },
	})
	require.NoError(t, err)
	f.tracker = tracker
	return f
}

func storefrontCtx(state *RequestState) context.Context {
	return WithRequestState(context.Background(), state)
}

func TestNewTrackerRequiresSecret(t *testing.T) {
	_, err := NewTracker(TrackerParams{
		Store:    &Store{},
		Settings: stubSettings{},
		Logger:   logger.Nop(),
	})
	assert.Error(t, err)
}

func TestOnCartChangedMintsTokenAndTracks(t *testing.T) {
	f := newTrackerFixture(t, settings.Defaults())
	state := &RequestState{}

	res, err := f.tracker.OnCartChanged(storefrontCtx(state), CartChange{Items: widgetItems(2, "10.00")})
	require.NoError(t, err)
	assert.Equal(t, OutcomeTracked, res.Outcome)
	assert.True(t, state.Minted())
	assert.True(t, security.IsCartToken(state.CurrentToken()))

	record := res.Record
	require.NotNil(t, record)
	assert.Equal(t, state.CurrentToken(), record.CartToken)
	assert.Equal(t, security.RestoreKey(record.CartToken, testRestoreSecret), record.RestoreKey)
	assert.True(t, record.Total.Equal(decimal.RequireFromString("20")))
	assert.Equal(t, enums.CurrencyUSD, record.Currency)
}

func TestOnCartChangedOncePerRequest(t *testing.T) {
	f := newTrackerFixture(t, settings.Defaults())
	ctx := storefrontCtx(&RequestState{Token: security.NewCartToken()})

	res, err := f.tracker.OnCartChanged(ctx, CartChange{Items: widgetItems(1, "10.00")})
	require.NoError(t, err)
	assert.Equal(t, OutcomeTracked, res.Outcome)

	res, err = f.tracker.OnCartChanged(ctx, CartChange{Items: widgetItems(9, "10.00")})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkippedDuplicate, res.Outcome)
}

func TestOnCartChangedSkips(t *testing.T) {
	f := newTrackerFixture(t, settings.Defaults())

	res, err := f.tracker.OnCartChanged(storefrontCtx(&RequestState{IsAdmin: true}), CartChange{Items: widgetItems(1, "10.00")})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkippedAdmin, res.Outcome)

	state := &RequestState{}
	res, err = f.tracker.OnCartChanged(storefrontCtx(state), CartChange{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkippedEmpty, res.Outcome)
	assert.False(t, state.Minted())
	assert.False(t, state.Tracked())
}

func TestOnCartChangedRejectsUnknownCurrency(t *testing.T) {
	f := newTrackerFixture(t, settings.Defaults())
	_, err := f.tracker.OnCartChanged(storefrontCtx(&RequestState{}), CartChange{Items: widgetItems(1, "10.00"), Currency: "XYZ"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestOnCartChangedUsesAccountEmail(t *testing.T) {
	f := newTrackerFixture(t, settings.Defaults())
	state := &RequestState{UserID: strPtr("user-1"), AccountEmail: strPtr(" Account@Example.com ")}

	res, err := f.tracker.OnCartChanged(storefrontCtx(state), CartChange{Items: widgetItems(1, "10.00")})
	require.NoError(t, err)
	assert.Equal(t, "account@example.com", res.Record.EmailAddress())
	require.NotNil(t, res.Record.UserID)
	assert.Equal(t, "user-1", *res.Record.UserID)
}

func TestOnCheckoutEmailEntered(t *testing.T) {
	f := newTrackerFixture(t, settings.Defaults())
	state := &RequestState{}
	_, err := f.tracker.OnCartChanged(storefrontCtx(state), CartChange{Items: widgetItems(1, "10.00")})
	require.NoError(t, err)

	ctx := storefrontCtx(&RequestState{Token: state.CurrentToken()})
	formToken, err := f.tracker.IssueFormToken(ctx)
	require.NoError(t, err)

	err = f.tracker.OnCheckoutEmailEntered(ctx, CheckoutForm{Email: "Buyer@Example.com", FormToken: formToken.Token})
	require.NoError(t, err)

	record, err := f.store.FindByToken(context.Background(), state.CurrentToken())
	require.NoError(t, err)
	assert.Equal(t, "buyer@example.com", record.EmailAddress())
}

func TestOnCheckoutEmailEnteredRejectsForeignFormToken(t *testing.T) {
	f := newTrackerFixture(t, settings.Defaults())
	token := security.NewCartToken()
	other, err := auth.MintCheckoutFormToken(f.jwt, time.Hour, f.now, security.NewCartToken())
	require.NoError(t, err)

	err = f.tracker.OnCheckoutEmailEntered(storefrontCtx(&RequestState{Token: token}), CheckoutForm{Email: "buyer@example.com", FormToken: other})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestOnCheckoutEmailEnteredIgnoresMissingCartAndBadEmail(t *testing.T) {
	f := newTrackerFixture(t, settings.Defaults())
	ctx := storefrontCtx(&RequestState{Token: security.NewCartToken()})
	formToken, err := f.tracker.IssueFormToken(ctx)
	require.NoError(t, err)

	assert.NoError(t, f.tracker.OnCheckoutEmailEntered(ctx, CheckoutForm{Email: "buyer@example.com", FormToken: formToken.Token}))
	assert.NoError(t, f.tracker.OnCheckoutEmailEntered(ctx, CheckoutForm{Email: "not-an-email", FormToken: formToken.Token}))
	assert.NoError(t, f.tracker.OnCheckoutEmailEntered(context.Background(), CheckoutForm{Email: "buyer@example.com", FormToken: formToken.Token}))
}

func TestOnOrderCompletedRecoversAndTags(t *testing.T) {
	f := newTrackerFixture(t, settings.Defaults())
	state := &RequestState{}
	_, err := f.tracker.OnCartChanged(storefrontCtx(state), CartChange{Items: widgetItems(1, "10.00")})
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	res, err := f.tracker.OnOrderCompleted(storefrontCtx(&RequestState{Token: state.CurrentToken()}), "order-77")
	require.NoError(t, err)
	assert.True(t, res.Recovered)
	assert.Equal(t, state.CurrentToken(), f.annotator.calls["order-77"])

	record, err := f.store.FindByToken(context.Background(), state.CurrentToken())
	require.NoError(t, err)
	assert.Equal(t, enums.CartStatusRecovered, record.Status)
	require.NotNil(t, record.RecoveredAt)
	assert.True(t, record.RecoveredAt.Equal(f.now))
}

func TestOnOrderCompletedWithoutCart(t *testing.T) {
	f := newTrackerFixture(t, settings.Defaults())

	res, err := f.tracker.OnOrderCompleted(storefrontCtx(&RequestState{}), "order-1")
	require.NoError(t, err)
	assert.False(t, res.Recovered)

	res, err = f.tracker.OnOrderCompleted(storefrontCtx(&RequestState{Token: security.NewCartToken()}), "order-1")
	require.NoError(t, err)
	assert.False(t, res.Recovered)
	assert.Empty(t, f.annotator.calls)

	_, err = f.tracker.OnOrderCompleted(context.Background(), " ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestOnOrderCompletedToleratesAnnotatorFailure(t *testing.T) {
	f := newTrackerFixture(t, settings.Defaults())
	f.annotator.err = errors.New("boom")
	state := &RequestState{}
	_, err := f.tracker.OnCartChanged(storefrontCtx(state), CartChange{Items: widgetItems(1, "10.00")})
	require.NoError(t, err)

	res, err := f.tracker.OnOrderCompleted(storefrontCtx(&RequestState{Token: state.CurrentToken()}), "order-1")
	require.NoError(t, err)
	assert.True(t, res.Recovered)
}

func TestRestore(t *testing.T) {
	current := settings.Defaults()
	current.RestoreRedirect = enums.RestoreRedirectCart
	f := newTrackerFixture(t, current)
	state := &RequestState{}
	_, err := f.tracker.OnCartChanged(storefrontCtx(state), CartChange{Items: widgetItems(1, "10.00")})
	require.NoError(t, err)
	token := state.CurrentToken()

	res, err := f.tracker.Restore(context.Background(), token, security.RestoreKey(token, testRestoreSecret))
	require.NoError(t, err)
	assert.Equal(t, token, res.Record.CartToken)
	assert.Equal(t, enums.RestoreRedirectCart, res.Redirect)

	_, err = f.tracker.Restore(context.Background(), token, security.RestoreKey(token, "other-secret"))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	unknown := security.NewCartToken()
	_, err = f.tracker.Restore(context.Background(), unknown, security.RestoreKey(unknown, testRestoreSecret))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestRestoreRejectsRecoveredCart(t *testing.T) {
	f := newTrackerFixture(t, settings.Defaults())
	state := &RequestState{}
	_, err := f.tracker.OnCartChanged(storefrontCtx(state), CartChange{Items: widgetItems(1, "10.00")})
	require.NoError(t, err)
	token := state.CurrentToken()
	_, err = f.tracker.OnOrderCompleted(storefrontCtx(&RequestState{Token: token}), "order-1")
	require.NoError(t, err)

	_, err = f.tracker.Restore(context.Background(), token, security.RestoreKey(token, testRestoreSecret))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestOnCartChangedRotatesClosedToken(t *testing.T) {
	f := newTrackerFixture(t, settings.Defaults())
	state := &RequestState{}
	_, err := f.tracker.OnCartChanged(storefrontCtx(state), CartChange{Items: widgetItems(1, "10.00")})
	require.NoError(t, err)
	oldToken := state.CurrentToken()
	_, err = f.tracker.OnOrderCompleted(storefrontCtx(&RequestState{Token: oldToken}), "order-1")
	require.NoError(t, err)

	next := &RequestState{Token: oldToken}
	res, err := f.tracker.OnCartChanged(storefrontCtx(next), CartChange{Items: widgetItems(9, "55.00")})
	require.NoError(t, err)
	assert.Equal(t, OutcomeTracked, res.Outcome)
	assert.NotEqual(t, oldToken, next.CurrentToken())
	assert.True(t, next.Minted())
	assert.Equal(t, next.CurrentToken(), res.Record.CartToken)
	assert.Equal(t, enums.CartStatusActive, res.Record.Status)

	closed, err := f.store.FindByToken(context.Background(), oldToken)
	require.NoError(t, err)
	assert.Equal(t, enums.CartStatusRecovered, closed.Status)
	assert.True(t, closed.Total.Equal(decimal.RequireFromString("10")))
	require.NotNil(t, closed.OrderID)
	assert.Equal(t, "order-1", *closed.OrderID)

	stats, err := f.store.Stats(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.RecoveredRevenue.Equal(decimal.RequireFromString("10")))
}

func TestResolveEmailPriority(t *testing.T) {
	assert.Equal(t, "a@x.io", *resolveEmail(strPtr("a@x.io"), strPtr("b@x.io"), strPtr("c@x.io")))
	assert.Equal(t, "b@x.io", *resolveEmail(strPtr(" "), strPtr("b@x.io"), strPtr("c@x.io")))
	assert.Equal(t, "c@x.io", *resolveEmail(nil, nil, strPtr("c@x.io")))
	assert.Nil(t, resolveEmail(nil, strPtr(""), nil))
}
