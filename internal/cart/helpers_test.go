package cart

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/cartpulse-backend/pkg/enums"
	"github.com/angelmondragon/cartpulse-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/cartpulse-backend/pkg/redis"
	"github.com/angelmondragon/cartpulse-backend/pkg/types"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	repo := NewRepository(newTestDB(t))
	require.NoError(t, repo.EnsureSchema(context.Background()))
	return repo
}

func newTestCache(t *testing.T) (*pkgredis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	return pkgredis.NewFromRaw(raw), mr
}

func newTestStore(t *testing.T, repo *Repository, cache Cache) *Store {
	t.Helper()
	store, err := NewStore(StoreParams{Repo: repo, Cache: cache, Logger: logger.Nop()})
	require.NoError(t, err)
	return store
}

func widgetItems(qty int, price string) types.CartLineItems {
	return types.CartLineItems{{
		ProductID: "sku-widget",
		Name:      "Widget",
		Quantity:  qty,
		UnitPrice: decimal.RequireFromString(price),
	}}
}

func upsertInput(token string, items types.CartLineItems) UpsertInput {
	subtotal := items.Subtotal()
	return UpsertInput{
		Token:      token,
		RestoreKey: "key-" + token,
		Items:      items,
		Currency:   enums.CurrencyUSD,
		Subtotal:   subtotal,
		Total:      subtotal,
	}
}

func strPtr(v string) *string { return &v }
