package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/cartpulse-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/cartpulse-backend/pkg/errors"
	"github.com/angelmondragon/cartpulse-backend/pkg/logger"
	"github.com/angelmondragon/cartpulse-backend/pkg/pagination"
)

const (
	defaultRecordTTL    = 60 * time.Second
	defaultCandidateTTL = 60 * time.Second
	defaultStatsTTL     = 300 * time.Second
	candidateBatchLimit = 500
)

// Cache is the best-effort read cache in front of the store.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	DelPrefix(ctx context.Context, prefix string) (int64, error)
	CartKey(token string) string
	CartKeyPrefix() string
	CartsKey(parts ...string) string
	CartsPrefix() string
}

type recordRepository interface {
	EnsureSchema(ctx context.Context) error
	FindByToken(ctx context.Context, token string) (*models.CartRecord, error)
	Upsert(ctx context.Context, in UpsertInput, now time.Time) (*models.CartRecord, error)
	SetEmail(ctx context.Context, token, email string, now time.Time) (bool, error)
	BulkTransition(ctx context.Context, t Transition, now time.Time) (int64, error)
	MarkRecovered(ctx context.Context, token, orderID string, now time.Time) (bool, error)
	FindEmailCandidates(ctx context.Context, q CandidateQuery) ([]models.CartRecord, error)
	AdvanceEmailStep(ctx context.Context, id int64, step int, now time.Time) (bool, error)
	RecordEmailFailure(ctx context.Context, id int64, now time.Time) error
	ListRecent(ctx context.Context, limit int, cursor *pagination.Cursor) ([]models.CartRecord, error)
	Stats(ctx context.Context) (Stats, error)
}

// StoreParams wires the cart store.
type StoreParams struct {
	Repo         recordRepository
	Cache        Cache
	Logger       *logger.Logger
	RecordTTL    time.Duration
	CandidateTTL time.Duration
	StatsTTL     time.Duration
}

// Store is the only mutation surface for cart records. Every write invalidates
// the cached reads it could have made stale before returning.
type Store struct {
	repo         recordRepository
	cache        Cache
	logg         *logger.Logger
	recordTTL    time.Duration
	candidateTTL time.Duration
	statsTTL     time.Duration
}

// NewStore validates dependencies. A nil Cache disables caching.
func NewStore(params StoreParams) (*Store, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	s := &Store{
		repo:         params.Repo,
		cache:        params.Cache,
		logg:         params.Logger,
		recordTTL:    params.RecordTTL,
		candidateTTL: params.CandidateTTL,
		statsTTL:     params.StatsTTL,
	}
	if s.recordTTL <= 0 {
		s.recordTTL = defaultRecordTTL
	}
	if s.candidateTTL <= 0 {
		s.candidateTTL = defaultCandidateTTL
	}
	if s.statsTTL <= 0 {
		s.statsTTL = defaultStatsTTL
	}
	return s, nil
}

// EnsureSchema creates missing tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.repo.EnsureSchema(ctx); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "ensure cart schema")
	}
	return nil
}

// FindByToken returns a CodeNotFound error when the token is unknown.
func (s *Store) FindByToken(ctx context.Context, token string) (*models.CartRecord, error) {
	if token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
	}
	var cached models.CartRecord
	if s.cacheGet(ctx, s.cacheKey(token), &cached) {
		return &cached, nil
	}

	record, err := s.repo.FindByToken(ctx, token)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cart")
	}
	s.cacheSet(ctx, s.cacheKey(token), record, s.recordTTL)
	return record, nil
}

// Upsert writes the snapshot for in.Token.
func (s *Store) Upsert(ctx context.Context, in UpsertInput, now time.Time) (*models.CartRecord, error) {
	record, err := s.repo.Upsert(ctx, in, now)
	s.invalidateToken(ctx, in.Token)
	if errors.Is(err, ErrConcurrentUpdate) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "upsert cart")
	}
	if errors.Is(err, ErrClosedRecord) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "upsert cart")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "upsert cart")
	}
	return record, nil
}

// SetEmail reports false when the token has no record.
func (s *Store) SetEmail(ctx context.Context, token, email string, now time.Time) (bool, error) {
	ok, err := s.repo.SetEmail(ctx, token, email, now)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "set cart email")
	}
	if ok {
		s.invalidateToken(ctx, token)
	}
	return ok, nil
}

// BulkTransition applies t and clears every cached cart read.
func (s *Store) BulkTransition(ctx context.Context, t Transition, now time.Time) (int64, error) {
	n, err := s.repo.BulkTransition(ctx, t, now)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("transition carts to %s", t.To))
	}
	if n > 0 && s.cache != nil {
		s.invalidatePrefix(ctx, s.cache.CartKeyPrefix())
		s.InvalidateAggregates(ctx)
	}
	return n, nil
}

// MarkRecovered reports whether the record moved to recovered.
func (s *Store) MarkRecovered(ctx context.Context, token, orderID string, now time.Time) (bool, error) {
	ok, err := s.repo.MarkRecovered(ctx, token, orderID, now)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark cart recovered")
	}
	if ok {
		s.invalidateToken(ctx, token)
	}
	return ok, nil
}

// EmailCandidates returns the candidate list for step, cached briefly per step.
func (s *Store) EmailCandidates(ctx context.Context, q CandidateQuery) ([]models.CartRecord, error) {
	if q.Limit <= 0 {
		q.Limit = candidateBatchLimit
	}
	key := ""
	if s.cache != nil {
		key = s.cache.CartsKey("candidates", "step", strconv.Itoa(q.Step))
	}
	var cached []models.CartRecord
	if s.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	records, err := s.repo.FindEmailCandidates(ctx, q)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("select step %d candidates", q.Step))
	}
	s.cacheSet(ctx, key, records, s.candidateTTL)
	return records, nil
}

// AdvanceEmailStep raises the watermark after a confirmed send.
func (s *Store) AdvanceEmailStep(ctx context.Context, record models.CartRecord, step int, now time.Time) (bool, error) {
	ok, err := s.repo.AdvanceEmailStep(ctx, record.ID, step, now)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "advance email step")
	}
	s.invalidateToken(ctx, record.CartToken)
	return ok, nil
}

// RecordEmailFailure counts a failed send against the record.
func (s *Store) RecordEmailFailure(ctx context.Context, record models.CartRecord, now time.Time) error {
	if err := s.repo.RecordEmailFailure(ctx, record.ID, now); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record email failure")
	}
	s.invalidateToken(ctx, record.CartToken)
	return nil
}

// RecentPage is one page of the reporting list.
type RecentPage struct {
	Items  []models.CartRecord `json:"items"`
	Cursor string              `json:"cursor"`
}

// ListRecent returns the most recently updated records.
func (s *Store) ListRecent(ctx context.Context, params pagination.Params) (*RecentPage, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)

	key := ""
	if s.cache != nil {
		key = s.cache.CartsKey("recent", strconv.Itoa(limit), params.Cursor)
	}
	var cached RecentPage
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	records, err := s.repo.ListRecent(ctx, pagination.LimitWithBuffer(limit), cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list recent carts")
	}
	page := &RecentPage{Items: records}
	if len(records) > limit {
		last := records[limit-1]
		page.Items = records[:limit]
		page.Cursor = pagination.EncodeCursor(pagination.Cursor{UpdatedAt: last.UpdatedAt, ID: last.ID})
	}
	s.cacheSet(ctx, key, page, s.candidateTTL)
	return page, nil
}

// Stats returns the cached reporting aggregate.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	key := ""
	if s.cache != nil {
		key = s.cache.CartsKey("stats")
	}
	var cached Stats
	if s.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return Stats{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "aggregate cart stats")
	}
	s.cacheSet(ctx, key, stats, s.statsTTL)
	return stats, nil
}

// InvalidateAggregates drops the cached lists, candidate sets, and stats.
func (s *Store) InvalidateAggregates(ctx context.Context) {
	if s.cache == nil {
		return
	}
	s.invalidatePrefix(ctx, s.cache.CartsPrefix())
}

func (s *Store) invalidateToken(ctx context.Context, token string) {
	if s.cache == nil {
		return
	}
	if token != "" {
		if err := s.cache.Del(ctx, s.cache.CartKey(token)); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "cart cache invalidation failed")
		}
	}
	s.InvalidateAggregates(ctx)
}

func (s *Store) invalidatePrefix(ctx context.Context, prefix string) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.DelPrefix(ctx, prefix); err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"prefix": prefix, "error": err.Error()}), "cart cache prefix invalidation failed")
	}
}

func (s *Store) cacheKey(token string) string {
	if s.cache == nil {
		return ""
	}
	return s.cache.CartKey(token)
}

func (s *Store) cacheGet(ctx context.Context, key string, dest any) bool {
	if s.cache == nil || key == "" {
		return false
	}
	raw, err := s.cache.Get(ctx, key)
	if err != nil || raw == "" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "key", key), "discarding undecodable cache entry")
		return false
	}
	return true
}

func (s *Store) cacheSet(ctx context.Context, key string, value any, ttl time.Duration) {
	if s.cache == nil || key == "" {
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, string(payload), ttl); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "key", key), "cart cache write failed")
	}
}
