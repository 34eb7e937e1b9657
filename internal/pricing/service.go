package pricing

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/swapplan/swapplan/internal/asset"
	"github.com/swapplan/swapplan/internal/cache"
	"github.com/swapplan/swapplan/internal/model"
)

// DefaultTTL bounds how long a cached price keeps serving before the
// upstream is asked again.
const DefaultTTL = 60 * time.Second

// Source produces live token prices; the Jupiter client satisfies it.
type Source interface {
	TokenPrice(ctx context.Context, token string) (model.PriceQuote, error)
}

// Service serves token prices through a write-through TTL cache. Without
// a cache it degrades to a plain pass-through.
type Service struct {
	source Source
	cache  *cache.Store
	ttl    time.Duration
	logger *zap.Logger
}

type Option func(*Service)

func WithCache(store *cache.Store) Option {
	return func(s *Service) { s.cache = store }
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(source Source, opts ...Option) *Service {
	s := &Service{
		source: source,
		ttl:    DefaultTTL,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TokenPrice implements the planner's price oracle.
func (s *Service) TokenPrice(ctx context.Context, token string) (model.PriceQuote, error) {
	quote, _, err := s.Lookup(ctx, token)
	return quote, err
}

// Lookup returns the price together with how the cache served it.
func (s *Service) Lookup(ctx context.Context, token string) (model.PriceQuote, model.CacheStatus, error) {
	status := model.CacheStatus{Status: "bypass"}

	a, err := asset.Resolve(token)
	if err != nil {
		return model.PriceQuote{}, status, err
	}
	key := "price:" + a.Mint

	if s.cache != nil {
		status.Status = "miss"
		res, err := s.cache.Get(key)
		switch {
		case err != nil:
			s.logger.Warn("price cache read failed", zap.String("key", key), zap.Error(err))
		case res.Hit && !res.Stale:
			var cached model.PriceQuote
			if err := json.Unmarshal(res.Value, &cached); err == nil {
				status.Status = "hit"
				status.AgeMS = res.Age.Milliseconds()
				return cached, status, nil
			}
			s.logger.Warn("price cache entry corrupt", zap.String("key", key))
		}
	}

	quote, err := s.source.TokenPrice(ctx, token)
	if err != nil {
		return model.PriceQuote{}, status, err
	}

	if s.cache != nil {
		if payload, err := json.Marshal(quote); err == nil {
			if err := s.cache.Set(key, payload, s.ttl); err == nil {
				status.Status = "write"
			} else {
				s.logger.Warn("price cache write failed", zap.String("key", key), zap.Error(err))
			}
		}
	}
	return quote, status, nil
}
