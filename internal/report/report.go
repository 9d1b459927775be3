package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/aurum-pay/aurum_pay/internal/ledger"
	"github.com/aurum-pay/aurum_pay/internal/logging"
)

const (
	cachePrefix  = "report:v1:"
	defaultLimit = 10
	maxLimit     = 100
	dateLayout   = "2006-01-02"
)

// ErrInvalidQuery marks a malformed report or history request.
var ErrInvalidQuery = errors.New("invalid report query")

// KindTotal is the count and summed amount of one operation kind.
type KindTotal struct {
	Count int             `json:"count"`
	Total decimal.Decimal `json:"total"`
}

// AssetSummary aggregates the movements of one asset. ByKind is only filled
// for monthly summaries.
type AssetSummary struct {
	Incoming decimal.Decimal            `json:"incoming"`
	Outgoing decimal.Decimal            `json:"outgoing"`
	ByKind   map[ledger.Kind]*KindTotal `json:"byType,omitempty"`
}

// Summary is keyed by asset; assets without records are absent.
type Summary map[ledger.Asset]*AssetSummary

// Report is a summary over a half-open window plus the records it covers,
// newest first.
type Report struct {
	From         time.Time            `json:"from"`
	To           time.Time            `json:"to"`
	Summary      Summary              `json:"summary"`
	Transactions []ledger.Transaction `json:"transactions"`
}

// Query selects a page of a user's history.
type Query struct {
	Page   int
	Limit  int
	Kind   ledger.Kind
	Status ledger.Status
}

// Page is one page of transaction history.
type Page struct {
	Transactions []ledger.Transaction
	Total        int
	Pages        int
	Page         int
	Limit        int
}

// Service is the read path over committed ledger records. It never takes
// account locks.
type Service struct {
	reader   ledger.Reader
	loc      *time.Location
	cache    *redis.Client
	cacheTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithLocation sets the time zone in which days and months are cut.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithCache stores reports of windows that have already closed in Redis.
func WithCache(client *redis.Client, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = client
		s.cacheTTL = ttl
	}
}

// WithLogger sets the logger used for cache failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the clock that decides whether a window is closed.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds a report service over reader.
func NewService(reader ledger.Reader, opts ...Option) *Service {
	s := &Service{
		reader: reader,
		loc:    time.UTC,
		logger: logging.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ParseDate parses a YYYY-MM-DD date in the report time zone. An empty string
// means today.
func (s *Service) ParseDate(value string) (time.Time, error) {
	if value == "" {
		return s.now().In(s.loc), nil
	}
	t, err := time.ParseInLocation(dateLayout, value, s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidQuery)
	}
	return t, nil
}

// Daily summarises the calendar day containing date.
func (s *Service) Daily(ctx context.Context, userID string, date time.Time) (Report, error) {
	y, m, d := date.In(s.loc).Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, s.loc)
	return s.window(ctx, userID, from, from.AddDate(0, 0, 1), false)
}

// Monthly summarises one calendar month, including per-kind totals.
func (s *Service) Monthly(ctx context.Context, userID string, month, year int) (Report, error) {
	if month < 1 || month > 12 {
		return Report{}, fmt.Errorf("%w: month must be between 1 and 12", ErrInvalidQuery)
	}
	if year < 1970 || year > 9999 {
		return Report{}, fmt.Errorf("%w: year out of range", ErrInvalidQuery)
	}
	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, s.loc)
	return s.window(ctx, userID, from, from.AddDate(0, 1, 0), true)
}

// History returns a page of the user's transactions, newest first.
func (s *Service) History(ctx context.Context, userID string, q Query) (Page, error) {
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Limit == 0 {
		q.Limit = defaultLimit
	}
	if q.Page < 1 || q.Limit < 1 || q.Limit > maxLimit {
		return Page{}, fmt.Errorf("%w: page must be >= 1 and limit between 1 and %d", ErrInvalidQuery, maxLimit)
	}
	if q.Page > math.MaxInt32/q.Limit {
		return Page{}, fmt.Errorf("%w: page %d is out of range", ErrInvalidQuery, q.Page)
	}
	filter := ledger.Filter{
		Kind:   q.Kind,
		Status: q.Status,
		Limit:  q.Limit,
		Offset: (q.Page - 1) * q.Limit,
	}
	records, err := s.reader.ListByParticipant(ctx, userID, filter)
	if err != nil {
		return Page{}, err
	}
	total, err := s.reader.CountByParticipant(ctx, userID, filter)
	if err != nil {
		return Page{}, err
	}
	return Page{
		Transactions: records,
		Total:        total,
		Pages:        int(math.Ceil(float64(total) / float64(q.Limit))),
		Page:         q.Page,
		Limit:        q.Limit,
	}, nil
}

// Get returns one transaction if the user sent or received it.
func (s *Service) Get(ctx context.Context, userID, id string) (ledger.Transaction, error) {
	t, err := s.reader.Get(ctx, id)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if t.SenderID != userID && t.ReceiverID != userID {
		return ledger.Transaction{}, fmt.Errorf("transaction %s: %w", id, ledger.ErrNotFound)
	}
	return t, nil
}

func (s *Service) window(ctx context.Context, userID string, from, to time.Time, byKind bool) (Report, error) {
	closed := !s.now().Before(to)
	key := fmt.Sprintf("%s%s:%d:%d:%t", cachePrefix, userID, from.Unix(), to.Unix(), byKind)
	if closed {
		if r, ok := s.cached(ctx, key); ok {
			return r, nil
		}
	}

	records, err := s.reader.ListByParticipant(ctx, userID, ledger.Filter{From: from, To: to})
	if err != nil {
		return Report{}, err
	}
	r := Report{
		From:         from,
		To:           to,
		Summary:      Summarise(userID, records, byKind),
		Transactions: records,
	}

	if closed && settled(records) {
		s.store(ctx, key, r)
	}
	return r, nil
}

// Summarise folds records into per-asset totals from userID's point of view.
// Records the user sent are outgoing, records the user received are incoming;
// a self-transfer counts as both.
func Summarise(userID string, records []ledger.Transaction, byKind bool) Summary {
	out := Summary{}
	for _, t := range records {
		a, ok := out[t.Asset]
		if !ok {
			a = &AssetSummary{}
			if byKind {
				a.ByKind = map[ledger.Kind]*KindTotal{}
			}
			out[t.Asset] = a
		}
		if t.SenderID == userID {
			a.Outgoing = a.Outgoing.Add(t.Amount)
		}
		if t.ReceiverID == userID {
			a.Incoming = a.Incoming.Add(t.Amount)
		}
		if byKind {
			k, ok := a.ByKind[t.Kind]
			if !ok {
				k = &KindTotal{}
				a.ByKind[t.Kind] = k
			}
			k.Count++
			k.Total = k.Total.Add(t.Amount)
		}
	}
	return out
}

// settled reports whether no record in the window can still change status.
func settled(records []ledger.Transaction) bool {
	for _, t := range records {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

func (s *Service) cached(ctx context.Context, key string) (Report, bool) {
	if s.cache == nil {
		return Report{}, false
	}
	raw, err := s.cache.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("report cache read failed", slog.String("key", key), slog.Any("error", err))
		}
		return Report{}, false
	}
	var r Report
	if err := json.Unmarshal(raw, &r); err != nil {
		s.logger.Warn("report cache entry corrupt", slog.String("key", key), slog.Any("error", err))
		return Report{}, false
	}
	return r, true
}

func (s *Service) store(ctx context.Context, key string, r Report) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.cacheTTL).Err(); err != nil {
		s.logger.Warn("report cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}
