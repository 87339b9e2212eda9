// Package redis provides subscription positions and projection views stored in Redis.
//
// It does not implement an event store; pair it with one of the SQL or document
// adapters when positions and views should live in a shared cache.
package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters"
)

// DefaultKeyPrefix prefixes every key the store writes.
const DefaultKeyPrefix = "occurrent:"

var (
	_ adapters.PositionStore = (*Store)(nil)
	_ adapters.ViewStore     = (*Store)(nil)
	_ adapters.HealthChecker = (*Store)(nil)
)

// Store keeps positions in a single hash and each view in its own hash.
// A sorted set per projection with equal scores lists view keys in
// lexicographic order.
type Store struct {
	client    *goredis.Client
	keyPrefix string
	ownsConn  bool
	closed    atomic.Bool
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix sets the prefix of every key.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.keyPrefix = prefix
	}
}

// NewStore creates a store on an existing client. Close leaves the client open.
func NewStore(client *goredis.Client, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: DefaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect parses a redis:// URL, pings the server and returns a store owning the client.
func Connect(ctx context.Context, url string, opts ...Option) (*Store, error) {
	options, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("occurrent/redis: invalid url: %w", err)
	}

	client := goredis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, wrap("connect", err)
	}

	s := NewStore(client, opts...)
	s.ownsConn = true
	return s, nil
}

// Client returns the underlying client.
func (s *Store) Client() *goredis.Client {
	return s.client
}

// KeyPrefix returns the configured key prefix.
func (s *Store) KeyPrefix() string {
	return s.keyPrefix
}

func (s *Store) positionsKey() string {
	return s.keyPrefix + "positions"
}

func (s *Store) viewKey(projection, key string) string {
	return fmt.Sprintf("%sview:%s:%s", s.keyPrefix, projection, key)
}

func (s *Store) viewIndexKey(projection string) string {
	return fmt.Sprintf("%sviews:%s", s.keyPrefix, projection)
}

// GetPosition returns the stored position of a subscription.
func (s *Store) GetPosition(ctx context.Context, subscriptionID string) (uint64, bool, error) {
	if s.closed.Load() {
		return 0, false, adapters.ErrAdapterClosed
	}
	if subscriptionID == "" {
		return 0, false, adapters.ErrEmptyKey
	}

	position, err := s.client.HGet(ctx, s.positionsKey(), subscriptionID).Uint64()
	if errors.Is(err, goredis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrap("get position", err)
	}
	return position, true, nil
}

// SetPosition stores the position of a subscription.
func (s *Store) SetPosition(ctx context.Context, subscriptionID string, position uint64) error {
	if s.closed.Load() {
		return adapters.ErrAdapterClosed
	}
	if subscriptionID == "" {
		return adapters.ErrEmptyKey
	}

	err := s.client.HSet(ctx, s.positionsKey(), subscriptionID, strconv.FormatUint(position, 10)).Err()
	return wrap("set position", err)
}

// DeletePosition removes the stored position of a subscription.
func (s *Store) DeletePosition(ctx context.Context, subscriptionID string) error {
	if s.closed.Load() {
		return adapters.ErrAdapterClosed
	}

	return wrap("delete position", s.client.HDel(ctx, s.positionsKey(), subscriptionID).Err())
}

// GetView returns the view stored under projection and key, or nil.
func (s *Store) GetView(ctx context.Context, projection, key string) (*adapters.ViewRecord, error) {
	if s.closed.Load() {
		return nil, adapters.ErrAdapterClosed
	}
	if projection == "" || key == "" {
		return nil, adapters.ErrEmptyKey
	}

	fields, err := s.client.HGetAll(ctx, s.viewKey(projection, key)).Result()
	if err != nil {
		return nil, wrap("get view", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	record, err := decodeView(projection, key, fields)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// SaveView writes the view hash and indexes its key in one transaction.
func (s *Store) SaveView(ctx context.Context, record adapters.ViewRecord) error {
	if s.closed.Load() {
		return adapters.ErrAdapterClosed
	}
	if record.Projection == "" || record.Key == "" {
		return adapters.ErrEmptyKey
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now()
	}

	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, s.viewKey(record.Projection, record.Key),
			"version", strconv.FormatInt(record.Version, 10),
			"data", record.Data,
			"updated_at", strconv.FormatInt(record.UpdatedAt.UnixNano(), 10),
		)
		pipe.ZAdd(ctx, s.viewIndexKey(record.Projection), goredis.Z{Score: 0, Member: record.Key})
		return nil
	})
	return wrap("save view", err)
}

// ListViews returns every view of a projection ordered by key.
func (s *Store) ListViews(ctx context.Context, projection string) ([]adapters.ViewRecord, error) {
	if s.closed.Load() {
		return nil, adapters.ErrAdapterClosed
	}

	keys, err := s.client.ZRange(ctx, s.viewIndexKey(projection), 0, -1).Result()
	if err != nil {
		return nil, wrap("list views", err)
	}
	if len(keys) == 0 {
		return []adapters.ViewRecord{}, nil
	}

	cmds := make([]*goredis.MapStringStringCmd, len(keys))
	_, err = s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.HGetAll(ctx, s.viewKey(projection, key))
		}
		return nil
	})
	if err != nil {
		return nil, wrap("list views", err)
	}

	records := make([]adapters.ViewRecord, 0, len(keys))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// Index entry without a hash; deleted concurrently.
			continue
		}
		record, err := decodeView(projection, keys[i], fields)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// DeleteViews removes every view of a projection together with its index.
func (s *Store) DeleteViews(ctx context.Context, projection string) error {
	if s.closed.Load() {
		return adapters.ErrAdapterClosed
	}

	index := s.viewIndexKey(projection)
	keys, err := s.client.ZRange(ctx, index, 0, -1).Result()
	if err != nil {
		return wrap("delete views", err)
	}

	doomed := make([]string, 0, len(keys)+1)
	for _, key := range keys {
		doomed = append(doomed, s.viewKey(projection, key))
	}
	doomed = append(doomed, index)

	return wrap("delete views", s.client.Del(ctx, doomed...).Err())
}

// Ping checks the server connection.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return adapters.ErrAdapterClosed
	}
	return wrap("ping", s.client.Ping(ctx).Err())
}

// Close marks the store closed and closes the client if the store created it.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.ownsConn {
		return s.client.Close()
	}
	return nil
}

func decodeView(projection, key string, fields map[string]string) (adapters.ViewRecord, error) {
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return adapters.ViewRecord{}, fmt.Errorf("occurrent/redis: view %s/%s: invalid version: %w", projection, key, err)
	}
	nanos, err := strconv.ParseInt(fields["updated_at"], 10, 64)
	if err != nil {
		return adapters.ViewRecord{}, fmt.Errorf("occurrent/redis: view %s/%s: invalid timestamp: %w", projection, key, err)
	}

	return adapters.ViewRecord{
		Projection: projection,
		Key:        key,
		Version:    version,
		Data:       []byte(fields["data"]),
		UpdatedAt:  time.Unix(0, nanos).UTC(),
	}, nil
}

// wrap classifies connection failures as storage unavailability.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return adapters.Unavailable("redis "+op, err)
	}
	return fmt.Errorf("occurrent/redis: %s: %w", op, err)
}

func isTransient(err error) bool {
	if errors.Is(err, goredis.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var redisErr goredis.Error
	if errors.As(err, &redisErr) {
		msg := redisErr.Error()
		for _, prefix := range []string{"LOADING ", "READONLY ", "CLUSTERDOWN ", "TRYAGAIN ", "MASTERDOWN "} {
			if strings.HasPrefix(msg, prefix) {
				return true
			}
		}
	}
	return false
}
