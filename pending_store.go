package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
)

// PendingStore persists in-flight registrations and resets. Issuing a
// record for a key that already holds one supersedes it, so only one
// code is ever valid per (kind, key). Expiry is enforced lazily at
// consume time; the backing TTL reclaims untouched records.
type PendingStore interface {
	// Issue stores the record under (kind, actionKey), replacing any
	// prior record for the same key.
	Issue(ctx context.Context, kind PendingKind, actionKey string, rec *PendingAction, ttl time.Duration) error

	// Consume verifies codeHash against the stored record in a single
	// atomic step. On match it deletes the record and returns it. On
	// mismatch it decrements the attempt budget, deleting the record
	// when the budget hits zero. Concurrent calls for one key cannot
	// both succeed.
	Consume(ctx context.Context, kind PendingKind, actionKey, codeHash string) (*PendingAction, error)
}

// ActionKey derives the opaque pending action key from the identifying
// email. Case and surrounding whitespace never fragment the keyspace.
func ActionKey(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

// consumePendingLua performs lookup, expiry check, attempt decrement
// and deletion in one round trip so a check-then-decrement race cannot
// stretch the attempt budget.
//
// KEYS[1] = record key
// ARGV[1] = provided code hash
// ARGV[2] = current unix timestamp
//
// Error replies: not_found, expired, exhausted, mismatch:<remaining>.
var consumePendingLua = redis.NewScript(`
local code = redis.call('HGET', KEYS[1], 'code_hash')
if not code then
  return {err='not_found'}
end

local expires = tonumber(redis.call('HGET', KEYS[1], 'expires_at'))
if tonumber(ARGV[2]) >= expires then
  redis.call('DEL', KEYS[1])
  return {err='expired'}
end

if code ~= ARGV[1] then
  local left = redis.call('HINCRBY', KEYS[1], 'attempts', -1)
  if left <= 0 then
    redis.call('DEL', KEYS[1])
    return {err='exhausted'}
  end
  return {err='mismatch:' .. left}
end

local payload = redis.call('HGET', KEYS[1], 'payload')
redis.call('DEL', KEYS[1])
if not payload then
  payload = ''
end
return {code, payload, expires}
`)

// RedisPendingStore keeps pending actions in redis hashes keyed by
// (kind, action key).
type RedisPendingStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

type RedisPendingStoreOption func(*RedisPendingStore)

// WithPendingPrefix overrides the key namespace.
func WithPendingPrefix(prefix string) RedisPendingStoreOption {
	return func(s *RedisPendingStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithPendingClock overrides the clock used for expiry checks.
func WithPendingClock(now func() time.Time) RedisPendingStoreOption {
	return func(s *RedisPendingStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewRedisPendingStore(client redis.UniversalClient, opts ...RedisPendingStoreOption) *RedisPendingStore {
	s := &RedisPendingStore{
		client: client,
		prefix: "pending",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ PendingStore = (*RedisPendingStore)(nil)

func (s *RedisPendingStore) key(kind PendingKind, actionKey string) string {
	return s.prefix + ":" + kind + ":" + actionKey
}

func (s *RedisPendingStore) Issue(ctx context.Context, kind PendingKind, actionKey string, rec *PendingAction, ttl time.Duration) error {
	if rec == nil {
		return goerrors.New("pending record is required", goerrors.CategoryBadInput)
	}

	key := s.key(kind, actionKey)
	fields := map[string]any{
		"kind":       kind,
		"code_hash":  rec.CodeHash,
		"expires_at": rec.ExpiresAt,
		"attempts":   rec.AttemptsRemaining,
		"payload":    string(rec.Payload),
	}

	// DEL before HSET inside the transaction so a superseded record
	// never leaks stale fields into the fresh one.
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist pending action")
	}

	return nil
}

func (s *RedisPendingStore) Consume(ctx context.Context, kind PendingKind, actionKey, codeHash string) (*PendingAction, error) {
	key := s.key(kind, actionKey)

	result, err := consumePendingLua.Run(ctx, s.client,
		[]string{key},
		codeHash,
		s.now().Unix(),
	).Result()

	if err != nil {
		return nil, mapConsumeError(err)
	}

	row, ok := result.([]any)
	if !ok || len(row) != 3 {
		return nil, goerrors.New("unexpected pending store reply", goerrors.CategoryInternal)
	}

	storedHash, _ := row[0].(string)
	payload, _ := row[1].(string)
	expires, _ := row[2].(int64)

	// The script already matched; recheck in constant time since redis
	// string comparison is not.
	if !CodeHashEqual(storedHash, codeHash) {
		return nil, ErrInvalidCode(0)
	}

	rec := &PendingAction{
		Kind:      kind,
		CodeHash:  storedHash,
		ExpiresAt: expires,
	}
	if payload != "" {
		rec.Payload = []byte(payload)
	}

	return rec, nil
}

func mapConsumeError(err error) error {
	msg := err.Error()
	switch {
	case msg == "not_found":
		return ErrCodeNotFound()
	case msg == "expired":
		return ErrCodeExpired()
	case msg == "exhausted":
		return ErrTooManyAttempts()
	case strings.HasPrefix(msg, "mismatch:"):
		left, convErr := strconv.Atoi(strings.TrimPrefix(msg, "mismatch:"))
		if convErr != nil {
			left = 0
		}
		return ErrInvalidCode(left)
	default:
		return goerrors.Wrap(err, goerrors.CategoryInternal, "pending store unavailable")
	}
}
