package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"dsrengine/internal/verification/models"
	"dsrengine/pkg/domain"
	"dsrengine/pkg/platform/sentinel"
	"dsrengine/pkg/requestcontext"
)

const (
	sessionKeyPrefix    = "dsr:verify:session:"
	attemptsKeyPrefix   = "dsr:verify:attempts:"
	lockoutKeyPrefix    = "dsr:verify:lockout:"
	devicesKeyPrefix    = "dsr:verify:devices:"
	locationsKeyPrefix  = "dsr:verify:locations:"
	initiationKeyPrefix = "dsr:verify:initiations:"
	factsKeyPrefix      = "dsr:verify:facts:"

	historyTTL = 400 * 24 * time.Hour
)

// attemptScript evaluates lockout, prunes the window and counts the attempt
// atomically so concurrent callers across processes cannot exceed the limit.
//
// KEYS[1] attempts zset, KEYS[2] lockout key
// ARGV[1] now ms, ARGV[2] window ms, ARGV[3] limit, ARGV[4] member
var attemptScript = redis.NewScript(`
local locked = redis.call('GET', KEYS[2])
if locked then
  return {0, redis.call('ZCARD', KEYS[1]), tonumber(locked)}
end
local now = tonumber(ARGV[1])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - tonumber(ARGV[2]))
local count = redis.call('ZCARD', KEYS[1])
if count >= tonumber(ARGV[3]) then
  return {0, count, 0}
end
redis.call('ZADD', KEYS[1], now, ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return {1, count + 1, 0}
`)

// RedisStore implements the session, attempt limiter and history stores on
// Redis so verification state is shared by every engine instance.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Save(ctx context.Context, session *models.Session, now time.Time) error {
	ttl := session.RetainUntil().Sub(now)
	if ttl <= 0 {
		return s.Delete(ctx, session.SubjectID)
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal verification session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+string(session.SubjectID), data, ttl).Err(); err != nil {
		return fmt.Errorf("save verification session: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, subject domain.SubjectID, now time.Time) (*models.Session, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+string(subject)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get verification session: %w", err)
	}
	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal verification session: %w", err)
	}
	if !now.Before(session.RetainUntil()) {
		return nil, sentinel.ErrNotFound
	}
	return &session, nil
}

func (s *RedisStore) Delete(ctx context.Context, subject domain.SubjectID) error {
	if err := s.client.Del(ctx, sessionKeyPrefix+string(subject)).Err(); err != nil {
		return fmt.Errorf("delete verification session: %w", err)
	}
	return nil
}

func (s *RedisStore) Attempt(ctx context.Context, subject domain.SubjectID, now time.Time, window time.Duration, limit int) (models.AttemptDecision, error) {
	keys := []string{attemptsKeyPrefix + string(subject), lockoutKeyPrefix + string(subject)}
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()
	res, err := attemptScript.Run(ctx, s.client, keys, now.UnixMilli(), window.Milliseconds(), limit, member).Int64Slice()
	if err != nil {
		return models.AttemptDecision{}, fmt.Errorf("record verification attempt: %w", err)
	}
	if len(res) != 3 {
		return models.AttemptDecision{}, fmt.Errorf("record verification attempt: unexpected reply %v", res)
	}
	decision := models.AttemptDecision{Allowed: res[0] == 1, Count: int(res[1])}
	if res[2] > 0 {
		until := time.UnixMilli(res[2]).UTC()
		decision.LockedUntil = &until
	}
	return decision, nil
}

// Lock expires the lockout key at until, measured against the request's clock.
func (s *RedisStore) Lock(ctx context.Context, subject domain.SubjectID, until time.Time) error {
	ttl := until.Sub(requestcontext.Now(ctx))
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, lockoutKeyPrefix+string(subject), until.UnixMilli(), ttl).Err(); err != nil {
		return fmt.Errorf("lock verification subject: %w", err)
	}
	return nil
}

func (s *RedisStore) LockedUntil(ctx context.Context, subject domain.SubjectID, now time.Time) (*time.Time, error) {
	ms, err := s.client.Get(ctx, lockoutKeyPrefix+string(subject)).Int64()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read verification lockout: %w", err)
	}
	until := time.UnixMilli(ms).UTC()
	if !now.Before(until) {
		return nil, nil
	}
	return &until, nil
}

func (s *RedisStore) Load(ctx context.Context, subject domain.SubjectID, since time.Time) (models.AccessHistory, error) {
	pipe := s.client.Pipeline()
	devices := pipe.SMembers(ctx, devicesKeyPrefix+string(subject))
	locations := pipe.SMembers(ctx, locationsKeyPrefix+string(subject))
	recent := pipe.ZCount(ctx, initiationKeyPrefix+string(subject), "("+strconv.FormatInt(since.UnixMilli(), 10), "+inf")
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return models.AccessHistory{}, fmt.Errorf("load access history: %w", err)
	}

	history := models.AccessHistory{
		Devices:        devices.Val(),
		RecentAttempts: int(recent.Val()),
	}
	for _, raw := range locations.Val() {
		var loc models.Location
		if err := json.Unmarshal([]byte(raw), &loc); err != nil {
			continue
		}
		history.Locations = append(history.Locations, loc)
	}
	return history, nil
}

func (s *RedisStore) RecordInitiation(ctx context.Context, subject domain.SubjectID, at time.Time) error {
	key := initiationKeyPrefix + string(subject)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: strconv.FormatInt(at.UnixNano(), 10) + "-" + uuid.NewString()})
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(at.Add(-historyTTL).UnixMilli(), 10))
	pipe.Expire(ctx, key, historyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record verification initiation: %w", err)
	}
	return nil
}

func (s *RedisStore) RecordVerified(ctx context.Context, subject domain.SubjectID, fingerprint string, location *models.Location) error {
	pipe := s.client.TxPipeline()
	if fingerprint != "" {
		pipe.SAdd(ctx, devicesKeyPrefix+string(subject), fingerprint)
		pipe.Expire(ctx, devicesKeyPrefix+string(subject), historyTTL)
	}
	if location != nil {
		data, err := json.Marshal(location)
		if err != nil {
			return fmt.Errorf("marshal location: %w", err)
		}
		pipe.SAdd(ctx, locationsKeyPrefix+string(subject), string(data))
		pipe.Expire(ctx, locationsKeyPrefix+string(subject), historyTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record verified access: %w", err)
	}
	return nil
}

func (s *RedisStore) SetFacts(ctx context.Context, subject domain.SubjectID, facts map[string]string) error {
	key := factsKeyPrefix + string(subject)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(facts) > 0 {
		pipe.HSet(ctx, key, facts)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set knowledge facts: %w", err)
	}
	return nil
}

func (s *RedisStore) Facts(ctx context.Context, subject domain.SubjectID) (map[string]string, error) {
	facts, err := s.client.HGetAll(ctx, factsKeyPrefix+string(subject)).Result()
	if err != nil {
		return nil, fmt.Errorf("get knowledge facts: %w", err)
	}
	return facts, nil
}
