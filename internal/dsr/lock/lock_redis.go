package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"dsrengine/pkg/domain"
	"dsrengine/pkg/platform/privacy"
)

const keyPrefix = "dsr:subject_lock:"

// acquireScript sets the key when free and extends it when owner already holds it.
var acquireScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur == false then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
if cur == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis shares subject locks across engine replicas. Keys hold the hashed
// subject identifier, never the raw one.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func key(subject domain.SubjectID) string {
	return keyPrefix + privacy.HashIdentifier(subject.String())
}

func (l *Redis) Acquire(ctx context.Context, subject domain.SubjectID, owner string, ttl time.Duration) (bool, error) {
	n, err := acquireScript.Run(ctx, l.client, []string{key(subject)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquire subject lock: %w", err)
	}
	return n == 1, nil
}

func (l *Redis) Release(ctx context.Context, subject domain.SubjectID, owner string) error {
	if err := releaseScript.Run(ctx, l.client, []string{key(subject)}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release subject lock: %w", err)
	}
	return nil
}

func (l *Redis) Holder(ctx context.Context, subject domain.SubjectID) (string, error) {
	owner, err := l.client.Get(ctx, key(subject)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read subject lock: %w", err)
	}
	return owner, nil
}
