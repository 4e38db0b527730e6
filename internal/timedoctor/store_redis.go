package timedoctor

import (
	"context"
	"encoding/json"
	"time"

	"worktime-monitor/internal/redis"
)

const redisCredentialKey = "timedoctor:credential"

// RedisStore keeps the credential in redis with a TTL bound to its expiry,
// so a stale record ages out on its own.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Load(ctx context.Context) (*Credential, error) {
	raw, err := s.client.Get(ctx, redisCredentialKey)
	if err != nil {
		if redis.IsMiss(err) {
			return nil, nil
		}
		return nil, err
	}

	var cred Credential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		return nil, nil
	}
	if cred.Token == "" {
		return nil, nil
	}
	return &cred, nil
}

func (s *RedisStore) Save(ctx context.Context, cred *Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return err
	}

	ttl := time.Until(cred.ExpiresAt)
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return s.client.Set(ctx, redisCredentialKey, string(data), ttl)
}

func (s *RedisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, redisCredentialKey)
}
