package tokens

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ignatij/flowplan/pkg/models"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "flowplan:webhook-test:"

// RedisCache keeps sessions in Redis so that any instance can redeem a token
// armed by another. Expiry is delegated to key TTLs; there is nothing to sweep.
type RedisCache struct {
	client   redis.UniversalClient
	now      func() time.Time
	newToken func() (string, error)
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client, now: time.Now, newToken: NewToken}
}

func (c *RedisCache) Arm(ctx context.Context, workflowID int64, nodeID string) (models.WebhookTestSession, error) {
	token, err := c.newToken()
	if err != nil {
		return models.WebhookTestSession{}, errors.Wrap(err, "generate token")
	}
	session := models.WebhookTestSession{
		Token:      token,
		WorkflowID: workflowID,
		NodeID:     nodeID,
		ExpiresAt:  c.now().Add(TTL),
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return models.WebhookTestSession{}, err
	}
	if err := c.client.Set(ctx, redisKeyPrefix+token, raw, TTL).Err(); err != nil {
		return models.WebhookTestSession{}, errors.Wrap(err, "store webhook test session")
	}
	return session, nil
}

// Consume redeems token with GETDEL, so only one caller ever sees the session.
func (c *RedisCache) Consume(ctx context.Context, token string) (models.WebhookTestSession, bool, error) {
	raw, err := c.client.GetDel(ctx, redisKeyPrefix+token).Bytes()
	if err == redis.Nil {
		return models.WebhookTestSession{}, false, nil
	}
	if err != nil {
		return models.WebhookTestSession{}, false, errors.Wrap(err, "consume webhook test session")
	}
	var session models.WebhookTestSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return models.WebhookTestSession{}, false, errors.Wrap(err, "decode webhook test session")
	}
	if session.Expired(c.now()) {
		return models.WebhookTestSession{}, false, nil
	}
	return session, true, nil
}
