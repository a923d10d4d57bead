package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/transfa/interbank-service/pkg/registryclient"
)

// RedisBankCache keeps registry lookups under <prefix>:registry:bank:<bank prefix>.
type RedisBankCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisBankCache(client redis.UniversalClient, prefix string) *RedisBankCache {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "interbank"
	}
	return &RedisBankCache{client: client, prefix: trimmedPrefix}
}

func (c *RedisBankCache) key(bankPrefix string) string {
	return fmt.Sprintf("%s:registry:bank:%s", c.prefix, bankPrefix)
}

func (c *RedisBankCache) GetBank(ctx context.Context, bankPrefix string) (*registryclient.BankDetails, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	raw, err := c.client.Get(ctx, c.key(bankPrefix)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var details registryclient.BankDetails
	if err := json.Unmarshal(raw, &details); err != nil {
		return nil, false, fmt.Errorf("decode cached bank %s: %w", bankPrefix, err)
	}
	return &details, true, nil
}

func (c *RedisBankCache) SetBank(ctx context.Context, bankPrefix string, details *registryclient.BankDetails, ttl time.Duration) error {
	if c == nil || c.client == nil || details == nil {
		return nil
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(bankPrefix), raw, ttl).Err()
}
