package utils

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/mmdatafocus/momo_backend/config"
)

func GetCacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN_MINUTES"))
	if err != nil || lifespan <= 0 {
		lifespan = 10
	}
	return time.Duration(lifespan) * time.Minute
}

func GetTypeName[T any]() string {
	var v T
	return reflect.TypeOf(v).Name()
}

func cacheKey[T any](companyId string, id int) string {
	return GetTypeName[T]() + ":" + companyId + ":" + fmt.Sprint(id)
}

// StoreRedis caches obj under Type:company:id.
func StoreRedis[T any](ctx context.Context, companyId string, id int, obj *T) error {
	return config.SetRedisObject(ctx, cacheKey[T](companyId, id), obj, GetCacheLifespan())
}

// RetrieveRedis returns nil when the key is absent.
func RetrieveRedis[T any](ctx context.Context, companyId string, id int) (*T, error) {
	var result T
	exists, err := config.GetRedisObject(ctx, cacheKey[T](companyId, id), &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return &result, nil
}

func RemoveRedisItem[T any](ctx context.Context, companyId string, id int) error {
	return config.RemoveRedisKey(ctx, cacheKey[T](companyId, id))
}
