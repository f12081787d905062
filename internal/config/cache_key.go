package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AuthStateKey returns the cache key holding the signed-in state for a profile
func (r *CacheKeyStruct) AuthStateKey(profile string) string {
	return fmt.Sprintf("auth:%s:state", profile)
}

// AuthEventsChannel returns the Redis PubSub channel carrying login/logout events for a profile
func (r *CacheKeyStruct) AuthEventsChannel(profile string) string {
	return fmt.Sprintf("auth:%s:events", profile)
}

var CacheKey = NewCacheKeyStruct()
