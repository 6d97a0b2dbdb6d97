// Package redis provides a cache store backed by a shared Redis instance.
// Keyspaces are separated by key prefix so tenant, token, and
// worker-config regions can be cleared independently.
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"meniscus/internal/cache"
)

// Store is one prefixed keyspace on a Redis backend.
type Store struct {
	rdb    goredis.UniversalClient
	prefix string
}

// New creates a store over rdb using the given keyspace prefix
// (e.g. "meniscus:tenant").
func New(rdb goredis.UniversalClient, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) key(k string) string { return s.prefix + ":" + k }

// Get returns the serialized entity, or cache.ErrMiss when absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, cache.ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set upserts the key: existing entries are updated in place (XX),
// absent ones inserted (NX). A concurrent insert between the existence
// check and the write falls through to a plain SET; last writer wins.
func (s *Store) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	k := s.key(key)
	exists, err := s.rdb.Exists(ctx, k).Result()
	if err != nil {
		return err
	}
	if exists > 0 {
		ok, err := s.rdb.SetXX(ctx, k, val, ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	} else {
		ok, err := s.rdb.SetNX(ctx, k, val, ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return s.rdb.Set(ctx, k, val, ttl).Err()
}

// Delete removes the key; absence is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.key(key)).Err()
}

// Clear removes every key in this keyspace by prefix scan.
func (s *Store) Clear(ctx context.Context) error {
	iter := s.rdb.Scan(ctx, 0, s.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
