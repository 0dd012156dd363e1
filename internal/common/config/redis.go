package config

import (
	"time"

	"github.com/go-redis/redis"
)

// RedisConfig selects a standalone server, a cluster or a sentinel group depending on how many
// addresses are given and whether MasterName is set.
type RedisConfig struct {
	Addrs        []string `validate:"required,min=1"`
	DB           int      `validate:"gte=0,lte=16"`
	Password     string
	MasterName   string
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	// Keys written through this connection expire after Ttl. Zero keeps them forever.
	Ttl time.Duration
}

func (rc RedisConfig) AsUniversalOptions() *redis.UniversalOptions {
	opts := &redis.UniversalOptions{
		Addrs:        rc.Addrs,
		DB:           rc.DB,
		Password:     rc.Password,
		MasterName:   rc.MasterName,
		MaxRetries:   rc.MaxRetries,
		DialTimeout:  rc.DialTimeout,
		ReadTimeout:  rc.ReadTimeout,
		WriteTimeout: rc.WriteTimeout,
		PoolSize:     rc.PoolSize,
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	return opts
}

type PostgresConfig struct {
	// libpq key/value connection parameters, e.g. host, port, user, dbname, sslmode
	Connection      map[string]string `validate:"required"`
	MaxOpenConns    int32
	MaxConnLifetime time.Duration
}
