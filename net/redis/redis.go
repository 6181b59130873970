package redis

import (
	"fmt"
	"time"

	"github.com/mediocregopher/radix/v3"
)

// Config for the redis pool
type Config struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	PoolSize int           `mapstructure:"pool_size"`
	TreeTTL  time.Duration `mapstructure:"tree_ttl"`
}

// Enabled reports whether a redis host is configured
func (cfg Config) Enabled() bool {
	return cfg.Host != ""
}

// Client wraps a radix connection pool
type Client struct {
	pool *radix.Pool
}

// Connect opens a pool to the configured redis server
func Connect(cfg Config) (*Client, error) {
	size := cfg.PoolSize
	if size <= 0 {
		size = 10
	}
	connFunc := func(network, addr string) (radix.Conn, error) {
		opts := []radix.DialOpt{radix.DialTimeout(5 * time.Second)}
		if cfg.Password != "" {
			opts = append(opts, radix.DialAuthPass(cfg.Password))
		}
		return radix.Dial(network, addr, opts...)
	}
	pool, err := radix.NewPool("tcp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), size, radix.PoolConnFunc(connFunc))
	if err != nil {
		return nil, err
	}
	return &Client{pool: pool}, nil
}

// Get returns the value of a key or an empty string when it is missing
func (c *Client) Get(key string) (string, error) {
	var value string
	if err := c.pool.Do(radix.Cmd(&value, "GET", key)); err != nil {
		return "", err
	}
	return value, nil
}

// Incr increments the counter stored at key
func (c *Client) Incr(key string) (int64, error) {
	var value int64
	if err := c.pool.Do(radix.Cmd(&value, "INCR", key)); err != nil {
		return 0, err
	}
	return value, nil
}

// HGet returns the field of a hash or an empty string when it is missing
func (c *Client) HGet(key, field string) (string, error) {
	var value string
	if err := c.pool.Do(radix.Cmd(&value, "HGET", key, field)); err != nil {
		return "", err
	}
	return value, nil
}

// HSet stores the field of a hash and refreshes the expiry of the whole hash
func (c *Client) HSet(key, field string, value []byte, ttl time.Duration) error {
	if err := c.pool.Do(radix.FlatCmd(nil, "HSET", key, field, value)); err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}
	return c.pool.Do(radix.FlatCmd(nil, "EXPIRE", key, int64(ttl/time.Second)))
}

// Close the pool
func (c *Client) Close() error {
	return c.pool.Close()
}
