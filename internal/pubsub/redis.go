package pubsub

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisTLSConfig controls TLS behaviour for Redis connections.
type RedisTLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// RedisConfig configures the Redis Pub/Sub bus used by multi-node
// deployments.
type RedisConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	MasterName   string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	Buffer       int
	TLS          RedisTLSConfig
	Logger       *slog.Logger
	OnDrop       DropFunc
}

// RedisBus fans messages out through Redis PUBLISH/SUBSCRIBE so every node
// sees changes committed on any other node.
type RedisBus struct {
	client redis.UniversalClient
	buffer int
	logger *slog.Logger
	onDrop DropFunc

	mu     sync.Mutex
	subs   map[*redisSubscription]struct{}
	closed bool
}

// NewRedisBus connects to Redis and verifies the connection with PING.
func NewRedisBus(ctx context.Context, cfg RedisConfig) (*RedisBus, error) {
	client, err := DialRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newRedisBus(client, cfg), nil
}

// DialRedis opens a universal client for cfg and pings it. Single addresses,
// clusters and sentinel setups (MasterName) are all accepted.
func DialRedis(ctx context.Context, cfg RedisConfig) (redis.UniversalClient, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		TLSConfig:    tlsConfig,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func newRedisBus(client redis.UniversalClient, cfg RedisConfig) *RedisBus {
	bus := &RedisBus{
		client: client,
		buffer: cfg.Buffer,
		logger: cfg.Logger,
		onDrop: cfg.OnDrop,
		subs:   make(map[*redisSubscription]struct{}),
	}
	if bus.buffer <= 0 {
		bus.buffer = defaultBuffer
	}
	if bus.logger == nil {
		bus.logger = slog.Default()
	}
	return bus
}

// Client exposes the underlying connection so other Redis-backed components
// can share the pool.
func (b *RedisBus) Client() redis.UniversalClient {
	return b.client
}

func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBus) Publish(ctx context.Context, topic string, msg Message) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	msg.Topic = topic
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return b.client.Publish(ctx, topic, payload).Err()
}

// Subscribe returns once Redis has confirmed the subscription, so messages
// published afterwards are guaranteed to reach it.
func (b *RedisBus) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	if len(topics) == 0 {
		return nil, errors.New("at least one topic is required")
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errBusClosed
	}
	b.mu.Unlock()

	ps := b.client.Subscribe(ctx, topics...)
	for confirmed := 0; confirmed < len(topics); {
		reply, err := ps.Receive(ctx)
		if err != nil {
			_ = ps.Close()
			return nil, fmt.Errorf("subscribe %s: %w", strings.Join(topics, ","), err)
		}
		if _, ok := reply.(*redis.Subscription); ok {
			confirmed++
		}
	}

	sub := &redisSubscription{
		bus:  b,
		ps:   ps,
		ch:   make(chan Message, b.buffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	go sub.run()
	return sub, nil
}

// Close terminates every subscription and the client connection.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*redisSubscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
	return b.client.Close()
}

type redisSubscription struct {
	once sync.Once
	bus  *RedisBus
	ps   *redis.PubSub
	ch   chan Message
	done chan struct{}
}

func (s *redisSubscription) Messages() <-chan Message {
	return s.ch
}

func (s *redisSubscription) run() {
	defer close(s.ch)
	incoming := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case raw, ok := <-incoming:
			if !ok {
				return
			}
			var msg Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				s.bus.logger.Warn("discarding malformed pubsub message", "topic", raw.Channel, "error", err)
				continue
			}
			msg.Topic = raw.Channel
			select {
			case s.ch <- msg:
			case <-s.done:
				return
			default:
				if s.bus.onDrop != nil {
					s.bus.onDrop(raw.Channel)
				}
			}
		}
	}
}

func (s *redisSubscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if err := s.ps.Close(); err != nil {
			s.bus.logger.Debug("close redis subscription", "error", err)
		}
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
	})
}

func buildTLSConfig(cfg RedisTLSConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" && !cfg.InsecureSkipVerify {
		return nil, nil
	}
	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.ServerName != "" {
		tlsCfg.ServerName = cfg.ServerName
	}
	if cfg.CAFile != "" {
		pemData, err := os.ReadFile(filepath.Clean(cfg.CAFile))
		if err != nil {
			return nil, fmt.Errorf("read redis tls ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("redis tls ca is invalid")
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(filepath.Clean(cfg.CertFile), filepath.Clean(cfg.KeyFile))
		if err != nil {
			return nil, fmt.Errorf("load redis tls certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
