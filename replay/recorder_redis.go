package replay

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisRecorder appends every message to a Redis list keyed by session.
type RedisRecorder struct {
	client     *redis.Client
	ownsClient bool
	session    uuid.UUID
	key        string
	ttl        time.Duration
}

var _ Recorder = (*RedisRecorder)(nil)

type RedisRecorderOptions struct {
	Client  *redis.Client // Used as is when set; otherwise a client is created for Address
	Address string
	Session uuid.UUID     // A random session is generated when nil
	TTL     time.Duration // Expiry of the recording, zero keeps it forever
}

// NewRedisRecorder creates a recorder and checks that Redis is reachable.
func NewRedisRecorder(ctx context.Context, opts RedisRecorderOptions) (*RedisRecorder, error) {
	client, owns := opts.Client, false
	if client == nil {
		if opts.Address == "" {
			return nil, eris.New("redis address cannot be empty")
		}
		client, owns = redis.NewClient(&redis.Options{Addr: opts.Address}), true
	}
	session := opts.Session
	if session == uuid.Nil {
		session = uuid.New()
	}

	if err := client.Ping(ctx).Err(); err != nil {
		if owns {
			_ = client.Close()
		}
		return nil, eris.Wrap(err, "failed to reach redis")
	}

	return &RedisRecorder{
		client:     client,
		ownsClient: owns,
		session:    session,
		key:        Key(session),
		ttl:        opts.TTL,
	}, nil
}

// Session returns the id the recording is stored under.
func (r *RedisRecorder) Session() uuid.UUID {
	return r.session
}

func (r *RedisRecorder) Record(ctx context.Context, msg []byte) error {
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, r.key, msg)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return eris.Wrapf(err, "failed to record message in %s", r.key)
	}
	return nil
}

func (r *RedisRecorder) Close() error {
	if !r.ownsClient {
		return nil
	}
	if err := r.client.Close(); err != nil {
		return eris.Wrap(err, "failed to close redis client")
	}
	return nil
}

// Load returns the messages of a recording in arrival order.
func Load(ctx context.Context, client *redis.Client, session uuid.UUID) ([][]byte, error) {
	key := Key(session)
	raw, err := client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, eris.Wrapf(err, "failed to load %s", key)
	}
	if len(raw) == 0 {
		return nil, eris.Wrapf(ErrSessionNotFound, "session %s", session)
	}
	msgs := make([][]byte, len(raw))
	for i, s := range raw {
		msgs[i] = []byte(s)
	}
	return msgs, nil
}

// Sessions lists every recording stored in Redis.
func Sessions(ctx context.Context, client *redis.Client) ([]uuid.UUID, error) {
	var sessions []uuid.UUID
	iter := client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if id, ok := parseKey(iter.Val()); ok {
			sessions = append(sessions, id)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, eris.Wrap(err, "failed to scan replay sessions")
	}
	return sessions, nil
}
