// Package presence mirrors the session table into Redis so other processes
// can see which instance owns a session and follow its results.
package presence

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"toolstream/internal/json"
	"toolstream/internal/logging"
	"toolstream/internal/protocol"
	"toolstream/internal/session"
	"toolstream/internal/toolcall"
)

const (
	DefaultKeyPrefix = "toolstream:session:"
	DefaultTTL       = 30 * time.Second

	eventChannelPrefix = "toolstream:evt:session:"
	opTimeout          = 2 * time.Second
)

type Options struct {
	URL        string
	KeyPrefix  string
	TTL        time.Duration
	InstanceID string
	Logger     logging.Logger
}

// Entry is the value stored under a session key.
type Entry struct {
	InstanceID string `json:"instance_id"`
	CreatedAt  int64  `json:"created_at"`
}

// Directory implements session.Listener. A nil *Directory is a valid no-op.
type Directory struct {
	opts   Options
	client redis.UniversalClient

	mu    sync.Mutex
	owned map[string]Entry
}

// Open connects to opts.URL. An empty URL returns a nil Directory.
func Open(opts Options) (*Directory, error) {
	if opts.URL == "" {
		return nil, nil
	}
	ro, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, err
	}
	return New(redis.NewClient(ro), opts), nil
}

// New wraps an existing client.
func New(client redis.UniversalClient, opts Options) *Directory {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.InstanceID == "" {
		opts.InstanceID = defaultInstanceID()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Directory{
		opts:   opts,
		client: client,
		owned:  make(map[string]Entry),
	}
}

func (d *Directory) InstanceID() string {
	if d == nil {
		return ""
	}
	return d.opts.InstanceID
}

// Key returns the Redis key holding sessionID's entry.
func (d *Directory) Key(sessionID string) string {
	return d.opts.KeyPrefix + sessionID
}

// Channel returns the pub/sub channel results for sessionID are mirrored to.
func Channel(sessionID string) string {
	return eventChannelPrefix + sessionID
}

func (d *Directory) SessionOpened(s *session.Session) {
	if d == nil {
		return
	}
	entry := Entry{InstanceID: d.opts.InstanceID, CreatedAt: s.CreatedAt().Unix()}
	d.mu.Lock()
	d.owned[s.ID()] = entry
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	d.upsert(ctx, s.ID(), entry)
}

func (d *Directory) SessionClosed(s *session.Session) {
	if d == nil {
		return
	}
	d.mu.Lock()
	delete(d.owned, s.ID())
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	d.deleteIfOwned(ctx, s.ID())
}

func (d *Directory) ResultDelivered(sessionID string, res toolcall.Result) {
	if d == nil {
		return
	}
	env, err := protocol.NewEnvelope(protocol.TypeResult, sessionID, res.RequestID, protocol.ResultFrom(res))
	if err != nil {
		d.opts.Logger.Warn("encode result event failed", "session_id", sessionID, "err", err.Error())
		return
	}
	data, err := protocol.EncodeEnvelope(env)
	if err != nil {
		d.opts.Logger.Warn("encode result event failed", "session_id", sessionID, "err", err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := d.client.Publish(ctx, Channel(sessionID), data).Err(); err != nil {
		d.opts.Logger.Warn("publish result event failed", "session_id", sessionID, "err", err.Error())
	}
}

// Lookup returns the entry stored for sessionID, or redis.Nil when absent.
func (d *Directory) Lookup(ctx context.Context, sessionID string) (Entry, error) {
	var entry Entry
	raw, err := d.client.Get(ctx, d.Key(sessionID)).Bytes()
	if err != nil {
		return entry, err
	}
	err = json.Unmarshal(raw, &entry)
	return entry, err
}

// Refresh re-sets every owned key so its TTL does not lapse.
func (d *Directory) Refresh(ctx context.Context) {
	if d == nil {
		return
	}
	d.mu.Lock()
	snapshot := make(map[string]Entry, len(d.owned))
	for id, e := range d.owned {
		snapshot[id] = e
	}
	d.mu.Unlock()

	for id, e := range snapshot {
		d.upsert(ctx, id, e)
	}
}

// Run refreshes at a third of the TTL until ctx is done.
func (d *Directory) Run(ctx context.Context) error {
	if d == nil {
		return nil
	}
	ticker := time.NewTicker(d.opts.TTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.Refresh(ctx)
		}
	}
}

func (d *Directory) Close() error {
	if d == nil {
		return nil
	}
	return d.client.Close()
}

func (d *Directory) upsert(ctx context.Context, sessionID string, entry Entry) {
	b, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := d.client.Set(ctx, d.Key(sessionID), b, d.opts.TTL).Err(); err != nil {
		d.opts.Logger.Warn("presence upsert failed", "session_id", sessionID, "err", err.Error())
	}
}

func (d *Directory) deleteIfOwned(ctx context.Context, sessionID string) {
	current, err := d.Lookup(ctx, sessionID)
	if err != nil {
		if err != redis.Nil {
			d.opts.Logger.Warn("presence lookup failed", "session_id", sessionID, "err", err.Error())
		}
		return
	}
	if current.InstanceID != d.opts.InstanceID {
		return
	}
	if err := d.client.Del(ctx, d.Key(sessionID)).Err(); err != nil {
		d.opts.Logger.Warn("presence delete failed", "session_id", sessionID, "err", err.Error())
	}
}

func defaultInstanceID() string {
	h, _ := os.Hostname()
	if h == "" {
		h = "toolstream"
	}
	return h + "-" + uuid.NewString()
}
