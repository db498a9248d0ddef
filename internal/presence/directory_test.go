package presence_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolstream/internal/json"
	"toolstream/internal/presence"
	"toolstream/internal/protocol"
	"toolstream/internal/session"
	"toolstream/internal/toolcall"
)

type nopStream struct{}

func (nopStream) WriteResult(context.Context, toolcall.Result) error { return nil }
func (nopStream) Close() error                                      { return nil }

func setup(t *testing.T, instanceID string) (*miniredis.Miniredis, *redis.Client, *presence.Directory, *session.Manager) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	dir := presence.New(client, presence.Options{InstanceID: instanceID, TTL: 30 * time.Second})
	mgr := session.NewManager(session.Options{Listener: dir})
	return mr, client, dir, mgr
}

func TestDirectory_OpenAndClose(t *testing.T) {
	mr, _, dir, mgr := setup(t, "node-a")

	s := mgr.Open(nopStream{})
	key := dir.Key(s.ID())
	assert.Equal(t, "toolstream:session:"+s.ID(), key)
	require.True(t, mr.Exists(key))
	assert.Equal(t, 30*time.Second, mr.TTL(key))

	entry, err := dir.Lookup(context.Background(), s.ID())
	require.NoError(t, err)
	assert.Equal(t, "node-a", entry.InstanceID)
	assert.Equal(t, s.CreatedAt().Unix(), entry.CreatedAt)

	require.NoError(t, mgr.Close(s.ID()))
	assert.False(t, mr.Exists(key))
}

func TestDirectory_CloseLeavesForeignEntry(t *testing.T) {
	mr, _, dir, mgr := setup(t, "node-a")

	s := mgr.Open(nopStream{})
	key := dir.Key(s.ID())
	require.NoError(t, mr.Set(key, `{"instance_id":"node-b","created_at":1}`))

	require.NoError(t, mgr.Close(s.ID()))
	assert.True(t, mr.Exists(key))
}

func TestDirectory_RefreshExtendsTTL(t *testing.T) {
	mr, _, dir, mgr := setup(t, "node-a")

	s := mgr.Open(nopStream{})
	key := dir.Key(s.ID())
	mr.FastForward(20 * time.Second)
	assert.Equal(t, 10*time.Second, mr.TTL(key))

	dir.Refresh(context.Background())
	assert.Equal(t, 30*time.Second, mr.TTL(key))

	require.NoError(t, mgr.Close(s.ID()))
	dir.Refresh(context.Background())
	assert.False(t, mr.Exists(key))
}

func TestDirectory_MirrorsDeliveredResults(t *testing.T) {
	_, client, _, mgr := setup(t, "node-a")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s := mgr.Open(nopStream{})
	sub := client.Subscribe(ctx, presence.Channel(s.ID()))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, mgr.Send(ctx, s.ID(), toolcall.Success("req-1", map[string]any{"x": 5})))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	env, err := protocol.DecodeEnvelope([]byte(msg.Payload))
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeResult, env.Type)
	assert.Equal(t, s.ID(), env.SessionID)
	assert.Equal(t, "req-1", env.RequestID)

	var res protocol.ResultPayload
	require.NoError(t, json.Unmarshal(env.Payload, &res))
	assert.Equal(t, protocol.OutcomeSuccess, res.Outcome)
}

func TestDirectory_NilIsNoop(t *testing.T) {
	var dir *presence.Directory
	mgr := session.NewManager(session.Options{Listener: dir})
	s := mgr.Open(nopStream{})
	require.NoError(t, mgr.Send(context.Background(), s.ID(), toolcall.Success("1", nil)))
	require.NoError(t, mgr.Close(s.ID()))
	dir.Refresh(context.Background())
	assert.NoError(t, dir.Run(context.Background()))
	assert.NoError(t, dir.Close())
	assert.Equal(t, "", dir.InstanceID())
}

func TestOpen_EmptyURL(t *testing.T) {
	dir, err := presence.Open(presence.Options{})
	require.NoError(t, err)
	assert.Nil(t, dir)

	_, err = presence.Open(presence.Options{URL: "not-a-redis-url"})
	assert.Error(t, err)
}
