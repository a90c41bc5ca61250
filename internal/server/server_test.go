package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eternalApril/lunakv/internal/config"
	"github.com/eternalApril/lunakv/internal/pubsub"
	"github.com/eternalApril/lunakv/internal/resp"
	"github.com/eternalApril/lunakv/internal/storage"
)

type testServer struct {
	srv    *Server
	engine *Engine
	addr   string
	served chan error
}

// startServer runs a server on a random local port and stops it when the test ends
func startServer(t *testing.T, tune func(cfg *config.Config)) *testServer {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: "0", RateBurst: 100},
		PubSub: config.PubSubConfig{OutboxSize: 64},
		GC:     config.GCConfig{Enabled: false},
	}
	if tune != nil {
		tune(cfg)
	}

	s, err := storage.NewShardedMapStorage(4)
	require.NoError(t, err)

	logger := zap.NewNop()
	engine := NewEngine(s, pubsub.NewBroker(), cfg, logger, nil)
	srv := New(cfg, engine, nil, logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ts := &testServer{srv: srv, engine: engine, addr: ln.Addr().String(), served: make(chan error, 1)}
	go func() { ts.served <- srv.Serve(ln) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx) //nolint:errcheck
		engine.Shutdown()
	})

	return ts
}

func (ts *testServer) client(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:            ts.addr,
		Protocol:        2,
		DisableIdentity: true,
		ReadTimeout:     2 * time.Second,
	})
	t.Cleanup(func() { rdb.Close() }) //nolint:errcheck
	return rdb
}

func (ts *testServer) dial(t *testing.T) (net.Conn, *resp.Decoder) {
	t.Helper()
	conn, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(3*time.Second)))
	t.Cleanup(func() { conn.Close() }) //nolint:errcheck
	return conn, resp.NewDecoder(conn)
}

func send(t *testing.T, conn net.Conn, cmd string, args ...string) {
	t.Helper()
	b, err := resp.SerializeCommand(cmd, args...)
	require.NoError(t, err)
	_, err = conn.Write(b)
	require.NoError(t, err)
}

func TestServer_Commands(t *testing.T) {
	ts := startServer(t, nil)
	rdb := ts.client(t)
	ctx := context.Background()

	require.Equal(t, "PONG", rdb.Ping(ctx).Val())
	require.NoError(t, rdb.Set(ctx, "k", "v", time.Minute).Err())
	assert.Equal(t, "v", rdb.Get(ctx, "k").Val())
	assert.Equal(t, time.Minute, rdb.TTL(ctx, "k").Val())

	_, err := rdb.Get(ctx, "missing").Result()
	assert.ErrorIs(t, err, redis.Nil)

	ok, err := rdb.SetNX(ctx, "k", "other", 0).Result()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, rdb.RPush(ctx, "l", "a", "b").Err())
	err = rdb.Incr(ctx, "l").Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WRONGTYPE")

	require.NoError(t, rdb.HSet(ctx, "h", "f1", "v1", "f2", "v2").Err())
	assert.Equal(t, map[string]string{"f1": "v1", "f2": "v2"}, rdb.HGetAll(ctx, "h").Val())

	require.NoError(t, rdb.SAdd(ctx, "s", "x", "y").Err())
	assert.ElementsMatch(t, []string{"x", "y"}, rdb.SMembers(ctx, "s").Val())

	err = rdb.Do(ctx, "NOPE").Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command 'nope'")
}

func TestServer_Pipeline(t *testing.T) {
	ts := startServer(t, nil)
	rdb := ts.client(t)
	ctx := context.Background()

	const n = 200
	cmds, err := rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i := 0; i < n; i++ {
			pipe.Incr(ctx, "counter")
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, cmds, n)

	for i, c := range cmds {
		assert.Equal(t, int64(i+1), c.(*redis.IntCmd).Val())
	}
}

func TestServer_LargePipeline(t *testing.T) {
	ts := startServer(t, nil)
	rdb := ts.client(t)
	ctx := context.Background()

	count := 10_000
	pipe := rdb.Pipeline()

	for i := 0; i < count; i++ {
		pipe.Set(ctx, fmt.Sprintf("pipe_key_%d", i), fmt.Sprintf("val_%d", i), 0)
	}

	getResults := make([]*redis.StringCmd, count)
	for i := 0; i < count; i++ {
		getResults[i] = pipe.Get(ctx, fmt.Sprintf("pipe_key_%d", i))
	}

	start := time.Now()
	_, err := pipe.Exec(ctx)
	require.NoError(t, err, "Pipeline execution failed")
	t.Logf("Pipeline executed in %v", time.Since(start))

	for i := 0; i < count; i++ {
		val, err := getResults[i].Result()
		assert.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("val_%d", i), val, "Key %d mismatch", i)
	}
	assert.Equal(t, int64(count), rdb.DBSize(ctx).Val())
}

func TestServer_RawPipelineAndInline(t *testing.T) {
	ts := startServer(t, nil)
	conn, dec := ts.dial(t)

	_, err := conn.Write([]byte("PING\r\n"))
	require.NoError(t, err)
	v, err := dec.Read()
	require.NoError(t, err)
	assert.Equal(t, "PONG", string(v.String))

	var batch []byte
	for _, cmd := range [][]string{{"SET", "a", "1"}, {"INCR", "a"}, {"GET", "a"}} {
		b, err := resp.SerializeCommand(cmd[0], cmd[1:]...)
		require.NoError(t, err)
		batch = append(batch, b...)
	}
	_, err = conn.Write(batch)
	require.NoError(t, err)

	v, err = dec.Read()
	require.NoError(t, err)
	assert.Equal(t, "OK", string(v.String))

	v, err = dec.Read()
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.Integer)

	v, err = dec.Read()
	require.NoError(t, err)
	assert.Equal(t, "2", string(v.String))
}

func TestServer_ProtocolErrorClosesConnection(t *testing.T) {
	ts := startServer(t, nil)
	conn, dec := ts.dial(t)

	_, err := conn.Write([]byte("*1\r\n$abc\r\n"))
	require.NoError(t, err)

	v, err := dec.Read()
	require.NoError(t, err)
	assert.Equal(t, byte(resp.TypeError), v.Type)
	assert.Contains(t, string(v.String), "Protocol error")

	_, err = dec.Read()
	assert.ErrorIs(t, err, io.EOF)
}

func TestServer_Quit(t *testing.T) {
	ts := startServer(t, nil)
	conn, dec := ts.dial(t)

	send(t, conn, "QUIT")
	v, err := dec.Read()
	require.NoError(t, err)
	assert.Equal(t, "OK", string(v.String))

	_, err = dec.Read()
	assert.ErrorIs(t, err, io.EOF)
}

func TestServer_PubSub(t *testing.T) {
	ts := startServer(t, nil)
	sub := ts.client(t)
	pub := ts.client(t)
	ctx := context.Background()

	ps := sub.Subscribe(ctx, "news")
	defer ps.Close() //nolint:errcheck

	confirm, err := ps.Receive(ctx)
	require.NoError(t, err)
	require.IsType(t, &redis.Subscription{}, confirm)
	assert.Equal(t, "subscribe", confirm.(*redis.Subscription).Kind)

	ch := ps.Channel()
	for i := 0; i < 5; i++ {
		require.Equal(t, int64(1), pub.Publish(ctx, "news", strconv.Itoa(i)).Val())
	}

	for i := 0; i < 5; i++ {
		select {
		case msg := <-ch:
			assert.Equal(t, "news", msg.Channel)
			assert.Equal(t, strconv.Itoa(i), msg.Payload, "messages arrive in publish order")
		case <-time.After(2 * time.Second):
			t.Fatalf("message %d not delivered", i)
		}
	}

	assert.Equal(t, int64(0), pub.Publish(ctx, "elsewhere", "x").Val())
	assert.Equal(t, map[string]int64{"news": 1}, pub.PubSubNumSub(ctx, "news").Val())
}

func TestServer_PSubscribe(t *testing.T) {
	ts := startServer(t, nil)
	sub := ts.client(t)
	pub := ts.client(t)
	ctx := context.Background()

	ps := sub.PSubscribe(ctx, "user.*")
	defer ps.Close() //nolint:errcheck

	_, err := ps.Receive(ctx)
	require.NoError(t, err)

	require.Equal(t, int64(1), pub.Publish(ctx, "user.42", "login").Val())
	assert.Equal(t, int64(1), pub.PubSubNumPat(ctx).Val())

	select {
	case msg := <-ps.Channel():
		assert.Equal(t, "user.*", msg.Pattern)
		assert.Equal(t, "user.42", msg.Channel)
		assert.Equal(t, "login", msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("pattern message not delivered")
	}
}

func TestServer_SubscribedMode(t *testing.T) {
	ts := startServer(t, nil)
	conn, dec := ts.dial(t)

	send(t, conn, "SUBSCRIBE", "a", "b")
	for i, ch := range []string{"a", "b"} {
		v, err := dec.Read()
		require.NoError(t, err)
		require.Len(t, v.Array, 3)
		assert.Equal(t, "subscribe", string(v.Array[0].String))
		assert.Equal(t, ch, string(v.Array[1].String))
		assert.Equal(t, int64(i+1), v.Array[2].Integer)
	}

	send(t, conn, "GET", "x")
	v, err := dec.Read()
	require.NoError(t, err)
	assert.Equal(t, byte(resp.TypeError), v.Type)
	assert.Contains(t, string(v.String), "only (P)SUBSCRIBE / (P)UNSUBSCRIBE / PING / QUIT")

	send(t, conn, "PING", "hi")
	v, err = dec.Read()
	require.NoError(t, err)
	assert.Equal(t, []string{"pong", "hi"}, v.Strings())

	send(t, conn, "UNSUBSCRIBE")
	for i := 0; i < 2; i++ {
		v, err = dec.Read()
		require.NoError(t, err)
		assert.Equal(t, "unsubscribe", string(v.Array[0].String))
		assert.Equal(t, int64(1-i), v.Array[2].Integer)
	}

	// back in normal mode
	send(t, conn, "ECHO", "again")
	v, err = dec.Read()
	require.NoError(t, err)
	assert.Equal(t, "again", string(v.String))

	send(t, conn, "UNSUBSCRIBE")
	v, err = dec.Read()
	require.NoError(t, err)
	require.Len(t, v.Array, 3)
	assert.True(t, v.Array[1].IsNull)
	assert.Equal(t, int64(0), v.Array[2].Integer)
}

func TestServer_DisconnectUnsubscribes(t *testing.T) {
	ts := startServer(t, nil)
	conn, dec := ts.dial(t)

	send(t, conn, "SUBSCRIBE", "gone")
	_, err := dec.Read()
	require.NoError(t, err)
	require.Equal(t, []int{1}, ts.engine.Broker().NumSub("gone"))

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return ts.engine.Broker().NumSub("gone")[0] == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_IdleTimeout(t *testing.T) {
	ts := startServer(t, func(cfg *config.Config) {
		cfg.Server.IdleTimeout = 100 * time.Millisecond
	})
	conn, dec := ts.dial(t)

	send(t, conn, "PING")
	_, err := dec.Read()
	require.NoError(t, err)

	_, err = dec.Read()
	assert.ErrorIs(t, err, io.EOF, "idle connection is closed by the server")
}

func TestServer_RateLimit(t *testing.T) {
	ts := startServer(t, func(cfg *config.Config) {
		cfg.Server.RateLimit = 20
		cfg.Server.RateBurst = 1
	})
	rdb := ts.client(t)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, rdb.Ping(ctx).Err())
	}
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestServer_Shutdown(t *testing.T) {
	ts := startServer(t, nil)
	rdb := ts.client(t)
	ctx := context.Background()
	require.NoError(t, rdb.Ping(ctx).Err())

	conn, dec := ts.dial(t)
	send(t, conn, "SUBSCRIBE", "ch")
	_, err := dec.Read()
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, ts.srv.Shutdown(shutdownCtx))

	select {
	case err := <-ts.served:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return")
	}

	_, err = dec.Read()
	assert.Error(t, err)

	_, err = net.DialTimeout("tcp", ts.addr, 200*time.Millisecond)
	var opErr *net.OpError
	assert.True(t, errors.As(err, &opErr), "listener is closed")
}

func TestServer_ShutdownWhileAccepting(t *testing.T) {
	ts := startServer(t, nil)

	stop := make(chan struct{})
	dialers := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { dialers <- struct{}{} }()
			for {
				select {
				case <-stop:
					return
				default:
				}
				conn, err := net.DialTimeout("tcp", ts.addr, 100*time.Millisecond)
				if err != nil {
					continue
				}
				conn.Write([]byte("PING\r\n")) //nolint:errcheck
				conn.Close()                    //nolint:errcheck
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ts.srv.Shutdown(ctx))

	close(stop)
	for i := 0; i < 8; i++ {
		<-dialers
	}

	select {
	case err := <-ts.served:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServer_ShutdownBeforeServe(t *testing.T) {
	cfg := &config.Config{PubSub: config.PubSubConfig{OutboxSize: 1}}
	s, err := storage.NewShardedMapStorage(1)
	require.NoError(t, err)
	engine := NewEngine(s, nil, cfg, nil, nil)
	srv := New(cfg, engine, nil, zap.NewNop())

	require.NoError(t, srv.Shutdown(context.Background()))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.NoError(t, srv.Serve(ln))
	assert.Nil(t, srv.Addr())
}
