package server

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eternalApril/lunakv/internal/config"
	"github.com/eternalApril/lunakv/internal/expire"
	"github.com/eternalApril/lunakv/internal/metrics"
	"github.com/eternalApril/lunakv/internal/pubsub"
	"github.com/eternalApril/lunakv/internal/resp"
	"github.com/eternalApril/lunakv/internal/storage"
)

// request carries the arguments of one command invocation, without the command name
type request struct {
	name    string
	args    [][]byte
	storage storage.Storage
	broker  *pubsub.Broker
}

func (r *request) arg(i int) string {
	return string(r.args[i])
}

// handler executes a command. It returns the reply or a typed error, never both
type handler func(r *request) (resp.Value, error)

// Engine coordinates the execution of commands and manages the background tasks of the repository
type Engine struct {
	commands map[string]handler // Registry of available commands (the key is the command name in uppercase)
	storage  storage.Storage    // Underlying KV storage
	broker   *pubsub.Broker     // Channel registry for PUBLISH and PUBSUB
	cfg      *config.Config     // Configuration engine
	sweeper  *expire.Sweeper    // Active expiration
	stopGC   context.CancelFunc // Stops the background sweeper
	gcDone   chan struct{}
	stopOnce sync.Once // Ensures that the stop happens only once
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewEngine initializes the engine, registers the commands, and
// if enabled in the config, starts background cleanup of outdated keys.
// m may be nil
func NewEngine(s storage.Storage, broker *pubsub.Broker, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if broker == nil {
		broker = pubsub.NewBroker()
	}

	engine := Engine{
		commands: make(map[string]handler),
		storage:  s,
		broker:   broker,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
	}
	engine.registerCommands()

	engine.sweeper = expire.NewSweeper(s, cfg.GC, logger.Named("gc"))
	engine.sweeper.OnCycle(func(expire.CycleResult) { m.GCCycle() })

	if cfg.GC.Enabled {
		ctx, cancel := context.WithCancel(context.Background())
		engine.stopGC = cancel
		engine.gcDone = make(chan struct{})
		go func() {
			defer close(engine.gcDone)
			engine.sweeper.Run(ctx)
		}()
	}

	return &engine
}

// register adds a new command to the engine. The command name is uppercase
func (e *Engine) register(name string, h handler) {
	e.commands[strings.ToUpper(name)] = h
}

// registerCommands fills the registry with every supported command
func (e *Engine) registerCommands() {
	// connection and server
	e.register("PING", ping)
	e.register("ECHO", echo)
	e.register("COMMAND", command)
	e.register("DBSIZE", dbsize)
	e.register("FLUSHDB", flushdb)

	// strings
	e.register("GET", get)
	e.register("SET", set)
	e.register("SETNX", setnx)
	e.register("GETDEL", getdel)
	e.register("MGET", mget)
	e.register("APPEND", appendCmd)
	e.register("STRLEN", strlen)
	e.register("INCR", incr)
	e.register("DECR", decr)
	e.register("INCRBY", incrby)
	e.register("DECRBY", decrby)

	// generic keyspace
	e.register("DEL", del)
	e.register("EXISTS", exists)
	e.register("KEYS", keys)
	e.register("TYPE", typeCmd)
	e.register("TTL", ttl)
	e.register("PTTL", pttl)
	e.register("EXPIRE", expireCmd)
	e.register("PEXPIRE", pexpire)
	e.register("PERSIST", persist)

	// lists
	e.register("LPUSH", lpush)
	e.register("RPUSH", rpush)
	e.register("LPOP", lpop)
	e.register("RPOP", rpop)
	e.register("LRANGE", lrange)
	e.register("LLEN", llen)
	e.register("LINDEX", lindex)

	// sets
	e.register("SADD", sadd)
	e.register("SREM", srem)
	e.register("SISMEMBER", sismember)
	e.register("SCARD", scard)
	e.register("SMEMBERS", smembers)

	// hashes
	e.register("HSET", hset)
	e.register("HGET", hget)
	e.register("HDEL", hdel)
	e.register("HGETALL", hgetall)
	e.register("HEXISTS", hexists)
	e.register("HLEN", hlen)
	e.register("HKEYS", hkeys)
	e.register("HVALS", hvals)

	// pub/sub
	e.register("PUBLISH", publish)
	e.register("PUBSUB", pubsubCmd)
	for _, name := range sessionCommands {
		e.register(name, sessionOnly)
	}
}

// Exec runs a command by name and returns the reply or a *CommandError.
// Arguments exclude the command name itself
func (e *Engine) Exec(name string, args [][]byte) (resp.Value, error) {
	name = strings.ToUpper(name)

	if e.logger.Core().Enabled(zap.DebugLevel) {
		// Log the command name and number of args
		e.logger.Debug("executing command",
			zap.String("cmd", name),
			zap.Int("args_count", len(args)),
		)
	}

	start := time.Now()
	res, err := e.exec(name, args)

	var kind string
	if err != nil {
		err = classify(err)
		kind = err.(*CommandError).Kind.String()
	}
	e.metrics.ObserveCommand(metricName(name, e.commands), kind, time.Since(start))

	return res, err
}

func (e *Engine) exec(name string, args [][]byte) (resp.Value, error) {
	h, ok := e.commands[name]
	if !ok {
		return resp.Value{}, unknownCommand(name, args)
	}

	if err := checkArity(name, len(args)); err != nil {
		return resp.Value{}, err
	}

	return h(&request{
		name:    name,
		args:    args,
		storage: e.storage,
		broker:  e.broker,
	})
}

// Execute finds the command by name and executes it with the passed arguments.
// Errors are rendered in the RESP format
func (e *Engine) Execute(name string, args []resp.Value) resp.Value {
	raw := make([][]byte, len(args))
	for i, a := range args {
		raw[i] = a.String
	}

	res, err := e.Exec(name, raw)
	if err != nil {
		var ce *CommandError
		if errors.As(err, &ce) {
			return render(ce)
		}
		return resp.MakeError("ERR " + err.Error())
	}
	return res
}

// Broker returns the pub/sub registry shared with client sessions
func (e *Engine) Broker() *pubsub.Broker {
	return e.broker
}

// Sweeper exposes the active expiration, mainly so tests can run cycles by hand
func (e *Engine) Sweeper() *expire.Sweeper {
	return e.sweeper
}

// Shutdown shuts down the engine and its background services correctly
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() {
		if e.stopGC != nil {
			e.stopGC()
			<-e.gcDone
		}
		e.logger.Info("GC background process stopped")
	})
}

// metricName keeps the label set bounded: unknown names share one label
func metricName(name string, known map[string]handler) string {
	if _, ok := known[name]; ok {
		return strings.ToLower(name)
	}
	return "unknown"
}

func unknownCommand(name string, args [][]byte) *CommandError {
	var b strings.Builder
	for i, a := range args {
		if i == 3 {
			break
		}
		b.WriteString("'")
		b.Write(a)
		b.WriteString("' ")
	}
	return &CommandError{
		Kind: KindUnknownCommand,
		Msg:  "unknown command '" + strings.ToLower(name) + "', with args beginning with: " + b.String(),
	}
}
