package server

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/eternalApril/lunakv/internal/pubsub"
	"github.com/eternalApril/lunakv/internal/resp"
)

// SessionOptions tune a single client connection
type SessionOptions struct {
	IdleTimeout time.Duration // 0 waits forever for the next command
	RateLimit   float64       // commands per second, 0 disables limiting
	RateBurst   int
	OutboxSize  int // pub/sub messages buffered before dropping
}

// Session drives one client connection: it decodes commands, runs them through the
// Engine and owns the connection's pub/sub subscriber
type Session struct {
	id      string
	peer    *Peer
	engine  *Engine
	broker  *pubsub.Broker
	opts    SessionOptions
	limiter *rate.Limiter
	logger  *zap.Logger

	sub       *pubsub.Subscriber // created on the first (P)SUBSCRIBE
	drainDone chan struct{}
}

func NewSession(peer *Peer, engine *Engine, opts SessionOptions, logger *zap.Logger) *Session {
	id := pubsub.NewID()
	s := &Session{
		id:     id,
		peer:   peer,
		engine: engine,
		broker: engine.Broker(),
		opts:   opts,
		logger: logger.With(zap.String("session", id)),
	}

	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return s
}

func (s *Session) ID() string { return s.id }

// Serve handles commands until the client leaves, QUIT is received or ctx is cancelled.
// Pipelined replies are flushed once the input buffer is drained
func (s *Session) Serve(ctx context.Context) error {
	defer s.cleanup()

	for {
		s.armDeadline()

		// checked after arming: Shutdown cancels before it expires the read deadlines
		if ctx.Err() != nil {
			return nil
		}

		cmdValue, err := s.peer.ReadCommand()
		if err != nil {
			return s.readError(ctx, err)
		}

		if cmdValue.Type != resp.TypeArray {
			if err := s.reply(resp.MakeError("ERR Protocol error: expected array of bulk strings")); err != nil {
				return err
			}
			continue
		}

		if len(cmdValue.Array) == 0 {
			continue
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		commandName := strings.ToUpper(string(cmdValue.Array[0].String))
		args := cmdValue.Array[1:]

		quit, err := s.dispatch(commandName, args)
		if err != nil {
			return err
		}

		if quit || s.peer.InputBuffered() == 0 {
			if err := s.peer.Flush(); err != nil {
				return err
			}
		}

		if quit {
			return nil
		}
	}
}

// reply sends v and flushes unless more pipelined input is waiting
func (s *Session) reply(v resp.Value) error {
	if err := s.peer.Send(v); err != nil {
		return err
	}
	if s.peer.InputBuffered() == 0 {
		return s.peer.Flush()
	}
	return nil
}

func (s *Session) armDeadline() {
	var deadline time.Time
	// subscribers legitimately stay silent for a long time
	if s.opts.IdleTimeout > 0 && !s.subscribed() {
		deadline = time.Now().Add(s.opts.IdleTimeout)
	}
	s.peer.SetReadDeadline(deadline) //nolint:errcheck
}

func (s *Session) readError(ctx context.Context, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		if ctx.Err() == nil {
			s.logger.Debug("connection idle timeout")
		}
		return nil
	}

	if errors.Is(err, resp.ErrProtocol) || errors.Is(err, resp.ErrInvalidEnding) {
		s.logger.Warn("protocol error", zap.Error(err))
		s.peer.Send(resp.MakeError("ERR Protocol error: " + err.Error())) //nolint:errcheck
		s.peer.Flush()                                                   //nolint:errcheck
		return nil
	}

	return err
}

// dispatch runs one command. It reports true when the connection must be closed
func (s *Session) dispatch(name string, args []resp.Value) (bool, error) {
	switch name {
	case "QUIT":
		return true, s.peer.Send(resp.MakeOK())
	case "SUBSCRIBE", "PSUBSCRIBE":
		if err := checkArity(name, len(args)); err != nil {
			return false, s.peer.Send(render(classify(err)))
		}
		return false, s.subscribe(name, args)
	case "UNSUBSCRIBE", "PUNSUBSCRIBE":
		return false, s.unsubscribe(name, args)
	}

	if s.subscribed() {
		if name == "PING" {
			return false, s.subscribedPing(args)
		}
		return false, s.peer.Send(resp.MakeError(
			"ERR Can't execute '" + strings.ToLower(name) +
				"': only (P)SUBSCRIBE / (P)UNSUBSCRIBE / PING / QUIT are allowed in this context",
		))
	}

	return false, s.peer.Send(s.engine.Execute(name, args))
}

func (s *Session) subscribed() bool {
	return s.sub != nil && s.broker.Subscriptions(s.sub) > 0
}

func (s *Session) subscribedPing(args []resp.Value) error {
	if len(args) > 1 {
		return s.peer.Send(render(wrongArity("ping")))
	}
	payload := ""
	if len(args) == 1 {
		payload = string(args[0].String)
	}
	return s.peer.Send(resp.MakeBulkArray([]string{"pong", payload}))
}

// subscribe registers every argument and writes the confirmations while holding the
// writer, so no message for a new subscription can overtake its confirmation
func (s *Session) subscribe(name string, args []resp.Value) error {
	s.ensureSubscriber()
	kind := strings.ToLower(name)

	return s.peer.Locked(func(w resp.Writer) error {
		for _, a := range args {
			target := string(a.String)

			var n int
			if name == "SUBSCRIBE" {
				n = s.broker.Subscribe(s.sub, target)
			} else {
				n = s.broker.PSubscribe(s.sub, target)
			}

			if err := w.Write(subscriptionReply(kind, target, n)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Session) unsubscribe(name string, args []resp.Value) error {
	kind := strings.ToLower(name)
	patterns := name == "PUNSUBSCRIBE"

	return s.peer.Locked(func(w resp.Writer) error {
		if len(args) == 0 {
			var removed []string
			if s.sub != nil {
				if patterns {
					removed = s.broker.PUnsubscribeAll(s.sub)
				} else {
					removed = s.broker.UnsubscribeAll(s.sub)
				}
			}

			left := 0
			if s.sub != nil {
				left = s.broker.Subscriptions(s.sub)
			}

			if len(removed) == 0 {
				return w.Write(resp.MakeArray([]resp.Value{
					resp.MakeBulkString(kind),
					resp.MakeNilBulkString(),
					resp.MakeInteger(int64(left)),
				}))
			}

			// count down as if the targets were removed one by one
			for i, target := range removed {
				if err := w.Write(subscriptionReply(kind, target, left+len(removed)-1-i)); err != nil {
					return err
				}
			}
			return nil
		}

		for _, a := range args {
			target := string(a.String)

			left := 0
			if s.sub != nil {
				if patterns {
					_, left = s.broker.PUnsubscribe(s.sub, target)
				} else {
					_, left = s.broker.Unsubscribe(s.sub, target)
				}
			}

			if err := w.Write(subscriptionReply(kind, target, left)); err != nil {
				return err
			}
		}
		return nil
	})
}

func subscriptionReply(kind, target string, count int) resp.Value {
	return resp.MakeArray([]resp.Value{
		resp.MakeBulkString(kind),
		resp.MakeBulkString(target),
		resp.MakeInteger(int64(count)),
	})
}

func (s *Session) ensureSubscriber() {
	if s.sub != nil {
		return
	}
	s.sub = pubsub.NewSubscriber(s.opts.OutboxSize)
	s.drainDone = make(chan struct{})
	go s.drain()
}

// drain writes queued pub/sub messages until the subscriber is removed
func (s *Session) drain() {
	defer close(s.drainDone)

	msgs := s.sub.Messages()
	for m := range msgs {
		err := s.peer.Locked(func(w resp.Writer) error {
			if err := w.Write(messageValue(m)); err != nil {
				return err
			}
			if len(msgs) == 0 {
				return w.Flush()
			}
			return nil
		})
		if err != nil && s.logger.Core().Enabled(zap.DebugLevel) {
			s.logger.Debug("pubsub delivery failed", zap.Error(err))
		}
	}
}

func messageValue(m pubsub.Message) resp.Value {
	if m.Kind == pubsub.KindPMessage {
		return resp.MakeBulkArray([]string{"pmessage", m.Pattern, m.Channel, m.Payload})
	}
	return resp.MakeBulkArray([]string{"message", m.Channel, m.Payload})
}

// cleanup unsubscribes everything. The connection is closed before waiting for the
// delivery goroutine so a stalled client cannot block it
func (s *Session) cleanup() {
	if s.sub == nil {
		return
	}
	s.broker.Remove(s.sub)
	s.peer.Close() //nolint:errcheck
	<-s.drainDone

	if dropped := s.sub.Dropped(); dropped > 0 {
		s.logger.Info("subscriber dropped messages", zap.Uint64("dropped", dropped))
	}
}
