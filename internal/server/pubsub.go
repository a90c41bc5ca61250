package server

import (
	"strings"

	"github.com/eternalApril/lunakv/internal/resp"
)

// sessionCommands change the subscription state of a connection, so only a Session can run them
var sessionCommands = []string{"SUBSCRIBE", "UNSUBSCRIBE", "PSUBSCRIBE", "PUNSUBSCRIBE", "QUIT"}

func sessionOnly(r *request) (resp.Value, error) {
	return resp.Value{}, invalidArgument("'%s' is only available on a client connection", strings.ToLower(r.name))
}

func publish(r *request) (resp.Value, error) {
	n := r.broker.Publish(r.arg(0), r.arg(1))
	return resp.MakeInteger(int64(n)), nil
}

// pubsubCmd implements PUBSUB CHANNELS [pattern], PUBSUB NUMSUB [channel ...] and PUBSUB NUMPAT
func pubsubCmd(r *request) (resp.Value, error) {
	sub := strings.ToUpper(r.arg(0))
	rest := r.args[1:]

	switch sub {
	case "CHANNELS":
		if len(rest) > 1 {
			return resp.Value{}, wrongArity("pubsub|channels")
		}
		pattern := ""
		if len(rest) == 1 {
			pattern = string(rest[0])
		}
		return resp.MakeBulkArray(r.broker.Channels(pattern)), nil

	case "NUMSUB":
		channels := stringArgs(rest)
		counts := r.broker.NumSub(channels...)

		out := make([]resp.Value, 0, len(channels)*2)
		for i, ch := range channels {
			out = append(out, resp.MakeBulkString(ch), resp.MakeInteger(int64(counts[i])))
		}
		return resp.MakeArray(out), nil

	case "NUMPAT":
		if len(rest) != 0 {
			return resp.Value{}, wrongArity("pubsub|numpat")
		}
		return resp.MakeInteger(int64(r.broker.NumPat())), nil
	}

	return resp.Value{}, invalidArgument("unknown subcommand '%s'. Try PUBSUB HELP.", r.arg(0))
}
