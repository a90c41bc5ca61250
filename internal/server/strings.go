package server

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/eternalApril/lunakv/internal/resp"
	"github.com/eternalApril/lunakv/internal/storage"
)

func get(r *request) (resp.Value, error) {
	val, ok, err := r.storage.Get(r.arg(0))
	if err != nil {
		return resp.Value{}, err
	}
	if !ok {
		return resp.MakeNilBulkString(), nil
	}
	return resp.MakeBulkString(val), nil
}

// setArgs is the parsed option tail of SET
type setArgs struct {
	opts   storage.SetOptions
	get    bool
	hasTTL bool
}

// parseSetArgs parses [NX|XX] [GET] [EX s|PX ms|EXAT ts|PXAT ts|KEEPTTL] in any order
func parseSetArgs(args [][]byte) (setArgs, error) {
	var sa setArgs

	for i := 0; i < len(args); i++ {
		opt := strings.ToUpper(string(args[i]))

		switch opt {
		case "NX":
			if sa.opts.XX {
				return sa, invalidArgument("NX cannot use with XX")
			}
			sa.opts.NX = true
		case "XX":
			if sa.opts.NX {
				return sa, invalidArgument("XX cannot use with NX")
			}
			sa.opts.XX = true
		case "GET":
			sa.get = true
		case "KEEPTTL":
			if sa.hasTTL {
				return sa, invalidArgument("TTL already specified")
			}
			sa.hasTTL = true
			sa.opts.KeepTTL = true
		case "EX", "PX", "EXAT", "PXAT":
			if sa.hasTTL {
				return sa, invalidArgument("TTL already specified")
			}
			if i+1 >= len(args) {
				return sa, errSyntax
			}
			i++

			n, err := strconv.ParseInt(string(args[i]), 10, 64)
			if err != nil {
				return sa, errNotInteger
			}
			if n <= 0 {
				return sa, invalidArgument("invalid expire time in 'set' command")
			}

			switch opt {
			case "EX":
				if n > math.MaxInt64/int64(time.Second) {
					return sa, invalidArgument("invalid expire time in 'set' command")
				}
				sa.opts.TTL = time.Duration(n) * time.Second
			case "PX":
				if n > math.MaxInt64/int64(time.Millisecond) {
					return sa, invalidArgument("invalid expire time in 'set' command")
				}
				sa.opts.TTL = time.Duration(n) * time.Millisecond
			case "EXAT":
				if n > math.MaxInt64/int64(time.Second) {
					return sa, invalidArgument("invalid expire time in 'set' command")
				}
				sa.opts.ExpireAt = time.Unix(n, 0)
			case "PXAT":
				if n > math.MaxInt64/int64(time.Millisecond) {
					return sa, invalidArgument("invalid expire time in 'set' command")
				}
				sa.opts.ExpireAt = time.UnixMilli(n)
			}
			sa.hasTTL = true
		default:
			return sa, errSyntax
		}
	}

	return sa, nil
}

// set implements SET key value [NX|XX] [GET] [EX|PX|EXAT|PXAT|KEEPTTL].
// A failed NX/XX condition surfaces as ErrPreconditionFailed unless GET was requested
func set(r *request) (resp.Value, error) {
	sa, err := parseSetArgs(r.args[2:])
	if err != nil {
		return resp.Value{}, err
	}

	key, value := r.arg(0), r.arg(1)

	if sa.get {
		old, hadOld, _, err := r.storage.GetSet(key, value, sa.opts)
		if err != nil {
			return resp.Value{}, err
		}
		if !hadOld {
			return resp.MakeNilBulkString(), nil
		}
		return resp.MakeBulkString(old), nil
	}

	if !r.storage.Set(key, value, sa.opts) {
		return resp.Value{}, ErrPreconditionFailed
	}
	return resp.MakeOK(), nil
}

func setnx(r *request) (resp.Value, error) {
	if r.storage.Set(r.arg(0), r.arg(1), storage.SetOptions{NX: true}) {
		return resp.MakeInteger(1), nil
	}
	return resp.MakeInteger(0), nil
}

func getdel(r *request) (resp.Value, error) {
	val, ok, err := r.storage.GetDel(r.arg(0))
	if err != nil {
		return resp.Value{}, err
	}
	if !ok {
		return resp.MakeNilBulkString(), nil
	}
	return resp.MakeBulkString(val), nil
}

// mget answers nil for missing keys and for keys holding another type
func mget(r *request) (resp.Value, error) {
	out := make([]resp.Value, len(r.args))
	for i := range r.args {
		val, ok, err := r.storage.Get(r.arg(i))
		if err != nil || !ok {
			out[i] = resp.MakeNilBulkString()
			continue
		}
		out[i] = resp.MakeBulkString(val)
	}
	return resp.MakeArray(out), nil
}

func appendCmd(r *request) (resp.Value, error) {
	n, err := r.storage.Append(r.arg(0), r.arg(1))
	if err != nil {
		return resp.Value{}, err
	}
	return resp.MakeInteger(n), nil
}

func strlen(r *request) (resp.Value, error) {
	n, err := r.storage.StrLen(r.arg(0))
	if err != nil {
		return resp.Value{}, err
	}
	return resp.MakeInteger(n), nil
}

func applyDelta(r *request, delta int64) (resp.Value, error) {
	n, err := r.storage.IncrBy(r.arg(0), delta)
	if err != nil {
		return resp.Value{}, err
	}
	return resp.MakeInteger(n), nil
}

func incr(r *request) (resp.Value, error) {
	return applyDelta(r, 1)
}

func decr(r *request) (resp.Value, error) {
	return applyDelta(r, -1)
}

func incrby(r *request) (resp.Value, error) {
	delta, err := parseInt(r.args[1])
	if err != nil {
		return resp.Value{}, err
	}
	return applyDelta(r, delta)
}

func decrby(r *request) (resp.Value, error) {
	delta, err := parseInt(r.args[1])
	if err != nil {
		return resp.Value{}, err
	}
	if delta == math.MinInt64 {
		return resp.Value{}, &CommandError{Kind: KindOverflow, Msg: "decrement would overflow"}
	}
	return applyDelta(r, -delta)
}

// parseInt reads a base-10 int64 argument
func parseInt(b []byte) (int64, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, errNotInteger
	}
	return n, nil
}
