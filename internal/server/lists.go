package server

import (
	"strconv"

	"github.com/eternalApril/lunakv/internal/resp"
)

func lpush(r *request) (resp.Value, error) {
	n, err := r.storage.LPush(r.arg(0), stringArgs(r.args[1:]))
	if err != nil {
		return resp.Value{}, err
	}
	return resp.MakeInteger(n), nil
}

func rpush(r *request) (resp.Value, error) {
	n, err := r.storage.RPush(r.arg(0), stringArgs(r.args[1:]))
	if err != nil {
		return resp.Value{}, err
	}
	return resp.MakeInteger(n), nil
}

type popFunc func(key string, count int) ([]string, error)

// pop shares LPOP and RPOP: without a count the reply is a single bulk string,
// with a count it is an array, nil when the key is absent in both forms
func pop(r *request, fn popFunc) (resp.Value, error) {
	if len(r.args) > 2 {
		return resp.Value{}, errSyntax
	}

	count, withCount := 1, len(r.args) == 2
	if withCount {
		n, err := strconv.Atoi(r.arg(1))
		if err != nil || n < 0 {
			return resp.Value{}, invalidArgument("value is out of range, must be positive")
		}
		count = n
	}

	items, err := fn(r.arg(0), count)
	if err != nil {
		return resp.Value{}, err
	}

	if !withCount {
		if len(items) == 0 {
			return resp.MakeNilBulkString(), nil
		}
		return resp.MakeBulkString(items[0]), nil
	}

	if items == nil {
		return resp.MakeNullArray(), nil
	}
	return resp.MakeBulkArray(items), nil
}

func lpop(r *request) (resp.Value, error) {
	return pop(r, r.storage.LPop)
}

func rpop(r *request) (resp.Value, error) {
	return pop(r, r.storage.RPop)
}

func lrange(r *request) (resp.Value, error) {
	start, err := parseInt(r.args[1])
	if err != nil {
		return resp.Value{}, err
	}
	stop, err := parseInt(r.args[2])
	if err != nil {
		return resp.Value{}, err
	}

	items, err := r.storage.LRange(r.arg(0), start, stop)
	if err != nil {
		return resp.Value{}, err
	}
	return resp.MakeBulkArray(items), nil
}

func llen(r *request) (resp.Value, error) {
	n, err := r.storage.LLen(r.arg(0))
	if err != nil {
		return resp.Value{}, err
	}
	return resp.MakeInteger(n), nil
}

func lindex(r *request) (resp.Value, error) {
	idx, err := parseInt(r.args[1])
	if err != nil {
		return resp.Value{}, err
	}

	val, ok, err := r.storage.LIndex(r.arg(0), idx)
	if err != nil {
		return resp.Value{}, err
	}
	if !ok {
		return resp.MakeNilBulkString(), nil
	}
	return resp.MakeBulkString(val), nil
}

func stringArgs(args [][]byte) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = string(a)
	}
	return out
}
