package server

import (
	"sort"

	"github.com/eternalApril/lunakv/internal/resp"
)

// hset takes field/value pairs. When a field repeats, the last value wins and counts once
func hset(r *request) (resp.Value, error) {
	pairs := r.args[1:]
	if len(pairs)%2 != 0 {
		return resp.Value{}, wrongArity("hset")
	}

	fields := make(map[string]string, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		fields[string(pairs[i])] = string(pairs[i+1])
	}

	n, err := r.storage.HSet(r.arg(0), fields)
	if err != nil {
		return resp.Value{}, err
	}
	return resp.MakeInteger(n), nil
}

func hget(r *request) (resp.Value, error) {
	val, ok, err := r.storage.HGet(r.arg(0), r.arg(1))
	if err != nil {
		return resp.Value{}, err
	}
	if !ok {
		return resp.MakeNilBulkString(), nil
	}
	return resp.MakeBulkString(val), nil
}

func hdel(r *request) (resp.Value, error) {
	n, err := r.storage.HDel(r.arg(0), stringArgs(r.args[1:]))
	if err != nil {
		return resp.Value{}, err
	}
	return resp.MakeInteger(n), nil
}

// hgetall replies field, value, field, value... sorted by field
func hgetall(r *request) (resp.Value, error) {
	all, err := r.storage.HGetAll(r.arg(0))
	if err != nil {
		return resp.Value{}, err
	}

	fields := make([]string, 0, len(all))
	for f := range all {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	out := make([]resp.Value, 0, len(all)*2)
	for _, f := range fields {
		out = append(out, resp.MakeBulkString(f), resp.MakeBulkString(all[f]))
	}
	return resp.MakeArray(out), nil
}

func hexists(r *request) (resp.Value, error) {
	ok, err := r.storage.HExists(r.arg(0), r.arg(1))
	if err != nil {
		return resp.Value{}, err
	}
	return boolReply(ok), nil
}

func hlen(r *request) (resp.Value, error) {
	n, err := r.storage.HLen(r.arg(0))
	if err != nil {
		return resp.Value{}, err
	}
	return resp.MakeInteger(n), nil
}

func hkeys(r *request) (resp.Value, error) {
	fields, err := r.storage.HKeys(r.arg(0))
	if err != nil {
		return resp.Value{}, err
	}
	return resp.MakeBulkArray(fields), nil
}

func hvals(r *request) (resp.Value, error) {
	vals, err := r.storage.HVals(r.arg(0))
	if err != nil {
		return resp.Value{}, err
	}
	return resp.MakeBulkArray(vals), nil
}
