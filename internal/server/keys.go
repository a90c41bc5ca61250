package server

import (
	"math"
	"strings"
	"time"

	"github.com/eternalApril/lunakv/internal/resp"
	"github.com/eternalApril/lunakv/internal/storage"
)

// del counts the keys that existed. Each key is removed atomically on its own
func del(r *request) (resp.Value, error) {
	var n int64
	for i := range r.args {
		if r.storage.Delete(r.arg(i)) {
			n++
		}
	}
	return resp.MakeInteger(n), nil
}

// exists counts a key once per occurrence in the arguments
func exists(r *request) (resp.Value, error) {
	var n int64
	for i := range r.args {
		if r.storage.Exists(r.arg(i)) {
			n++
		}
	}
	return resp.MakeInteger(n), nil
}

func keys(r *request) (resp.Value, error) {
	found, err := r.storage.Keys(r.arg(0))
	if err != nil {
		return resp.Value{}, err
	}
	return resp.MakeBulkArray(found), nil
}

func typeCmd(r *request) (resp.Value, error) {
	return resp.MakeSimpleString(r.storage.Type(r.arg(0)).String()), nil
}

// ttl reports seconds rounded to the nearest, -2 for a missing key and -1 without expiration
func ttl(r *request) (resp.Value, error) {
	d, status := r.storage.Expiry(r.arg(0))
	if status != storage.ExpActive {
		return resp.MakeInteger(int64(status)), nil
	}
	return resp.MakeInteger((d.Milliseconds() + 500) / 1000), nil
}

func pttl(r *request) (resp.Value, error) {
	d, status := r.storage.Expiry(r.arg(0))
	if status != storage.ExpActive {
		return resp.MakeInteger(int64(status)), nil
	}
	return resp.MakeInteger(d.Milliseconds()), nil
}

func expireWithUnit(r *request, unit time.Duration) (resp.Value, error) {
	n, err := parseInt(r.args[1])
	if err != nil {
		return resp.Value{}, err
	}
	if n > math.MaxInt64/int64(unit) || n < math.MinInt64/int64(unit) {
		return resp.Value{}, invalidArgument("invalid expire time in '%s' command", strings.ToLower(r.name))
	}

	if r.storage.Expire(r.arg(0), time.Duration(n)*unit) {
		return resp.MakeInteger(1), nil
	}
	return resp.MakeInteger(0), nil
}

func expireCmd(r *request) (resp.Value, error) {
	return expireWithUnit(r, time.Second)
}

func pexpire(r *request) (resp.Value, error) {
	return expireWithUnit(r, time.Millisecond)
}

func persist(r *request) (resp.Value, error) {
	return resp.MakeInteger(r.storage.Persist(r.arg(0))), nil
}

// dbsize counts every stored key, including expired ones the sweeper has not reclaimed yet.
// It reports a size and never exposes an expired value
func dbsize(r *request) (resp.Value, error) {
	return resp.MakeInteger(int64(r.storage.Len())), nil
}

// flushdb accepts the ASYNC and SYNC modifiers, both flush synchronously
func flushdb(r *request) (resp.Value, error) {
	if len(r.args) > 1 {
		return resp.Value{}, errSyntax
	}
	if len(r.args) == 1 {
		switch strings.ToUpper(r.arg(0)) {
		case "ASYNC", "SYNC":
		default:
			return resp.Value{}, errSyntax
		}
	}
	r.storage.Flush()
	return resp.MakeOK(), nil
}
