package server

import "github.com/eternalApril/lunakv/internal/resp"

func sadd(r *request) (resp.Value, error) {
	n, err := r.storage.SAdd(r.arg(0), stringArgs(r.args[1:]))
	if err != nil {
		return resp.Value{}, err
	}
	return resp.MakeInteger(n), nil
}

func srem(r *request) (resp.Value, error) {
	n, err := r.storage.SRem(r.arg(0), stringArgs(r.args[1:]))
	if err != nil {
		return resp.Value{}, err
	}
	return resp.MakeInteger(n), nil
}

func sismember(r *request) (resp.Value, error) {
	ok, err := r.storage.SIsMember(r.arg(0), r.arg(1))
	if err != nil {
		return resp.Value{}, err
	}
	return boolReply(ok), nil
}

func scard(r *request) (resp.Value, error) {
	n, err := r.storage.SCard(r.arg(0))
	if err != nil {
		return resp.Value{}, err
	}
	return resp.MakeInteger(n), nil
}

func smembers(r *request) (resp.Value, error) {
	members, err := r.storage.SMembers(r.arg(0))
	if err != nil {
		return resp.Value{}, err
	}
	return resp.MakeBulkArray(members), nil
}

func boolReply(ok bool) resp.Value {
	if ok {
		return resp.MakeInteger(1)
	}
	return resp.MakeInteger(0)
}
