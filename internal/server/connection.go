package server

import "github.com/eternalApril/lunakv/internal/resp"

func ping(r *request) (resp.Value, error) {
	switch len(r.args) {
	case 0:
		return resp.MakeSimpleString("PONG"), nil
	case 1:
		return resp.MakeBulkString(r.arg(0)), nil
	}
	return resp.Value{}, wrongArity("ping")
}

func echo(r *request) (resp.Value, error) {
	return resp.MakeBulkString(r.arg(0)), nil
}
