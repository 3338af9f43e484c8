package db

import "errors"

// ErrKeyNotFound is returned by Get for an absent key.
var ErrKeyNotFound = errors.New("db: key not found")

// Op names the Redis command that failed.
type Op string

// Commands issued by the store.
const (
	OpPing     Op = "PING"
	OpHGetAll  Op = "HGETALL"
	OpHSet     Op = "HSET"
	OpExists   Op = "EXISTS"
	OpSAdd     Op = "SADD"
	OpSMembers Op = "SMEMBERS"
	OpGet      Op = "GET"
	OpSet      Op = "SET"
	OpIncrBy   Op = "INCRBY"
	OpExpire   Op = "EXPIRE"
)

// Error ties a driver error to the command that produced it.
type Error struct {
	Op  Op
	Err error
}

func (e *Error) Error() string { return string(e.Op) + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }
