package exception

import "github.com/yanun0323/errors"

var (
	ErrNilClient       = errors.New("nil client")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInternal        = errors.New("internal error")
)
