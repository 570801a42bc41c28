package lightcluster

import "errors"

var (
	ErrInvalidConfig = errors.New("lightcluster: invalid config")
	ErrNoScene       = errors.New("lightcluster: no scene")
	ErrNoDevice      = errors.New("lightcluster: no device")
)
