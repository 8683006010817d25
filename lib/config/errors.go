package config

import "errors"

var (
	ErrDirectoryNotFound   = errors.New("function directory not found")
	ErrNamingPolicyMissing = errors.New("naming policy not set")
	ErrUnknownNamingPolicy = errors.New("unknown naming policy")
)
