package profile

import (
	"context"
	"errors"
)

// Error kinds returned by platform clients and the freshness layer.
var (
	ErrNotFound            = errors.New("profile not found")
	ErrRateLimited         = errors.New("rate limited")
	ErrConfiguration       = errors.New("configuration error")
	ErrUpstream            = errors.New("upstream error")
	ErrTimeout             = errors.New("request timed out")
	ErrNetwork             = errors.New("network error")
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// ErrorKind is a stable classification of an error.
type ErrorKind string

// Error kinds exposed to callers.
const (
	KindNone          ErrorKind = ""
	KindNotFound      ErrorKind = "not_found"
	KindRateLimited   ErrorKind = "rate_limited"
	KindConfiguration ErrorKind = "configuration"
	KindUpstream      ErrorKind = "upstream"
	KindTimeout       ErrorKind = "timeout"
	KindNetwork       ErrorKind = "network"
	KindUnsupported   ErrorKind = "unsupported_platform"
	KindCanceled      ErrorKind = "canceled"
	KindUnknown       ErrorKind = "unknown"
)

// Kind classifies err.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrUnsupportedPlatform):
		return KindUnsupported
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrUpstream):
		return KindUpstream
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindUnknown
	}
}
