package pulse

import (
	"errors"

	"goflare.io/pulse/internal/cache/multi"
	"goflare.io/pulse/internal/config"
)

var (
	ErrBaseURLRequired = config.ErrBaseURLRequired
	ErrInvalidTTL      = config.ErrInvalidTTL
	ErrNoCacheTier     = multi.ErrNoTier
	ErrInvalidWarmup   = errors.New("invalid warmup request")
)
