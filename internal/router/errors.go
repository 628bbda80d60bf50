package router

import (
	"fmt"

	"github.com/Neomon11/LibLocker/pkg/types"
)

// ErrRateLimitExceeded wraps types.ErrRateLimited so ERROR replies carry rate_limited
var ErrRateLimitExceeded = fmt.Errorf("%w: too many messages per minute", types.ErrRateLimited)
