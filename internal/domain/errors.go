package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrRateLimited          = errors.New("rate limited")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInvalidOrder         = errors.New("invalid order parameters")
	ErrSigningFailed        = errors.New("signing failed")
	ErrWSDisconnect         = errors.New("websocket disconnected")
	ErrLockHeld             = errors.New("lock already held")
	ErrPlanConsumed         = errors.New("plan already consumed")
	ErrStaleData            = errors.New("snapshot too old to trust")
	ErrInsufficientLiquidity = errors.New("insufficient-liquidity")
	ErrSpreadClosed         = errors.New("spread-closed")
	ErrOnchainFailure       = errors.New("onchain transaction failed")
)
