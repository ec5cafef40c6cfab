package domain

import "errors"

var (
	// Configuration errors.
	ErrInvalidPeriods  = errors.New("slow EMA period must be greater than fast EMA period")
	ErrInvalidSettings = errors.New("invalid settings")

	// Gateway errors.
	ErrGatewayNotReady = errors.New("exchange gateway not ready")
	ErrNoData          = errors.New("no data from exchange")

	// Order errors.
	ErrInvalidOrder   = errors.New("invalid order")
	ErrOrderSkipped   = errors.New("order quantity below exchange minimum")
	ErrOrderNotFilled = errors.New("order not filled")

	ErrPositionNotFound = errors.New("position not found")
	ErrAlreadyRunning   = errors.New("bot already running")
	ErrNotRunning       = errors.New("bot not running")
	ErrStopping         = errors.New("bot still stopping")
)
