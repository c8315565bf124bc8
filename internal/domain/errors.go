package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrNoMarkets    = errors.New("no markets resolved")
	ErrNotConnected = errors.New("feed not connected")
	ErrWSDisconnect = errors.New("websocket disconnected")
	ErrRateLimited  = errors.New("rate limited")
)
