package goSession

import (
	"errors"

	"github.com/MrEthical07/goSession/session"
)

var (
	// ErrNoStoreClient is returned by [Builder.Build] when no backing-store client can be
	// resolved.
	ErrNoStoreClient = errors.New("no session store client configured")
	// ErrBuilderUsed is returned when [Builder.Build] is called twice.
	ErrBuilderUsed = errors.New("builder already used")
	// ErrAlreadyStarted is returned by a second [Engine.Start].
	ErrAlreadyStarted = errors.New("engine already started")
	// ErrEngineClosed is returned by [Engine.Start] after [Engine.Close].
	ErrEngineClosed = errors.New("engine closed")
	// ErrListenerStart wraps subscription failures during [Engine.Start].
	ErrListenerStart = errors.New("session expiry listener failed to start")

	// ErrStoreUnavailable wraps backing-store failures from save and delete.
	ErrStoreUnavailable = session.ErrStoreUnavailable
	// ErrSerialization wraps attribute encoding failures from save.
	ErrSerialization = session.ErrSerialization
)
