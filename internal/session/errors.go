package session

import (
	"errors"
	"fmt"

	"github.com/Neomon11/LibLocker/pkg/interfaces"
	"github.com/Neomon11/LibLocker/pkg/types"
)

// translateStoreErr maps store sentinels onto the core taxonomy.
// Anything unrecognised is a StoreFailure.
func translateStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, interfaces.ErrClientNotFound):
		return types.ErrClientUnknown
	case errors.Is(err, interfaces.ErrActiveSessionExists):
		return types.ErrClientBusy
	case errors.Is(err, interfaces.ErrSessionNotActive),
		errors.Is(err, interfaces.ErrSessionNotFound):
		return types.ErrNoActiveSession
	case errors.Is(err, types.ErrStoreFailure):
		return err
	default:
		return fmt.Errorf("%w: %w", types.ErrStoreFailure, err)
	}
}
