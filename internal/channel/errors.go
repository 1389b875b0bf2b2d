package channel

import (
	"errors"
	"fmt"

	"github.com/canops/go-pcan-gateway/internal/device"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrNotInitialized = errors.New("channel not initialized")
	ErrNotImplemented = errors.New("not implemented")
	ErrDevice         = errors.New("device error")
)

// devErr wraps a non-OK status with its decoded text so callers can both
// classify (errors.Is(err, ErrDevice)) and surface the vendor message
// verbatim.
func devErr(d device.Device, st device.Status) error {
	return fmt.Errorf("%w: %s", ErrDevice, d.ErrorText(st))
}
