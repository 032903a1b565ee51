package pkg

import "errors"

// Storage driver errors.
var (
	// ErrInvalidState indicates the card has not completed initialization.
	ErrInvalidState = errors.New("device not initialized")

	// ErrInvalidParameter indicates a request exceeds a boundary-imposed
	// transfer limit.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrOutOfBounds indicates a byte range outside the device capacity.
	ErrOutOfBounds = errors.New("range out of bounds")

	// ErrTimeout indicates a command or data-token wait exhausted its
	// attempt budget.
	ErrTimeout = errors.New("protocol timeout")

	// ErrReject indicates the card returned an explicit error flag or
	// refused a data block.
	ErrReject = errors.New("command rejected")

	// ErrUnrecognized indicates the medium did not answer the reset or
	// version-probe sequence like an SD card.
	ErrUnrecognized = errors.New("card not recognized")

	// ErrUnsupportedMedium indicates a size-descriptor layout the driver
	// cannot decode.
	ErrUnsupportedMedium = errors.New("unsupported medium")

	// ErrBufferTooSmall indicates the provided buffer cannot hold the
	// requested sectors.
	ErrBufferTooSmall = errors.New("buffer too small")
)
