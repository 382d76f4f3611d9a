package common

import "github.com/pkg/errors"

var (
	// ErrInvalidInput is returned when an image or face crop is empty, has no
	// area, or carries a pixel layout other than 8-bit 1, 3 or 4 channels.
	ErrInvalidInput = errors.New("invalid input image")
	// ErrLocatorFailure is returned when the face locator cannot run, e.g. the
	// cascade file is missing or failed to load.
	ErrLocatorFailure = errors.New("face locator failure")
)
