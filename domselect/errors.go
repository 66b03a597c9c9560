package domselect

import (
	"errors"

	"github.com/hazyhaar/selres/domselect/internal/browser"
)

var (
	// ErrInvalidInput marks requests rejected before any work is done:
	// unknown selector kind or tier, empty selector, empty domain.
	ErrInvalidInput = errors.New("domselect: invalid input")

	// ErrBrowserDisabled is returned by Capture when live capture is off.
	ErrBrowserDisabled = browser.ErrDisabled

	// Capture refuses these targets.
	ErrUnsafeScheme   = browser.ErrUnsafeScheme
	ErrPrivateAddress = browser.ErrPrivateAddress
)
