package cts

import (
	"fmt"

	"go.uber.org/multierr"
)

// Attachment reports the peripherals and user settings that change the
// firmware configuration, and reapplies them.
type Attachment interface {
	ChargerAttached() bool
	SetChargerAttached(bool) error
	EarjackAttached() bool
	SetEarjackAttached(bool) error
	GloveEnabled() bool
	EnterGloveMode() error
	FWLogRedirect() bool
	EnableFWLogRedirect() error
}

// NoAttachment is an Attachment without peripherals.
type NoAttachment struct{}

func (NoAttachment) ChargerAttached() bool         { return false }
func (NoAttachment) SetChargerAttached(bool) error { return nil }
func (NoAttachment) EarjackAttached() bool         { return false }
func (NoAttachment) SetEarjackAttached(bool) error { return nil }
func (NoAttachment) GloveEnabled() bool            { return false }
func (NoAttachment) EnterGloveMode() error         { return nil }
func (NoAttachment) FWLogRedirect() bool           { return false }
func (NoAttachment) EnableFWLogRedirect() error    { return nil }

// RestorePosture reapplies the attachment state to the firmware after
// a test has reset it. Every step is attempted and failures are
// returned combined.
func (d *Device) RestorePosture(att Attachment) error {
	var errs error
	step := func(what string, enabled bool, apply func() error) {
		if !enabled {
			return
		}
		if err := apply(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", what, err))
		}
	}
	step("charger state", att.ChargerAttached(), func() error { return att.SetChargerAttached(true) })
	step("earjack state", att.EarjackAttached(), func() error { return att.SetEarjackAttached(true) })
	step("glove mode", att.GloveEnabled(), att.EnterGloveMode)
	step("fw log redirect", att.FWLogRedirect(), att.EnableFWLogRedirect)
	return errs
}
