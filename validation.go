package enet

import "errors"

// Validator accumulates frame validation errors so that a frame view can
// report every inconsistency found instead of bailing on the first.
// The zero value is ready to use.
type Validator struct {
	accum []error
}

// AddError registers a validation failure. err must be non-nil.
func (v *Validator) AddError(err error) {
	if err == nil {
		panic("error argument to AddError cannot be nil")
	}
	v.accum = append(v.accum, err)
}

// HasError returns true if one or more errors have been accumulated.
func (v *Validator) HasError() bool { return len(v.accum) != 0 }

// Err returns the accumulated error(s) without resetting the Validator.
func (v *Validator) Err() error {
	switch len(v.accum) {
	case 0:
		return nil
	case 1:
		return v.accum[0]
	}
	return errors.Join(v.accum...)
}

// ErrPop returns the accumulated error(s) and resets the Validator for reuse.
func (v *Validator) ErrPop() error {
	err := v.Err()
	v.ResetErr()
	return err
}

// ResetErr discards accumulated errors keeping allocated storage.
func (v *Validator) ResetErr() { v.accum = v.accum[:0] }
