// Package elmoerr defines the failure categories shared by the model packages.
//
// Every error returned while parsing configuration, discovering model files,
// loading weights or running a forward pass wraps exactly one of these
// sentinels, so callers can branch with errors.Is.
package elmoerr

import "github.com/pkg/errors"

var (
	// ErrConfig marks invalid or unsupported configuration values.
	ErrConfig = errors.New("configuration error")
	// ErrResource marks missing or ambiguous files in a model directory.
	ErrResource = errors.New("resource discovery error")
	// ErrShape marks a tensor whose shape disagrees with the module expecting it.
	ErrShape = errors.New("shape mismatch")
	// ErrInput marks a violated input contract on a forward call.
	ErrInput = errors.New("invalid input")
)

// Configf returns an ErrConfig carrying a formatted message.
func Configf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrConfig, format, args...)
}

// Resourcef returns an ErrResource carrying a formatted message.
func Resourcef(format string, args ...interface{}) error {
	return errors.Wrapf(ErrResource, format, args...)
}

// Shapef returns an ErrShape carrying a formatted message.
func Shapef(format string, args ...interface{}) error {
	return errors.Wrapf(ErrShape, format, args...)
}

// Inputf returns an ErrInput carrying a formatted message.
func Inputf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInput, format, args...)
}
