// Copyright (c) 2026 dotandev
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for comparison with errors.Is
var (
	ErrMalformedInput     = errors.New("malformed method body")
	ErrUnsupportedOperand = errors.New("unsupported operand")
	ErrBinding            = errors.New("hook binding failed")
	ErrRedirection        = errors.New("native redirection failed")
	ErrNotPatched         = errors.New("method is not patched")
	ErrSnapshotVersion    = errors.New("incompatible snapshot version")
	ErrUnsupportedOpcode  = errors.New("opcode not supported by interpreter")
	ErrConfig             = errors.New("configuration error")
	ErrValidation         = errors.New("validation failed")
)

// Wrap functions for consistent error wrapping
func WrapMalformedInput(msg string) error {
	return fmt.Errorf("%w: %s", ErrMalformedInput, msg)
}

func WrapMalformedInputErr(err error) error {
	return fmt.Errorf("%w: %w", ErrMalformedInput, err)
}

func WrapUnsupportedOperand(opcode string, operand any) error {
	return fmt.Errorf("%w: %T in %s", ErrUnsupportedOperand, operand, opcode)
}

func WrapBinding(msg string) error {
	return fmt.Errorf("%w: %s", ErrBinding, msg)
}

func WrapRedirection(err error) error {
	return fmt.Errorf("%w: %w", ErrRedirection, err)
}

func WrapNotPatched(method string) error {
	return fmt.Errorf("%w: %s", ErrNotPatched, method)
}

func WrapSnapshotVersion(have, want string) error {
	return fmt.Errorf("%w: snapshot %s, engine accepts %s", ErrSnapshotVersion, have, want)
}

func WrapUnsupportedOpcode(opcode string) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedOpcode, opcode)
}

func WrapConfigError(msg string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrConfig, msg)
	}
	return fmt.Errorf("%w: %s: %w", ErrConfig, msg, err)
}

func WrapValidationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// Is and As forward to the standard library so callers need one import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}
