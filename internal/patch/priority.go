// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package patch

// Hook priorities. Higher values run earlier among hooks of one kind.
const (
	Last             = 0
	VeryLow          = 100
	Low              = 200
	LowerThanNormal  = 300
	Normal           = 400
	HigherThanNormal = 500
	High             = 600
	VeryHigh         = 700
	First            = 800
)

// Unset marks a hook that did not choose a priority. It sorts as Normal.
const Unset = -1

func effectivePriority(p int) int {
	if p == Unset {
		return Normal
	}
	return p
}
