// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

//go:build nomock

package main

import "github.com/luxfi/manuscript/session"

// Development chains are treated as live ones in this build.
func mockOptions() []session.Option {
	return nil
}
