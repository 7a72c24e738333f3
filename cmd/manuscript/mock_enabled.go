// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

//go:build !nomock

package main

import (
	"github.com/luxfi/manuscript/fhe/mock"
	"github.com/luxfi/manuscript/session"
)

func mockOptions() []session.Option {
	return []session.Option{session.WithMock(mock.NewInstance)}
}
