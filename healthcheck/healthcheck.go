// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package healthcheck

import (
	"context"
	"net/http"
	"time"

	"github.com/alexliesenfeld/health"
)

const (
	Path         = "/health"
	checkTimeout = 5 * time.Second
)

// HandleHealthCheckRequest serves [checkFunc] under Path on [mux].
func HandleHealthCheckRequest(mux *http.ServeMux, name string, checkFunc func(context.Context) error) {
	healthChecker := health.NewChecker(
		health.WithCacheDuration(time.Second),
		health.WithTimeout(checkTimeout),
		health.WithCheck(health.Check{
			Name:  name,
			Check: checkFunc,
		}),
	)

	mux.Handle(Path, health.NewHandler(healthChecker))
}
