// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package types

import (
	"net"
	"net/http"
)

// ClientIP returns the host part of the remote address. Forwarding headers are
// ignored here, deployments behind a trusted proxy rewrite RemoteAddr upstream
// with middleware.RealIP
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
