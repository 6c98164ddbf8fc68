package httpx

import (
	"net"
	"net/http"
)

// ClientIP returns the requester address without its port.
// Forwarding headers are never read here; when the server trusts its proxy,
// chi's RealIP middleware has already rewritten RemoteAddr from them.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
