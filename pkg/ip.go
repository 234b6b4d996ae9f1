package pkg

import (
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
)

var (
	localDockerIpRegex = regexp.MustCompile(`^172\.\d{1,3}\.0\.1:\d{1,5}`)
)

func IPIsLocal(ipAddr string) bool {
	if strings.HasPrefix(ipAddr, "127.0.0.1:") || strings.HasPrefix(ipAddr, "[::1]:") {
		return true
	}

	// user within docker container ?
	return localDockerIpRegex.MatchString(ipAddr)
}

// ReadUserIP returns the client IP. Proxy headers are only trusted when the
// connection comes from a local address (a reverse proxy on the same host or
// docker network); otherwise they are client controlled and ignored.
func ReadUserIP(r *http.Request) (string, error) {
	ipAddr := r.RemoteAddr
	if IPIsLocal(ipAddr) {
		forwarded := r.Header.Get("X-Real-Ip")
		if forwarded == "" {
			forwarded = strings.TrimSpace(strings.Split(r.Header.Get("X-Forwarded-For"), ",")[0])
		}
		if forwarded == "" {
			return "localhost", nil
		}
		ipAddr = forwarded
	}

	if host, _, err := net.SplitHostPort(ipAddr); err == nil {
		ipAddr = host
	}

	if net.ParseIP(ipAddr) == nil {
		return "", fmt.Errorf("ip addr %s is invalid", ipAddr)
	}

	return ipAddr, nil
}
