package middleware

import (
	"net/http"

	"github.com/2beens/gymweb/pkg"

	log "github.com/sirupsen/logrus"
)

const unknownClientIP = "unknown"

func clientIP(r *http.Request) string {
	ip, err := pkg.ReadUserIP(r)
	if err != nil {
		log.Debugf("client ip: %s", err)
		return unknownClientIP
	}
	return ip
}
