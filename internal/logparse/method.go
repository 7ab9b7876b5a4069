package logparse

import (
	"strings"
)

var knownMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true, "DELETE": true,
	"CONNECT": true, "OPTIONS": true, "TRACE": true, "PATCH": true,
	"PROPFIND": true, "PROPPATCH": true, "MKCOL": true, "COPY": true,
	"MOVE": true, "LOCK": true, "UNLOCK": true,
}

// NormalizeMethod upper-cases known HTTP methods. Anything else, such as the
// binary garbage TLS probes leave in plain-HTTP logs, is returned unchanged.
func NormalizeMethod(method string) string {
	m := strings.TrimSpace(method)
	if upper := strings.ToUpper(m); knownMethods[upper] {
		return upper
	}
	return m
}

// IsKnownMethod reports whether method is a standard HTTP or WebDAV verb.
func IsKnownMethod(method string) bool {
	return knownMethods[strings.ToUpper(strings.TrimSpace(method))]
}

// StatusClass maps a status code to its class label ("2xx", "4xx", ...).
// Absent or out-of-range codes map to "unknown".
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return string(rune('0'+code/100)) + "xx"
}
