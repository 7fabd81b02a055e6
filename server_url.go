package main

import (
	"net"
	"strings"
)

// listenerURLs returns human-friendly HTTP and websocket URLs for the
// configured listener address, substituting localhost for wildcard hosts so
// the startup log always shows something reachable.
func listenerURLs(address string, tlsEnabled bool) (httpURL, wsURL string) {
	httpScheme, wsScheme := "http", "ws"
	if tlsEnabled {
		httpScheme, wsScheme = "https", "wss"
	}
	hostPort := normaliseHostPort(address)
	return httpScheme + "://" + hostPort, wsScheme + "://" + hostPort + "/ws"
}

func normaliseHostPort(address string) string {
	trimmed := strings.TrimSpace(address)
	switch {
	case trimmed == "":
		return "localhost"
	case strings.HasPrefix(trimmed, ":"):
		return "localhost" + trimmed
	}
	host, port, err := net.SplitHostPort(trimmed)
	if err != nil {
		return trimmed
	}
	switch strings.TrimSpace(host) {
	case "", "0.0.0.0", "::", "[::]":
		host = "localhost"
	default:
		host = strings.TrimSpace(host)
	}
	return net.JoinHostPort(host, port)
}
