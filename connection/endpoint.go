package connection

import (
	"fmt"
	"net/url"
	"strings"
)

// Endpoint normalizes raw into the websocket RPC endpoint of an EddyDB
// server: http becomes ws, https becomes wss, and the fixed /rpc path is
// appended when missing.
func Endpoint(raw string) (string, error) {
	return normalize(raw, "ws", "wss")
}

// HTTPEndpoint normalizes raw into the HTTP RPC endpoint: ws becomes http,
// wss becomes https, same /rpc suffix rule.
func HTTPEndpoint(raw string) (string, error) {
	return normalize(raw, "http", "https")
}

func normalize(raw, plain, secure string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = plain
	case "https", "wss":
		u.Scheme = secure
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidScheme, u.Scheme)
	}

	u.Path = strings.TrimSuffix(u.Path, "/")
	if !strings.HasSuffix(u.Path, "/rpc") {
		u.Path += "/rpc"
	}

	return u.String(), nil
}
