package models

import (
	"fmt"
	"strings"
)

// Endpoint URIs have the form <scheme>://<common-name>/<type>. The broker
// itself is addressed as <scheme>:///server (empty authority).

const serverPath = "/server"

// EndpointURI builds the URI a session is bound to after login.
func EndpointURI(scheme, commonName, endpointType string) string {
	return fmt.Sprintf("%s://%s/%s", scheme, commonName, endpointType)
}

// ServerURI is the addressing form peers use to reach the broker.
func ServerURI(scheme string) string {
	return scheme + "://" + serverPath
}

// BrokerURI identifies this broker instance as a sender, seeded from the
// common name of the broker's own certificate.
func BrokerURI(scheme, commonName string) string {
	return EndpointURI(scheme, commonName, "server")
}

// IsServerTarget reports whether a target addresses the broker itself.
// Both <scheme>:///server and any <scheme>://<cn>/server form are accepted.
func IsServerTarget(target, scheme string) bool {
	if target == ServerURI(scheme) {
		return true
	}
	rest, ok := strings.CutPrefix(target, scheme+"://")
	if !ok {
		return false
	}
	return strings.HasSuffix(rest, serverPath)
}

// SplitEndpointURI returns the common name and type of an endpoint URI.
func SplitEndpointURI(uri string) (commonName, endpointType string, err error) {
	i := strings.Index(uri, "://")
	if i < 0 {
		return "", "", fmt.Errorf("malformed endpoint URI %q", uri)
	}
	rest := uri[i+3:]
	j := strings.IndexByte(rest, '/')
	if j < 0 {
		return "", "", fmt.Errorf("malformed endpoint URI %q: missing type segment", uri)
	}
	return rest[:j], rest[j+1:], nil
}
