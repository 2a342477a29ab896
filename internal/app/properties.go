package app

import (
	"maps"
	"strings"
)

// EnvironmentProperties turns environment entries carrying prefix into
// system properties: MGMTCORE_PROP_HTTP_PORT=8080 with prefix
// "MGMTCORE_PROP_" becomes http.port=8080.
func EnvironmentProperties(prefix string, environ []string) map[string]string {
	props := make(map[string]string)
	if prefix == "" {
		return props
	}
	for _, e := range environ {
		pair := strings.SplitN(e, "=", 2)
		if len(pair) != 2 || !strings.HasPrefix(pair[0], prefix) {
			continue
		}
		name := strings.TrimPrefix(pair[0], prefix)
		if name == "" {
			continue
		}
		props[strings.ToLower(strings.ReplaceAll(name, "_", "."))] = pair[1]
	}
	return props
}

// mergeProperties returns the union of layers; later layers win.
func mergeProperties(layers ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, l := range layers {
		maps.Copy(out, l)
	}
	return out
}
