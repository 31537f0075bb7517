package cache

import (
	"sort"
	"strings"
)

const keySeparator = "|"

// Key builds a cache key from the server identity, the resource and the
// request option flags. Flags are sorted so equal requests share a key.
func Key(server, resource string, flags map[string]string) string {
	parts := make([]string, 0, len(flags))
	for k, v := range flags {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return server + keySeparator + resource + keySeparator + strings.Join(parts, ",")
}

// ResourceOf returns the resource segment of key
func ResourceOf(key string) string {
	parts := strings.SplitN(key, keySeparator, 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
