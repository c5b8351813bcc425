package goSession

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ClientResolver looks up a backing-store client by name. The empty name selects the
// default client.
type ClientResolver interface {
	Resolve(name string) (redis.UniversalClient, error)
}

// StaticResolver resolves names from a fixed map. The empty name resolves to the ""
// entry, or to the only entry when the map holds exactly one client.
type StaticResolver map[string]redis.UniversalClient

func (r StaticResolver) Resolve(name string) (redis.UniversalClient, error) {
	if c, ok := r[name]; ok && c != nil {
		return c, nil
	}
	if name == "" && len(r) == 1 {
		for _, c := range r {
			if c != nil {
				return c, nil
			}
		}
	}
	if name == "" {
		return nil, fmt.Errorf("%w: no default client", ErrNoStoreClient)
	}
	return nil, fmt.Errorf("%w: %q", ErrNoStoreClient, name)
}
