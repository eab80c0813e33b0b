package ratelimitcore

import (
	"github.com/nsavage/ratelimitcore/backends"
	"github.com/nsavage/ratelimitcore/utils"
)

// validateKey checks that key is non-empty, at most 64 bytes, and built
// only from the allowed ASCII character set. Used to validate namespaces
// before they reach storage.
func validateKey(key string, keyType string) error {
	return utils.ValidateKey(key, keyType)
}

// Config is the RateLimiter's resolved configuration after every Option has
// run. Storage defaults to an in-memory Store (backends/memory) sized
// memory.DefaultCacheSize if no backend option is supplied.
type Config struct {
	Storage backends.CounterStorage
}
