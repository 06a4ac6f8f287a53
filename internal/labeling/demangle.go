package labeling

import (
	"strings"
	"sync"

	"github.com/ianlancetaylor/demangle"
)

// demangleCache memoizes demangling results. Binaries repeat mangled names
// heavily across functions, and demangling is the slow path of labeling.
type demangleCache struct {
	mu    sync.RWMutex
	names map[string]string
}

var cache = &demangleCache{names: make(map[string]string)}

// Demangle turns an Itanium-mangled symbol into a readable C++ name,
// returning the input unchanged when it is not mangled. Results are cached
// process-wide; the cache is safe for concurrent use.
func Demangle(mangled string) string {
	if !strings.HasPrefix(mangled, "_Z") {
		return mangled
	}

	cache.mu.RLock()
	if d, ok := cache.names[mangled]; ok {
		cache.mu.RUnlock()
		return d
	}
	cache.mu.RUnlock()

	d := demangle.Filter(mangled, demangle.NoClones)

	cache.mu.Lock()
	cache.names[mangled] = d
	cache.mu.Unlock()
	return d
}
