package notifier

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a Notifier for a webhook URL.
type Factory func(webhookURL string) Notifier

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a notifier factory available by name.
// It is typically called from an init() function in the adapter package.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("notifier: duplicate registration for %q", name))
	}
	factories[name] = factory
}

// FromURLs builds one notifier per non-empty webhook URL, keyed by provider
// name. Unknown provider names are an error.
func FromURLs(urls map[string]string) ([]Notifier, error) {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(urls))
	for name, url := range urls {
		if url != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]Notifier, 0, len(names))
	for _, name := range names {
		factory, ok := factories[name]
		if !ok {
			return nil, fmt.Errorf("notifier: unknown provider %q", name)
		}
		out = append(out, factory(urls[name]))
	}
	return out, nil
}
