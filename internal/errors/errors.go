// Package errors defines the structured errors of the bundling subsystem and
// a collector for failures that are tolerated item by item.
package errors

import (
	"sync"
)

// Collector gathers errors that were skipped rather than returned, such as
// unresolvable resources under a lenient policy.
type Collector struct {
	errs  []error
	mutex sync.RWMutex
}

// NewCollector creates a new error collector.
func NewCollector() *Collector {
	return &Collector{errs: make([]error, 0)}
}

// Add records err. Nil errors are ignored.
func (c *Collector) Add(err error) {
	if err == nil {
		return
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.errs = append(c.errs, err)
}

// Errors returns a copy of the collected errors.
func (c *Collector) Errors() []error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	result := make([]error, len(c.errs))
	copy(result, c.errs)
	return result
}

// HasErrors returns true if there are any errors.
func (c *Collector) HasErrors() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.errs) > 0
}

// ByKind returns the collected errors of one kind.
func (c *Collector) ByKind(kind Kind) []error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	var out []error
	for _, err := range c.errs {
		if IsKind(err, kind) {
			out = append(out, err)
		}
	}
	return out
}

// Clear clears all errors.
func (c *Collector) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.errs = c.errs[:0]
}
