package credstore

import "sync"

// Flags is the session-lifetime flag storage. Values never outlive the
// process.
type Flags struct {
	mu sync.Mutex
	m  map[string]string
}

func NewFlags() *Flags {
	return &Flags{m: make(map[string]string)}
}

func (f *Flags) Get(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.m[name]
	return v, ok
}

func (f *Flags) Set(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[name] = value
}

func (f *Flags) Delete(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.m, name)
}

// Take returns the value and removes it in one step.
func (f *Flags) Take(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.m[name]
	delete(f.m, name)
	return v, ok
}
