package devices

import (
	"bytes"
	"sync"
)

// Console is a single shared input/output device that reserved file
// descriptors 0/1/2 read and write through. Real keyboard/serial
// interrupt plumbing is out of scope; this just buffers bytes.
type Console struct {
	mu  sync.Mutex
	in  bytes.Buffer
	out bytes.Buffer
}

func NewConsole() *Console { return &Console{} }

// Feed appends bytes as if typed at the keyboard, for tests driving stdin.
func (c *Console) Feed(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in.Write(p)
}

// Read implements the read half of FD 0.
func (c *Console) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.in.Read(p)
}

// Write implements the write half of FD 1/2.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(p)
}

// Written returns everything written so far, for tests to assert on.
func (c *Console) Written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.out.Bytes()...)
}
