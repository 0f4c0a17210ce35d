// Package sessionpool supplies each Task with an isolated browser+HTTP
// session (§4.2): a bounded set of slots, each reserving a TCP port and a
// scratch user-data directory, acquired by scanning for the first
// non-running slot.
package sessionpool

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/marketorder/gateway/internal/apperr"
)

// Slot is one pool reservation: a port the browser will listen its
// debugging protocol on, and a scratch profile directory.
type slot struct {
	port      int
	userData  string
	running   bool
}

// Pool is the process-wide bounded set of session slots.
type Pool struct {
	mu       sync.Mutex
	slots    []*slot
	startPort int
}

// New scans startPort upward for n available ports, wipes/creates n scratch
// user-data directories under baseDir, and returns the resulting Pool. n
// should be >= handlers_count per §4.2.
func New(n int, startPort int, baseDir string) (*Pool, error) {
	if err := os.RemoveAll(baseDir); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("wipe session base dir: %w", err)
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create session base dir: %w", err)
	}

	p := &Pool{startPort: startPort}
	port := startPort
	for i := 0; i < n; i++ {
		for {
			if portAvailable(port) {
				break
			}
			port++
		}
		dir := filepath.Join(baseDir, fmt.Sprintf("slot-%d", i))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create slot dir %s: %w", dir, err)
		}
		p.slots = append(p.slots, &slot{port: port, userData: dir})
		port++
	}
	return p, nil
}

func portAvailable(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// acquire returns the first non-running slot under the pool mutex, marking
// it running. Returns apperr.SessionError (Unavailable) if every slot is
// busy.
func (p *Pool) acquire() (*slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.slots {
		if !s.running {
			s.running = true
			return s, nil
		}
	}
	return nil, apperr.SessionError.WithDetail("no session slots available")
}

func (p *Pool) release(s *slot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s.running = false
}

// Len reports the configured slot count.
func (p *Pool) Len() int { return len(p.slots) }
