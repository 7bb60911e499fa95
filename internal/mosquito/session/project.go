package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownSession   = errors.New("session: unknown session")
	ErrDuplicateSession = errors.New("session: duplicate session name")
	ErrNoSelection      = errors.New("session: no session selected")
)

// Project holds the sessions of one experiment and tracks which one is
// selected for interactive work.
type Project struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	selected string
}

// NewProject creates an empty project.
func NewProject() *Project {
	return &Project{sessions: make(map[string]*Session)}
}

// Add registers s. The first session added becomes the selection.
func (p *Project) Add(s *Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.sessions[s.Name()]; ok {
		return fmt.Errorf("add %q: %w", s.Name(), ErrDuplicateSession)
	}
	p.sessions[s.Name()] = s
	if p.selected == "" {
		p.selected = s.Name()
	}
	return nil
}

// Remove drops a session, stopping any pass it is running. Removing the
// selected session clears the selection.
func (p *Project) Remove(name string) error {
	p.mu.Lock()
	s, ok := p.sessions[name]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("remove %q: %w", name, ErrUnknownSession)
	}
	delete(p.sessions, name)
	if p.selected == name {
		p.selected = ""
	}
	p.mu.Unlock()

	s.Stop()
	s.Wait()
	return nil
}

// Get returns the named session.
func (p *Project) Get(name string) (*Session, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sessions[name]
	if !ok {
		return nil, fmt.Errorf("get %q: %w", name, ErrUnknownSession)
	}
	return s, nil
}

// Select makes name the selected session.
func (p *Project) Select(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.sessions[name]; !ok {
		return fmt.Errorf("select %q: %w", name, ErrUnknownSession)
	}
	p.selected = name
	return nil
}

// Selected returns the selected session.
func (p *Project) Selected() (*Session, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.selected == "" {
		return nil, ErrNoSelection
	}
	return p.sessions[p.selected], nil
}

// Names returns the session names in sorted order.
func (p *Project) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.sessions))
	for n := range p.sessions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
