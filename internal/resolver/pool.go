package resolver

import "github.com/a-h/leaf/internal/pkgmodel"

// Pool is the ordered working list of package handles being resolved; on
// completion it is a topologically-sorted installation plan (dependencies
// before dependers). The resolve phase is single-threaded per spec, so Pool
// itself carries no internal locking.
type Pool struct {
	handles []*pkgmodel.Handle
}

// NewPool builds an empty pool.
func NewPool() *Pool {
	return &Pool{}
}

// Handles returns the pool's current order.
func (p *Pool) Handles() []*pkgmodel.Handle {
	return append([]*pkgmodel.Handle(nil), p.handles...)
}

// Find returns the pool entry with the given name, if any.
func (p *Pool) Find(name string) (*pkgmodel.Handle, bool) {
	for _, h := range p.handles {
		if h.Name() == name {
			return h, true
		}
	}
	return nil, false
}

// FindByHash returns the pool entry with the given hash, if any.
func (p *Pool) FindByHash(hash string) (*pkgmodel.Handle, bool) {
	for _, h := range p.handles {
		if h.Hash() == hash {
			return h, true
		}
	}
	return nil, false
}

// Push appends h to the end of the pool.
func (p *Pool) Push(h *pkgmodel.Handle) {
	p.handles = append(p.handles, h)
}

// Remove removes h from wherever it currently sits in the pool.
func (p *Pool) Remove(h *pkgmodel.Handle) {
	for i, e := range p.handles {
		if e == h {
			p.handles = append(p.handles[:i], p.handles[i+1:]...)
			return
		}
	}
}

// PullToEnd moves h to the end of the pool, guaranteeing its dependencies
// (already pushed earlier in this walk) precede it.
func (p *Pool) PullToEnd(h *pkgmodel.Handle) {
	p.Remove(h)
	p.Push(h)
}
