package sched

import (
	"container/list"
	"sync"
)

// Cond is a FIFO-ordered condition variable. Tasks block in WaitCond
// and are released in the order they arrived.
type Cond struct {
	mu      sync.Mutex
	waiters list.List
}

// NewCond creates an empty condition variable.
func NewCond() *Cond { return &Cond{} }

func (c *Cond) enqueue() (chan struct{}, *list.Element) {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	el := c.waiters.PushBack(ch)
	c.mu.Unlock()
	return ch, el
}

func (c *Cond) remove(el *list.Element) {
	c.mu.Lock()
	c.waiters.Remove(el)
	c.mu.Unlock()
}

// Wake releases the single longest-waiting task blocked in WaitCond,
// if any.
func (c *Cond) Wake() {
	c.mu.Lock()
	front := c.waiters.Front()
	if front == nil {
		c.mu.Unlock()
		return
	}
	c.waiters.Remove(front)
	c.mu.Unlock()
	ch := front.Value.(chan struct{})
	select {
	case ch <- struct{}{}:
	default:
	}
}

// WakeAll releases every task currently blocked in WaitCond.
func (c *Cond) WakeAll() {
	c.mu.Lock()
	chans := make([]chan struct{}, 0, c.waiters.Len())
	for e := c.waiters.Front(); e != nil; e = e.Next() {
		chans = append(chans, e.Value.(chan struct{}))
	}
	c.waiters.Init()
	c.mu.Unlock()
	for _, ch := range chans {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
