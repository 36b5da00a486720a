// Package bufferpool mediates between durable page files (diskio) and
// in-memory access. It caps resident frames, pins frames in use, and
// evicts unpinned frames in LRU order, flushing dirty ones first.
package bufferpool

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"lstore/diskio"
	"lstore/page"
)

// ErrPoolExhausted is returned by Get/NewPage when the pool is still
// full after exhaustedRetryLimit yield-and-retry attempts, per
// spec.md §4.3's "caller retries after yielding" and §7's "internal
// resource pressure... yields and retries. Never surfaced" — Get and
// NewPage absorb the yield loop themselves, so frames that are
// released within the retry window do not surface this error to a
// Table/PageRange caller; frames that stay pinned longer than that do.
var ErrPoolExhausted = errors.New("bufferpool: exhausted, all frames pinned")

// exhaustedRetryLimit bounds how many times Get/NewPage yield and
// retry before giving up and returning ErrPoolExhausted after all,
// mirroring txn.Transaction.Run's jittered-backoff retry loop for the
// same "internal contention, not a real failure" reason.
const exhaustedRetryLimit = 20

// Frame is a borrowed, pinned handle to a page image. Callers must
// call Pool.Release exactly once per successful Get.
type Frame struct {
	ID   page.ID
	Page *page.Page
}

type frameEntry struct {
	frame    *Frame
	pinCount int
}

// Pool is a fixed-capacity cache of page frames keyed by page.ID.
type Pool struct {
	capacity int
	disk     *diskio.Manager
	log      *logrus.Logger

	mu          sync.Mutex
	frames      map[page.ID]*frameEntry
	accessOrder []page.ID // least-recently-used at index 0
}

// New returns a buffer pool with room for capacity resident frames,
// backed by disk for misses and eviction flushes.
func New(capacity int, disk *diskio.Manager, log *logrus.Logger) *Pool {
	if log == nil {
		log = logrus.New()
	}
	return &Pool{
		capacity: capacity,
		disk:     disk,
		log:      log,
		frames:   make(map[page.ID]*frameEntry),
	}
}

func (p *Pool) lock()   { p.mu.Lock() }
func (p *Pool) unlock() { p.mu.Unlock() }

// Get pins and returns the frame for id, loading it from disk on miss.
// If the pool is full and nothing can be evicted, it yields and
// retries rather than failing the caller immediately; ErrPoolExhausted
// only escapes after exhaustedRetryLimit attempts still find every
// frame pinned.
func (p *Pool) Get(id page.ID) (*Frame, error) {
	for attempt := 0; ; attempt++ {
		frame, err := p.getOnce(id)
		if !errors.Is(err, ErrPoolExhausted) {
			return frame, err
		}
		if attempt >= exhaustedRetryLimit {
			return nil, err
		}
		p.log.WithField("page", id.String()).Debug("bufferpool: exhausted, yielding and retrying")
		time.Sleep(time.Duration(1+rand.Intn(3)) * time.Millisecond)
	}
}

func (p *Pool) getOnce(id page.ID) (*Frame, error) {
	p.lock()
	defer p.unlock()

	if entry, ok := p.frames[id]; ok {
		entry.pinCount++
		p.touch(id)
		p.log.WithFields(logrus.Fields{"page": id.String(), "table": id.Table}).Debug("bufferpool: hit")
		return entry.frame, nil
	}

	p.log.WithFields(logrus.Fields{"page": id.String(), "table": id.Table}).Debug("bufferpool: miss")

	if len(p.frames) >= p.capacity {
		if !p.evictLocked() {
			return nil, ErrPoolExhausted
		}
	}

	pg, err := p.disk.ReadPage(id)
	if err != nil {
		return nil, fmt.Errorf("bufferpool: load %s: %w", id, err)
	}

	frame := &Frame{ID: id, Page: pg}
	p.frames[id] = &frameEntry{frame: frame, pinCount: 1}
	p.accessOrder = append(p.accessOrder, id)
	return frame, nil
}

// NewPage installs a brand-new, empty page under id, pinned for the
// caller. Used when PageRange allocates a fresh base or tail page. It
// yields and retries on pool exhaustion exactly like Get.
func (p *Pool) NewPage(id page.ID) (*Frame, error) {
	for attempt := 0; ; attempt++ {
		frame, err := p.newPageOnce(id)
		if !errors.Is(err, ErrPoolExhausted) {
			return frame, err
		}
		if attempt >= exhaustedRetryLimit {
			return nil, err
		}
		p.log.WithField("page", id.String()).Debug("bufferpool: exhausted, yielding and retrying")
		time.Sleep(time.Duration(1+rand.Intn(3)) * time.Millisecond)
	}
}

func (p *Pool) newPageOnce(id page.ID) (*Frame, error) {
	p.lock()
	defer p.unlock()

	if _, ok := p.frames[id]; ok {
		return nil, fmt.Errorf("bufferpool: page %s already resident", id)
	}

	if len(p.frames) >= p.capacity {
		if !p.evictLocked() {
			return nil, ErrPoolExhausted
		}
	}

	frame := &Frame{ID: id, Page: page.New()}
	p.frames[id] = &frameEntry{frame: frame, pinCount: 1}
	p.accessOrder = append(p.accessOrder, id)
	return frame, nil
}

// Release unpins a frame previously returned by Get or NewPage.
func (p *Pool) Release(id page.ID) {
	p.lock()
	defer p.unlock()

	entry, ok := p.frames[id]
	if !ok {
		return
	}
	if entry.pinCount > 0 {
		entry.pinCount--
	}
	p.touch(id)
}

// FlushAll writes every dirty resident frame to disk.
func (p *Pool) FlushAll() error {
	p.lock()
	defer p.unlock()

	for id, entry := range p.frames {
		if err := p.flushLocked(id, entry); err != nil {
			return err
		}
	}
	return nil
}

// Resident reports the current number of cached frames; used by tests
// to verify the capacity invariant (spec.md §8 property 7).
func (p *Pool) Resident() int {
	p.lock()
	defer p.unlock()
	return len(p.frames)
}

func (p *Pool) flushLocked(id page.ID, entry *frameEntry) error {
	if !entry.frame.Page.IsDirty() {
		return nil
	}
	if err := p.disk.WritePage(id, entry.frame.Page); err != nil {
		return fmt.Errorf("bufferpool: flush %s: %w", id, err)
	}
	entry.frame.Page.ClearDirty()
	p.log.WithFields(logrus.Fields{"page": id.String(), "table": id.Table}).Debug("bufferpool: flush")
	return nil
}

// evictLocked evicts the least-recently-used unpinned frame. Reports
// whether it freed a slot.
func (p *Pool) evictLocked() bool {
	for i, id := range p.accessOrder {
		entry, ok := p.frames[id]
		if !ok {
			p.accessOrder = append(p.accessOrder[:i], p.accessOrder[i+1:]...)
			return p.evictLocked()
		}
		if entry.pinCount > 0 {
			continue
		}
		if err := p.flushLocked(id, entry); err != nil {
			p.log.WithError(err).WithField("page", id.String()).Error("bufferpool: eviction flush failed")
			continue
		}
		p.log.WithFields(logrus.Fields{"page": id.String(), "table": id.Table}).Debug("bufferpool: evict")
		delete(p.frames, id)
		p.accessOrder = append(p.accessOrder[:i], p.accessOrder[i+1:]...)
		return true
	}
	return false
}

// touch moves id to the most-recently-used end of accessOrder.
func (p *Pool) touch(id page.ID) {
	for i, cur := range p.accessOrder {
		if cur == id {
			p.accessOrder = append(p.accessOrder[:i], p.accessOrder[i+1:]...)
			break
		}
	}
	p.accessOrder = append(p.accessOrder, id)
}
