package ttl

import (
	"container/heap"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

const shardCount = 32

// Options configures a Store.
type Options[V any] struct {
	// TTL is the fixed lifetime of a record, counted from its last write.
	TTL time.Duration
	// OnEvict runs once for every record removed by expiry. It is not called
	// for explicit Delete calls.
	OnEvict func(key string, value V)
	// Now overrides the clock; tests only.
	Now func() time.Time
}

type entry[V any] struct {
	value   V
	expires time.Time
	gen     uint64
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]entry[V]
}

// Store is a concurrent map whose records expire a fixed time after they were
// last written. Reads never extend a record's lifetime.
type Store[V any] struct {
	ttl     time.Duration
	now     func() time.Time
	onEvict func(string, V)
	shards  [shardCount]*shard[V]
	gen     atomic.Uint64

	sched *scheduler

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Store and starts its expiry goroutine. Call Close to stop it.
func New[V any](opts Options[V]) *Store[V] {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Store[V]{
		ttl:     opts.TTL,
		now:     now,
		onEvict: opts.OnEvict,
		sched:   newScheduler(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &shard[V]{items: make(map[string]entry[V])}
	}
	go s.run()
	return s
}

// Put inserts or overwrites key and arms its expiry at now+TTL.
func (s *Store[V]) Put(key string, value V) {
	sh := s.shard(key)
	sh.mu.Lock()
	e := s.newEntry(value)
	sh.items[key] = e
	sh.mu.Unlock()
	s.schedule(key, e)
}

// Get returns the value for key. The second result is false when the key is
// absent or its lifetime has elapsed.
func (s *Store[V]) Get(key string) (V, bool) {
	sh := s.shard(key)
	sh.mu.RLock()
	e, ok := sh.items[key]
	sh.mu.RUnlock()
	if !ok || !s.now().Before(e.expires) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Replace overwrites key only if a live record exists. Writes to expired or
// deleted keys are dropped and reported as false.
func (s *Store[V]) Replace(key string, value V) bool {
	return s.Update(key, func(V) (V, bool) { return value, true })
}

// Update atomically applies fn to the live value of key. The record is
// rewritten only when fn returns true.
func (s *Store[V]) Update(key string, fn func(current V) (V, bool)) bool {
	sh := s.shard(key)
	sh.mu.Lock()
	cur, ok := sh.items[key]
	if !ok || !s.now().Before(cur.expires) {
		sh.mu.Unlock()
		return false
	}
	next, write := fn(cur.value)
	if !write {
		sh.mu.Unlock()
		return false
	}
	e := s.newEntry(next)
	sh.items[key] = e
	sh.mu.Unlock()
	s.schedule(key, e)
	return true
}

// Amend overwrites a live record but keeps its original deadline.
func (s *Store[V]) Amend(key string, value V) bool {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	cur, ok := sh.items[key]
	if !ok || !s.now().Before(cur.expires) {
		return false
	}
	cur.value = value
	sh.items[key] = cur
	return true
}

// Delete removes key without running the eviction callback.
func (s *Store[V]) Delete(key string) {
	sh := s.shard(key)
	sh.mu.Lock()
	e, ok := sh.items[key]
	delete(sh.items, key)
	sh.mu.Unlock()
	if ok {
		s.sched.cancel(key, e.gen)
	}
}

// Range calls fn for every live record until fn returns false.
func (s *Store[V]) Range(fn func(key string, value V) bool) {
	now := s.now()
	for _, sh := range s.shards {
		sh.mu.RLock()
		live := make(map[string]V, len(sh.items))
		for k, e := range sh.items {
			if now.Before(e.expires) {
				live[k] = e.value
			}
		}
		sh.mu.RUnlock()
		for k, v := range live {
			if !fn(k, v) {
				return
			}
		}
	}
}

// Len returns the number of stored records, including expired ones that
// have not been swept yet.
func (s *Store[V]) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.items)
		sh.mu.RUnlock()
	}
	return n
}

// Close stops the expiry goroutine. Records stay readable until they expire.
func (s *Store[V]) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Store[V]) newEntry(value V) entry[V] {
	return entry[V]{
		value:   value,
		expires: s.now().Add(s.ttl),
		gen:     s.gen.Add(1),
	}
}

func (s *Store[V]) shard(key string) *shard[V] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

func (s *Store[V]) schedule(key string, e entry[V]) {
	if s.sched.push(key, e.expires, e.gen) {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

func (s *Store[V]) run() {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		if at, ok := s.sched.peek(); ok {
			d := at.Sub(s.now())
			if d < 0 {
				d = 0
			}
			timer.Reset(d)
		}
		select {
		case <-s.done:
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
		s.expire()
	}
}

// expire removes every record whose deadline has passed.
func (s *Store[V]) expire() {
	now := s.now()
	for _, d := range s.sched.popDue(now) {
		sh := s.shard(d.key)
		sh.mu.Lock()
		e, ok := sh.items[d.key]
		if !ok || e.gen != d.gen || now.Before(e.expires) {
			sh.mu.Unlock()
			continue
		}
		delete(sh.items, d.key)
		sh.mu.Unlock()
		if s.onEvict != nil {
			s.onEvict(d.key, e.value)
		}
	}
}

type deadline struct {
	key   string
	at    time.Time
	gen   uint64
	index int
}

type deadlineHeap []*deadline

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlineHeap) Push(x any) {
	d := x.(*deadline)
	d.index = len(*h)
	*h = append(*h, d)
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	d := old[n-1]
	old[n-1] = nil
	d.index = -1
	*h = old[:n-1]
	return d
}

// scheduler keeps at most one deadline per key, always the newest write.
type scheduler struct {
	mu    sync.Mutex
	heap  deadlineHeap
	byKey map[string]*deadline
}

func newScheduler() *scheduler {
	return &scheduler{byKey: make(map[string]*deadline)}
}

// push records a deadline and reports whether it became the earliest one.
func (s *scheduler) push(key string, at time.Time, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.byKey[key]; ok {
		if d.gen > gen {
			return false
		}
		d.at = at
		d.gen = gen
		heap.Fix(&s.heap, d.index)
	} else {
		d := &deadline{key: key, at: at, gen: gen}
		heap.Push(&s.heap, d)
		s.byKey[key] = d
	}
	return s.heap[0].key == key
}

func (s *scheduler) cancel(key string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byKey[key]
	if !ok || d.gen != gen {
		return
	}
	heap.Remove(&s.heap, d.index)
	delete(s.byKey, key)
}

func (s *scheduler) peek() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.heap) == 0 {
		return time.Time{}, false
	}
	return s.heap[0].at, true
}

func (s *scheduler) popDue(now time.Time) []deadline {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []deadline
	for len(s.heap) > 0 && !now.Before(s.heap[0].at) {
		d := heap.Pop(&s.heap).(*deadline)
		delete(s.byKey, d.key)
		due = append(due, *d)
	}
	return due
}
