package mesh

import "sync"

// Feed fans events out to subscribers synchronously, in subscription order.
type Feed[T any] struct {
	mu   sync.Mutex
	next uint64
	subs []feedSub[T]
}

type feedSub[T any] struct {
	id uint64
	fn func(T)
}

// Subscribe registers fn and returns a function removing it again.
func (f *Feed[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := f.next
	f.subs = append(f.subs, feedSub[T]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			for i, s := range f.subs {
				if s.id == id {
					f.subs = append(f.subs[:i:i], f.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (f *Feed[T]) Emit(v T) {
	f.mu.Lock()
	subs := f.subs
	f.mu.Unlock()
	for _, s := range subs {
		s.fn(v)
	}
}

func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
