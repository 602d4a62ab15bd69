package vulkan

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
)

type LockGroup string

const (
	ResourceManagement        LockGroup = "resource_management"
	CommandPoolManagement     LockGroup = "command_pool_management"
	DescriptorManagement      LockGroup = "descriptor_management"
	QueueManagement           LockGroup = "queue_management"
	SynchronizationManagement LockGroup = "synchronization_management"
)

// LockPool hands out one mutex per group of externally synchronized Vulkan
// objects. Command pools, descriptor pools and queues must not be used from
// two goroutines at once.
type LockPool struct {
	mu    sync.Mutex
	locks map[LockGroup]*sync.Mutex
}

func NewLockPool() *LockPool {
	return &LockPool{locks: make(map[LockGroup]*sync.Mutex)}
}

func (lp *LockPool) lock(group LockGroup) *sync.Mutex {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	l, ok := lp.locks[group]
	if !ok {
		l = &sync.Mutex{}
		lp.locks[group] = l
	}
	return l
}

// SafeCall runs fn holding the lock of group.
func (lp *LockPool) SafeCall(group LockGroup, fn func() error) error {
	l := lp.lock(group)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// registry maps the opaque handles given out through gpu.Device to the
// binding's own objects.
type registry struct {
	mu      sync.RWMutex
	next    gpu.Handle
	objects map[gpu.Handle]any
}

func newRegistry() *registry {
	return &registry{objects: make(map[gpu.Handle]any)}
}

func (r *registry) add(obj any) gpu.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.objects[r.next] = obj
	return r.next
}

func (r *registry) remove(h gpu.Handle) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.objects[h]
	delete(r.objects, h)
	return obj, ok
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}

func lookup[T any](r *registry, h gpu.Handle) (T, error) {
	r.mu.RLock()
	obj, ok := r.objects[h]
	r.mu.RUnlock()

	v, isT := obj.(T)
	if !ok || !isT {
		var zero T
		return zero, fmt.Errorf("unknown %T handle %d", zero, h)
	}
	return v, nil
}

// take removes h and returns its object when it has type T. Handles of
// another type stay registered.
func take[T any](r *registry, h gpu.Handle) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.objects[h].(T)
	if ok {
		delete(r.objects, h)
	}
	return v, ok
}
