package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/chatrelay/chatrelay/internal/message"
)

type memoryContext struct {
	inbound   []*message.InboundMessage
	inboundAt []time.Time
	outbound  []OutboundRecord
}

// MemoryRegistry is the single-instance registry backed by process memory.
// Safe for concurrent callers; every append takes the registry lock.
type MemoryRegistry struct {
	mu         sync.RWMutex
	contexts   map[message.AccountKey]*memoryContext
	maxRecords int
	now        func() time.Time
}

// NewMemoryRegistry creates an in-memory registry with the given
// per-direction record cap.
func NewMemoryRegistry(maxRecords int) *MemoryRegistry {
	if maxRecords < 0 {
		maxRecords = 0
	}
	return &MemoryRegistry{
		contexts:   map[message.AccountKey]*memoryContext{},
		maxRecords: maxRecords,
		now:        time.Now,
	}
}

// MaxRecords returns the per-direction history cap.
func (r *MemoryRegistry) MaxRecords() int {
	return r.maxRecords
}

// Get returns a copied snapshot of the context for key.
func (r *MemoryRegistry) Get(_ context.Context, key message.AccountKey) (Context, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := Context{Key: key}
	mc, ok := r.contexts[key]
	if !ok {
		return snapshot, nil
	}
	snapshot.Inbound = append([]*message.InboundMessage(nil), mc.inbound...)
	snapshot.Outbound = append([]OutboundRecord(nil), mc.outbound...)
	return snapshot, nil
}

// AppendInbound records a request for key, evicting the oldest entry when
// the cap is exceeded.
func (r *MemoryRegistry) AppendInbound(_ context.Context, key message.AccountKey, msg *message.InboundMessage) error {
	if r.maxRecords == 0 || msg == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	mc := r.context(key)
	mc.inbound = append(mc.inbound, msg)
	mc.inboundAt = append(mc.inboundAt, r.now())
	for len(mc.inbound) > r.maxRecords {
		mc.inbound = mc.inbound[1:]
		mc.inboundAt = mc.inboundAt[1:]
	}
	return nil
}

// AppendOutbound records a reply for key, evicting the oldest entry when
// the cap is exceeded.
func (r *MemoryRegistry) AppendOutbound(_ context.Context, key message.AccountKey, reply message.Reply) error {
	if r.maxRecords == 0 || reply == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	mc := r.context(key)
	mc.outbound = append(mc.outbound, OutboundRecord{
		Kind:       reply.Kind(),
		Header:     *reply.Header(),
		RecordedAt: r.now(),
	})
	for len(mc.outbound) > r.maxRecords {
		mc.outbound = mc.outbound[1:]
	}
	return nil
}

// LastInbound returns the newest recorded request for key, or nil.
func (r *MemoryRegistry) LastInbound(_ context.Context, key message.AccountKey) (*message.InboundMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mc, ok := r.contexts[key]
	if !ok || len(mc.inbound) == 0 {
		return nil, nil
	}
	return mc.inbound[len(mc.inbound)-1], nil
}

// DeleteOlderThan drops entries recorded before cutoff. Contexts left empty
// are removed from the map.
func (r *MemoryRegistry) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for key, mc := range r.contexts {
		kept := 0
		for i, at := range mc.inboundAt {
			if at.Before(cutoff) {
				continue
			}
			mc.inbound[kept] = mc.inbound[i]
			mc.inboundAt[kept] = mc.inboundAt[i]
			kept++
		}
		removed += int64(len(mc.inbound) - kept)
		mc.inbound = mc.inbound[:kept]
		mc.inboundAt = mc.inboundAt[:kept]

		keptOut := mc.outbound[:0]
		for _, rec := range mc.outbound {
			if rec.RecordedAt.Before(cutoff) {
				removed++
				continue
			}
			keptOut = append(keptOut, rec)
		}
		mc.outbound = keptOut
		if len(mc.inbound) == 0 && len(mc.outbound) == 0 {
			delete(r.contexts, key)
		}
	}
	return removed, nil
}

func (r *MemoryRegistry) context(key message.AccountKey) *memoryContext {
	mc, ok := r.contexts[key]
	if !ok {
		mc = &memoryContext{}
		r.contexts[key] = mc
	}
	return mc
}
