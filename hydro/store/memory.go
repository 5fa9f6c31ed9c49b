// Package store provides in-memory Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/sitewater/balance-engine/hydro"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	facilities map[string]hydro.Facility
	events     map[eventKey]hydro.TransferEvent
}

type eventKey struct {
	Date        hydro.Month
	Source      string
	Destination string
}

func NewMemory() *Memory {
	return &Memory{
		facilities: make(map[string]hydro.Facility),
		events:     make(map[eventKey]hydro.TransferEvent),
	}
}

// NewMemoryWithFacilities seeds a store for tests and demo scenarios.
func NewMemoryWithFacilities(fs ...hydro.Facility) *Memory {
	m := NewMemory()
	for _, f := range fs {
		m.facilities[f.Code] = f
	}
	return m
}

// SaveFacility inserts or replaces a facility record.
func (m *Memory) SaveFacility(_ context.Context, f hydro.Facility) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facilities[f.Code] = f
	return nil
}

func (m *Memory) Facility(_ context.Context, code string) (*hydro.Facility, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.facilityLocked(code)
}

func (m *Memory) Facilities(_ context.Context) ([]hydro.Facility, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.facilitiesLocked(), nil
}

func (m *Memory) SetFacilityVolume(_ context.Context, code string, v hydro.Volume) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setVolumeLocked(code, v)
}

func (m *Memory) TransferApplied(_ context.Context, date hydro.Month, sourceCode, destinationCode string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transferAppliedLocked(date, sourceCode, destinationCode), nil
}

func (m *Memory) RecordTransfer(_ context.Context, ev hydro.TransferEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordLocked(ev)
}

func (m *Memory) TransfersForMonth(_ context.Context, date hydro.Month) ([]hydro.TransferEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transfersLocked(date), nil
}

func (m *Memory) facilityLocked(code string) (*hydro.Facility, error) {
	f, ok := m.facilities[code]
	if !ok {
		return nil, hydro.ErrFacilityNotFound
	}
	out := f
	return &out, nil
}

func (m *Memory) facilitiesLocked() []hydro.Facility {
	out := make([]hydro.Facility, 0, len(m.facilities))
	for _, f := range m.facilities {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (m *Memory) setVolumeLocked(code string, v hydro.Volume) error {
	f, ok := m.facilities[code]
	if !ok {
		return hydro.ErrFacilityNotFound
	}
	f.CurrentVolume = v
	m.facilities[code] = f
	return nil
}

func (m *Memory) transferAppliedLocked(date hydro.Month, src, dst string) bool {
	_, ok := m.events[eventKey{Date: date, Source: src, Destination: dst}]
	return ok
}

func (m *Memory) recordLocked(ev hydro.TransferEvent) error {
	k := eventKey{Date: ev.CalcDate, Source: ev.SourceCode, Destination: ev.DestinationCode}
	if _, dup := m.events[k]; dup {
		return &hydro.DuplicateTransferError{
			CalcDate:        ev.CalcDate,
			SourceCode:      ev.SourceCode,
			DestinationCode: ev.DestinationCode,
		}
	}
	m.events[k] = ev
	return nil
}

func (m *Memory) transfersLocked(date hydro.Month) []hydro.TransferEvent {
	var out []hydro.TransferEvent
	for k, ev := range m.events {
		if k.Date == date {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceCode != out[j].SourceCode {
			return out[i].SourceCode < out[j].SourceCode
		}
		return out[i].DestinationCode < out[j].DestinationCode
	})
	return out
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// NewTxMemoryWithFacilities seeds a transactional store.
func NewTxMemoryWithFacilities(fs ...hydro.Facility) *TxMemory {
	return &TxMemory{Memory: NewMemoryWithFacilities(fs...)}
}

// WithTx executes fn within a transaction.
// For the memory store this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(hydro.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	facCopy := make(map[string]hydro.Facility, len(tm.facilities))
	for k, v := range tm.facilities {
		facCopy[k] = v
	}
	evCopy := make(map[eventKey]hydro.TransferEvent, len(tm.events))
	for k, v := range tm.events {
		evCopy[k] = v
	}
	return memorySnapshot{facilities: facCopy, events: evCopy}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.facilities = s.facilities
	tm.events = s.events
}

type memorySnapshot struct {
	facilities map[string]hydro.Facility
	events     map[eventKey]hydro.TransferEvent
}

// txMemoryView routes Store calls to the parent's locked helpers; the
// parent's write lock is held for the whole transaction.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) Facility(_ context.Context, code string) (*hydro.Facility, error) {
	return tv.parent.facilityLocked(code)
}

func (tv *txMemoryView) Facilities(_ context.Context) ([]hydro.Facility, error) {
	return tv.parent.facilitiesLocked(), nil
}

func (tv *txMemoryView) SetFacilityVolume(_ context.Context, code string, v hydro.Volume) error {
	return tv.parent.setVolumeLocked(code, v)
}

func (tv *txMemoryView) TransferApplied(_ context.Context, date hydro.Month, src, dst string) (bool, error) {
	return tv.parent.transferAppliedLocked(date, src, dst), nil
}

func (tv *txMemoryView) RecordTransfer(_ context.Context, ev hydro.TransferEvent) error {
	return tv.parent.recordLocked(ev)
}

func (tv *txMemoryView) TransfersForMonth(_ context.Context, date hydro.Month) ([]hydro.TransferEvent, error) {
	return tv.parent.transfersLocked(date), nil
}
