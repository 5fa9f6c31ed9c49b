/*
store.go - Persistence boundary for transfer application

PURPOSE:
  Defines the minimal store surface the engine needs: facility volume
  reads/writes and the append-only transfer-event audit table. Everything
  else a concrete store offers (saving facilities, measurements, constants)
  is implementation surface used by the API and seeding layers, not by the
  engine.

TRANSACTIONAL SEMANTICS:
  The store must support WithTx so the applier can make the idempotency
  check, the two volume mutations, and the audit insert one atomic unit.
  Implementations back this with a database transaction plus a UNIQUE index
  on (calc_date, source_code, destination_code); the in-memory store uses
  a snapshot-rollback under its write lock.

SEE ALSO:
  - apply.go: the consumer
  - store/sqlite, store/postgres: persistent implementations
  - hydro/store: in-memory implementation
*/
package hydro

import "context"

// Store is the persistence surface for facility volumes and the transfer
// audit table.
type Store interface {
	// Facility returns one facility by code, ErrFacilityNotFound when absent.
	Facility(ctx context.Context, code string) (*Facility, error)

	// Facilities returns every stored facility.
	Facilities(ctx context.Context) ([]Facility, error)

	// SetFacilityVolume updates a facility's current volume. Callers clamp;
	// the store persists what it is given.
	SetFacilityVolume(ctx context.Context, code string, v Volume) error

	// TransferApplied reports whether an event with the given idempotency
	// key already exists.
	TransferApplied(ctx context.Context, date Month, sourceCode, destinationCode string) (bool, error)

	// RecordTransfer appends an audit event. Returns a
	// DuplicateTransferError (unwrapping to ErrTransferAlreadyApplied)
	// when the key already exists.
	RecordTransfer(ctx context.Context, ev TransferEvent) error

	// TransfersForMonth lists the audit events for one calculation month.
	TransfersForMonth(ctx context.Context, date Month) ([]TransferEvent, error)
}

// TxStore is a Store that can run a function atomically. The Store handed
// to fn operates inside the transaction; returning an error rolls back.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
