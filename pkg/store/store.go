// Package store implements the patient record store on top of the durable
// counter and the durable ordered map.
//
// Every operation runs to completion before the next one starts. The store
// holds no state of its own beyond its handles; the map owns the persisted
// records and the counter owns the id sequence.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/KevoDB/healthrec/pkg/cell"
	"github.com/KevoDB/healthrec/pkg/common/log"
	"github.com/KevoDB/healthrec/pkg/record"
	"github.com/KevoDB/healthrec/pkg/stablemap"
	"github.com/KevoDB/healthrec/pkg/stats"
	"github.com/KevoDB/healthrec/pkg/telemetry"
)

// Store is the patient record store
type Store struct {
	mu            sync.Mutex
	counter       *cell.Counter
	records       *stablemap.Map
	maxRecordSize int
	fault         error

	clock   func() time.Time
	logger  log.Logger
	tel     telemetry.Telemetry
	metrics Metrics
	stats   stats.Collector
}

// Option configures a Store
type Option func(*Store)

// WithClock sets the time source used for CreatedAt and UpdatedAt
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// WithLogger sets the logger used by the store
func WithLogger(logger log.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithTelemetry enables spans and metrics for every operation
func WithTelemetry(tel telemetry.Telemetry) Option {
	return func(s *Store) {
		if tel != nil {
			s.tel = tel
			s.metrics = NewMetrics(tel)
		}
	}
}

// WithStats sets the statistics collector updated by every operation
func WithStats(collector stats.Collector) Option {
	return func(s *Store) {
		s.stats = collector
	}
}

// WithMaxRecordSize lowers the encoded record bound below the map's value bound
func WithMaxRecordSize(n int) Option {
	return func(s *Store) {
		s.maxRecordSize = n
	}
}

// New creates a store over an id counter and a record map
func New(counter *cell.Counter, records *stablemap.Map, opts ...Option) (*Store, error) {
	if counter == nil || records == nil {
		return nil, errors.New("store requires a counter and a record map")
	}

	s := &Store{
		counter:       counter,
		records:       records,
		maxRecordSize: int(records.MaxValueSize()),
		clock:         time.Now,
		logger:        log.GetDefaultLogger(),
		tel:           telemetry.NewNoop(),
		metrics:       NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("component", telemetry.ComponentStore)

	if s.maxRecordSize <= 0 || s.maxRecordSize > int(records.MaxValueSize()) {
		return nil, fmt.Errorf("max record size %d must be in (0, %d]", s.maxRecordSize, records.MaxValueSize())
	}
	return s, nil
}

// Create mints a new id and stores a patient built from p.
// A record whose encoding exceeds the bound fails with ErrRecordTooLarge and
// consumes no id.
func (s *Store) Create(ctx context.Context, p record.Payload) (rec *record.Patient, err error) {
	ctx, finish := s.begin(ctx, stats.OpCreate)
	defer func() { finish(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return nil, err
	}
	if err := validatePayload(p); err != nil {
		return nil, err
	}

	// The size is checked with the id the counter is about to mint, so a
	// rejected record leaves the counter untouched.
	candidate := s.counter.Get() + 1
	rec = record.New(candidate, p, s.now())
	data, err := s.encode(ctx, stats.OpCreate, rec)
	if err != nil {
		return nil, err
	}

	id, err := s.counter.Next()
	if err != nil {
		return nil, s.setFault(ctx, "counter", err)
	}
	if id != candidate {
		return nil, s.setFault(ctx, "counter", fmt.Errorf("counter minted %d, expected %d", id, candidate))
	}

	if _, _, err := s.records.Insert(id, data); err != nil {
		return nil, s.insertError(ctx, err)
	}

	s.logger.Debug("created patient %d", id)
	return rec.Clone(), nil
}

// Get returns the patient stored under id
func (s *Store) Get(ctx context.Context, id uint64) (rec *record.Patient, err error) {
	ctx, finish := s.begin(ctx, stats.OpGet, attribute.Int64(telemetry.AttrRecordID, int64(id)))
	defer func() { finish(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

// Update replaces the mutable fields of patient id with p and stamps UpdatedAt
func (s *Store) Update(ctx context.Context, id uint64, p record.Payload) (rec *record.Patient, err error) {
	ctx, finish := s.begin(ctx, stats.OpUpdate, attribute.Int64(telemetry.AttrRecordID, int64(id)))
	defer func() { finish(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.update(ctx, stats.OpUpdate, id, p)
}

// Delete removes patient id and returns the removed record. The id is never reissued.
func (s *Store) Delete(ctx context.Context, id uint64) (rec *record.Patient, err error) {
	ctx, finish := s.begin(ctx, stats.OpDelete, attribute.Int64(telemetry.AttrRecordID, int64(id)))
	defer func() { finish(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return nil, err
	}
	rec, err = s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.records.Remove(id); err != nil {
		return nil, s.setFault(ctx, "remove", err)
	}

	s.logger.Debug("deleted patient %d", id)
	return rec, nil
}

// BulkItem is one update of a bulk request
type BulkItem struct {
	ID      uint64
	Payload record.Payload
}

// BulkResult is the outcome of one bulk item: the updated patient or an error
type BulkResult struct {
	Patient *record.Patient
	Err     error
}

// BulkUpdate applies each item as an Update, in order. A failing item does not
// stop the rest; results line up with items.
func (s *Store) BulkUpdate(ctx context.Context, items []BulkItem) []BulkResult {
	ctx, finish := s.begin(ctx, stats.OpBulkUpdate, attribute.Int("items", len(items)))

	s.mu.Lock()
	results := make([]BulkResult, len(items))
	for i, item := range items {
		rec, err := s.update(ctx, stats.OpBulkUpdate, item.ID, item.Payload)
		results[i] = BulkResult{Patient: rec, Err: err}
	}
	fault := s.fault
	s.mu.Unlock()

	finish(fault)
	return results
}

// SetPresence marks patient id as in or out of the clinic
func (s *Store) SetPresence(ctx context.Context, id uint64, inClinic bool) (rec *record.Patient, err error) {
	ctx, finish := s.begin(ctx, stats.OpSetPresence, attribute.Int64(telemetry.AttrRecordID, int64(id)))
	defer func() { finish(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutate(ctx, stats.OpSetPresence, id, func(r *record.Patient) {
		r.InClinic = inClinic
	})
}

// InClinic reports whether patient id is currently in the clinic
func (s *Store) InClinic(ctx context.Context, id uint64) (in bool, err error) {
	ctx, finish := s.begin(ctx, stats.OpGet, attribute.Int64(telemetry.AttrRecordID, int64(id)))
	defer func() { finish(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return false, err
	}
	rec, err := s.load(ctx, id)
	if err != nil {
		return false, err
	}
	return rec.InClinic, nil
}

// SetNextAppointment sets the next appointment of patient id
func (s *Store) SetNextAppointment(ctx context.Context, id uint64, at uint64) (rec *record.Patient, err error) {
	ctx, finish := s.begin(ctx, stats.OpSetNextAppointment, attribute.Int64(telemetry.AttrRecordID, int64(id)))
	defer func() { finish(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutate(ctx, stats.OpSetNextAppointment, id, func(r *record.Patient) {
		r.NextAppointment = at
	})
}

// History returns the change history of patient id, newest first.
// An unknown id has an empty history.
func (s *Store) History(ctx context.Context, id uint64) (changes []record.ChangeRecord, err error) {
	ctx, finish := s.begin(ctx, stats.OpHistory, attribute.Int64(telemetry.AttrRecordID, int64(id)))
	defer func() { finish(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return nil, err
	}
	rec, err := s.load(ctx, id)
	if IsNotFound(err) {
		return []record.ChangeRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	return rec.Changes(), nil
}

// Len returns the number of stored patients
func (s *Store) Len() int {
	return s.records.Len()
}

// LastID returns the most recently minted id
func (s *Store) LastID() uint64 {
	return s.counter.Get()
}

// Fault returns the storage fault that disabled the store, if any
func (s *Store) Fault() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fault
}

// Exclusive runs fn while no store operation is in progress. The engine uses
// it to copy the underlying memory consistently.
func (s *Store) Exclusive(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// Compact compacts the record log
func (s *Store) Compact(ctx context.Context) (err error) {
	ctx, finish := s.begin(ctx, stats.OpCompact)
	defer func() { finish(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return err
	}
	if err := s.records.Compact(); err != nil {
		return s.setFault(ctx, "compact", err)
	}
	return nil
}

// update loads id, applies p and persists the result
func (s *Store) update(ctx context.Context, op stats.OperationType, id uint64, p record.Payload) (*record.Patient, error) {
	if err := validatePayload(p); err != nil {
		if ferr := s.usable(); ferr != nil {
			return nil, ferr
		}
		return nil, err
	}
	return s.mutate(ctx, op, id, func(r *record.Patient) {
		r.Apply(p)
	})
}

// mutate is the load, modify, stamp and persist sequence shared by every
// mutating operation. Nothing is written when the new encoding is too large.
func (s *Store) mutate(ctx context.Context, op stats.OperationType, id uint64, apply func(*record.Patient)) (*record.Patient, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	apply(rec)
	rec.Touch(s.now())

	data, err := s.encode(ctx, op, rec)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.records.Insert(id, data); err != nil {
		return nil, s.insertError(ctx, err)
	}
	return rec, nil
}

// load reads and decodes patient id. Stored bytes that do not decode, or that
// decode to another id, are a storage fault.
func (s *Store) load(ctx context.Context, id uint64) (*record.Patient, error) {
	data, ok, err := s.records.Get(id)
	if err != nil {
		return nil, s.setFault(ctx, "read", err)
	}
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return s.decode(ctx, id, data)
}

func (s *Store) decode(ctx context.Context, key uint64, data []byte) (*record.Patient, error) {
	rec, err := record.Decode(data)
	if err != nil {
		return nil, s.setFault(ctx, "decode", fmt.Errorf("record %d: %w", key, err))
	}
	if rec.ID != key {
		return nil, s.setFault(ctx, "key_mismatch", fmt.Errorf("record stored under %d carries id %d", key, rec.ID))
	}
	return rec, nil
}

// encode applies the size bound before anything is persisted
func (s *Store) encode(ctx context.Context, op stats.OperationType, rec *record.Patient) ([]byte, error) {
	data, err := record.EncodeBounded(rec, s.maxRecordSize)
	switch {
	case errors.Is(err, record.ErrRecordTooLarge):
		return nil, err
	case err != nil:
		return nil, s.setFault(ctx, "encode", err)
	}
	s.metrics.RecordEncodedSize(ctx, string(op), len(data))
	return data, nil
}

func (s *Store) insertError(ctx context.Context, err error) error {
	if errors.Is(err, stablemap.ErrValueTooLarge) {
		return fmt.Errorf("%w: %v", ErrRecordTooLarge, err)
	}
	return s.setFault(ctx, "write", err)
}

// setFault latches err as the store's storage fault
func (s *Store) setFault(ctx context.Context, reason string, err error) error {
	if s.fault == nil {
		s.fault = fmt.Errorf("%w: %s: %w", ErrStorageFault, reason, err)
		s.metrics.RecordFault(ctx, reason)
		s.logger.Error("storage fault (%s), store disabled: %v", reason, err)
	}
	return s.fault
}

func (s *Store) usable() error {
	return s.fault
}

func (s *Store) now() uint64 {
	return uint64(s.clock().UnixNano())
}

func validatePayload(p record.Payload) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// begin starts the span, metrics and statistics of one operation. The
// returned function finishes them with the operation's error.
func (s *Store) begin(ctx context.Context, op stats.OperationType, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	ctx, span := s.tel.StartSpan(ctx, "store."+string(op), attrs...)

	return ctx, func(err error) {
		errType := errorType(err)
		if err != nil {
			span.RecordError(err)
			if errors.Is(err, ErrStorageFault) {
				span.SetStatus(codes.Error, err.Error())
			}
		}
		span.End()

		elapsed := time.Since(start)
		s.metrics.RecordOperation(ctx, string(op), elapsed, errType)
		if s.stats != nil {
			s.stats.ObserveOperation(op, elapsed)
			if errType != "" {
				s.stats.TrackError(errType)
			}
		}
	}
}
