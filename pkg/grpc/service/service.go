// Package service implements the healthrec.v1.PatientService gRPC API on top
// of a record store.
package service

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/KevoDB/healthrec/pkg/common/log"
	"github.com/KevoDB/healthrec/pkg/grpc/wire"
	"github.com/KevoDB/healthrec/pkg/record"
	"github.com/KevoDB/healthrec/pkg/store"
	"github.com/KevoDB/healthrec/pkg/telemetry"
)

// DefaultMaxBulkItems bounds the number of items of one BulkUpdate call
const DefaultMaxBulkItems = 1000

// PatientService serves the PatientService API from a store
type PatientService struct {
	store        *store.Store
	logger       log.Logger
	maxBulkItems int
}

// Option configures a PatientService
type Option func(*PatientService)

// WithLogger sets the service logger
func WithLogger(logger log.Logger) Option {
	return func(s *PatientService) {
		s.logger = logger
	}
}

// WithMaxBulkItems bounds BulkUpdate requests
func WithMaxBulkItems(n int) Option {
	return func(s *PatientService) {
		s.maxBulkItems = n
	}
}

// NewPatientService creates a service over st
func NewPatientService(st *store.Store, opts ...Option) *PatientService {
	s := &PatientService{
		store:        st,
		logger:       log.GetDefaultLogger(),
		maxBulkItems: DefaultMaxBulkItems,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("component", telemetry.ComponentGRPC)
	return s
}

var _ PatientServiceServer = (*PatientService)(nil)

// Status converts a store error into a gRPC status error
func Status(err error) error {
	if err == nil {
		return nil
	}
	return status.Error(Code(err), err.Error())
}

// Code classifies a store error
func Code(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, store.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, store.ErrRecordTooLarge), errors.Is(err, store.ErrInvalidPayload):
		return codes.InvalidArgument
	case errors.Is(err, store.ErrStorageFault):
		return codes.DataLoss
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

func (s *PatientService) patient(rec *record.Patient, err error) (*wire.PatientResponse, error) {
	if err != nil {
		return nil, s.fail(err)
	}
	return &wire.PatientResponse{Patient: rec}, nil
}

func (s *PatientService) list(recs []*record.Patient, err error) (*wire.PatientList, error) {
	if err != nil {
		return nil, s.fail(err)
	}
	return &wire.PatientList{Patients: recs}, nil
}

func (s *PatientService) fail(err error) error {
	if errors.Is(err, store.ErrStorageFault) {
		s.logger.Error("store fault: %v", err)
	}
	return Status(err)
}

func (s *PatientService) CreatePatient(ctx context.Context, req *wire.CreateRequest) (*wire.PatientResponse, error) {
	return s.patient(s.store.Create(ctx, req.Payload))
}

func (s *PatientService) GetPatient(ctx context.Context, req *wire.IDRequest) (*wire.PatientResponse, error) {
	return s.patient(s.store.Get(ctx, req.ID))
}

func (s *PatientService) UpdatePatient(ctx context.Context, req *wire.UpdateRequest) (*wire.PatientResponse, error) {
	return s.patient(s.store.Update(ctx, req.ID, req.Payload))
}

func (s *PatientService) DeletePatient(ctx context.Context, req *wire.IDRequest) (*wire.PatientResponse, error) {
	return s.patient(s.store.Delete(ctx, req.ID))
}

func (s *PatientService) ListPatients(ctx context.Context, _ *wire.Empty) (*wire.PatientList, error) {
	return s.list(s.store.List(ctx))
}

func (s *PatientService) ListInClinic(ctx context.Context, _ *wire.Empty) (*wire.PatientList, error) {
	return s.list(s.store.ListInClinic(ctx))
}

func (s *PatientService) SearchPatients(ctx context.Context, req *wire.SearchRequest) (*wire.PatientList, error) {
	return s.list(s.store.Search(ctx, req.Text))
}

func (s *PatientService) SearchByStaff(ctx context.Context, req *wire.SearchRequest) (*wire.PatientList, error) {
	return s.list(s.store.SearchByStaff(ctx, req.Text))
}

func (s *PatientService) SortByName(ctx context.Context, _ *wire.Empty) (*wire.PatientList, error) {
	return s.list(s.store.SortByName(ctx))
}

func (s *PatientService) Paginate(ctx context.Context, req *wire.PaginateRequest) (*wire.PatientList, error) {
	return s.list(s.store.Paginate(ctx, store.PageBound(req.Limit), store.PageBound(req.Offset)))
}

// BulkUpdate applies every item and reports per-item outcomes. Only a request
// that is too large fails as a whole.
func (s *PatientService) BulkUpdate(ctx context.Context, req *wire.BulkUpdateRequest) (*wire.BulkUpdateResponse, error) {
	if s.maxBulkItems > 0 && len(req.Items) > s.maxBulkItems {
		return nil, status.Errorf(codes.InvalidArgument, "bulk update of %d items exceeds the limit of %d",
			len(req.Items), s.maxBulkItems)
	}

	items := make([]store.BulkItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = store.BulkItem{ID: item.ID, Payload: item.Payload}
	}

	results := s.store.BulkUpdate(ctx, items)
	resp := &wire.BulkUpdateResponse{Results: make([]wire.BulkResult, len(results))}
	for i, r := range results {
		if r.Err != nil {
			resp.Results[i] = wire.BulkResult{Code: uint32(Code(r.Err)), Message: r.Err.Error()}
			continue
		}
		resp.Results[i] = wire.BulkResult{Patient: r.Patient}
	}
	return resp, nil
}

func (s *PatientService) SetPresence(ctx context.Context, req *wire.PresenceRequest) (*wire.PatientResponse, error) {
	return s.patient(s.store.SetPresence(ctx, req.ID, req.InClinic))
}

func (s *PatientService) InClinic(ctx context.Context, req *wire.IDRequest) (*wire.InClinicResponse, error) {
	in, err := s.store.InClinic(ctx, req.ID)
	if err != nil {
		return nil, s.fail(err)
	}
	return &wire.InClinicResponse{InClinic: in}, nil
}

func (s *PatientService) SetNextAppointment(ctx context.Context, req *wire.AppointmentRequest) (*wire.PatientResponse, error) {
	return s.patient(s.store.SetNextAppointment(ctx, req.ID, req.At))
}

func (s *PatientService) History(ctx context.Context, req *wire.IDRequest) (*wire.HistoryResponse, error) {
	changes, err := s.store.History(ctx, req.ID)
	if err != nil {
		return nil, s.fail(err)
	}
	return &wire.HistoryResponse{Changes: changes}, nil
}
