package client

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/KevoDB/healthrec/pkg/grpc/transport"
	"github.com/KevoDB/healthrec/pkg/grpc/wire"
)

// Errors matched by the errors a Client returns
var (
	// ErrNotFound indicates the patient does not exist
	ErrNotFound = errors.New("patient not found")

	// ErrRejected indicates the server refused the request, e.g. a record
	// that would exceed the size bound
	ErrRejected = errors.New("request rejected")

	// ErrStorageFault indicates the server's store is no longer usable
	ErrStorageFault = errors.New("server storage fault")

	// ErrUnavailable indicates the server could not be reached
	ErrUnavailable = errors.New("server unavailable")

	// ErrCircuitOpen is returned without contacting the server after
	// repeated transport failures
	ErrCircuitOpen = transport.ErrCircuitOpen
)

// Error is a failed call. It keeps the gRPC status so status.Code still works.
type Error struct {
	Code    codes.Code
	Message string
}

func (e *Error) Error() string {
	return e.Code.String() + ": " + e.Message
}

// Is maps status codes to the package sentinels
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == codes.NotFound
	case ErrRejected:
		return e.Code == codes.InvalidArgument
	case ErrStorageFault:
		return e.Code == codes.DataLoss
	case ErrUnavailable:
		return e.Code == codes.Unavailable
	}
	return false
}

// GRPCStatus lets status.FromError and status.Code see through Error
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.Code, e.Message)
}

// fromStatus turns a status error into an *Error. Errors without a status
// pass through.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	return &Error{Code: st.Code(), Message: st.Message()}
}

func resultError(r wire.BulkResult) error {
	if codes.Code(r.Code) == codes.OK {
		return nil
	}
	return &Error{Code: codes.Code(r.Code), Message: r.Message}
}
