package service

import (
	"context"

	"google.golang.org/grpc"

	"github.com/KevoDB/healthrec/pkg/grpc/wire"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "healthrec.v1.PatientService"

// PatientServiceServer is the server API of the PatientService
type PatientServiceServer interface {
	CreatePatient(context.Context, *wire.CreateRequest) (*wire.PatientResponse, error)
	GetPatient(context.Context, *wire.IDRequest) (*wire.PatientResponse, error)
	UpdatePatient(context.Context, *wire.UpdateRequest) (*wire.PatientResponse, error)
	DeletePatient(context.Context, *wire.IDRequest) (*wire.PatientResponse, error)
	ListPatients(context.Context, *wire.Empty) (*wire.PatientList, error)
	ListInClinic(context.Context, *wire.Empty) (*wire.PatientList, error)
	SearchPatients(context.Context, *wire.SearchRequest) (*wire.PatientList, error)
	SearchByStaff(context.Context, *wire.SearchRequest) (*wire.PatientList, error)
	SortByName(context.Context, *wire.Empty) (*wire.PatientList, error)
	Paginate(context.Context, *wire.PaginateRequest) (*wire.PatientList, error)
	BulkUpdate(context.Context, *wire.BulkUpdateRequest) (*wire.BulkUpdateResponse, error)
	SetPresence(context.Context, *wire.PresenceRequest) (*wire.PatientResponse, error)
	InClinic(context.Context, *wire.IDRequest) (*wire.InClinicResponse, error)
	SetNextAppointment(context.Context, *wire.AppointmentRequest) (*wire.PatientResponse, error)
	History(context.Context, *wire.IDRequest) (*wire.HistoryResponse, error)
}

// message constrains a pointer to a request type so handlers can allocate it
type message[T any] interface {
	*T
	wire.Message
}

// unary builds the method descriptor of one unary call
func unary[Req any, PReq message[Req], Resp wire.Message](
	name string,
	call func(PatientServiceServer, context.Context, PReq) (Resp, error),
) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := PReq(new(Req))
			if err := dec(in); err != nil {
				return nil, err
			}
			impl := srv.(PatientServiceServer)
			if interceptor == nil {
				return call(impl, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(impl, ctx, req.(PReq))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the PatientService for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PatientServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreatePatient", PatientServiceServer.CreatePatient),
		unary("GetPatient", PatientServiceServer.GetPatient),
		unary("UpdatePatient", PatientServiceServer.UpdatePatient),
		unary("DeletePatient", PatientServiceServer.DeletePatient),
		unary("ListPatients", PatientServiceServer.ListPatients),
		unary("ListInClinic", PatientServiceServer.ListInClinic),
		unary("SearchPatients", PatientServiceServer.SearchPatients),
		unary("SearchByStaff", PatientServiceServer.SearchByStaff),
		unary("SortByName", PatientServiceServer.SortByName),
		unary("Paginate", PatientServiceServer.Paginate),
		unary("BulkUpdate", PatientServiceServer.BulkUpdate),
		unary("SetPresence", PatientServiceServer.SetPresence),
		unary("InClinic", PatientServiceServer.InClinic),
		unary("SetNextAppointment", PatientServiceServer.SetNextAppointment),
		unary("History", PatientServiceServer.History),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "healthrec/v1/patient.proto",
}

// RegisterPatientServiceServer registers srv with s
func RegisterPatientServiceServer(s grpc.ServiceRegistrar, srv PatientServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// PatientServiceClient is the client API of the PatientService
type PatientServiceClient interface {
	CreatePatient(ctx context.Context, in *wire.CreateRequest, opts ...grpc.CallOption) (*wire.PatientResponse, error)
	GetPatient(ctx context.Context, in *wire.IDRequest, opts ...grpc.CallOption) (*wire.PatientResponse, error)
	UpdatePatient(ctx context.Context, in *wire.UpdateRequest, opts ...grpc.CallOption) (*wire.PatientResponse, error)
	DeletePatient(ctx context.Context, in *wire.IDRequest, opts ...grpc.CallOption) (*wire.PatientResponse, error)
	ListPatients(ctx context.Context, in *wire.Empty, opts ...grpc.CallOption) (*wire.PatientList, error)
	ListInClinic(ctx context.Context, in *wire.Empty, opts ...grpc.CallOption) (*wire.PatientList, error)
	SearchPatients(ctx context.Context, in *wire.SearchRequest, opts ...grpc.CallOption) (*wire.PatientList, error)
	SearchByStaff(ctx context.Context, in *wire.SearchRequest, opts ...grpc.CallOption) (*wire.PatientList, error)
	SortByName(ctx context.Context, in *wire.Empty, opts ...grpc.CallOption) (*wire.PatientList, error)
	Paginate(ctx context.Context, in *wire.PaginateRequest, opts ...grpc.CallOption) (*wire.PatientList, error)
	BulkUpdate(ctx context.Context, in *wire.BulkUpdateRequest, opts ...grpc.CallOption) (*wire.BulkUpdateResponse, error)
	SetPresence(ctx context.Context, in *wire.PresenceRequest, opts ...grpc.CallOption) (*wire.PatientResponse, error)
	InClinic(ctx context.Context, in *wire.IDRequest, opts ...grpc.CallOption) (*wire.InClinicResponse, error)
	SetNextAppointment(ctx context.Context, in *wire.AppointmentRequest, opts ...grpc.CallOption) (*wire.PatientResponse, error)
	History(ctx context.Context, in *wire.IDRequest, opts ...grpc.CallOption) (*wire.HistoryResponse, error)
}

type patientServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewPatientServiceClient returns a client stub over cc. Calls always use the
// wire codec regardless of the connection's default.
func NewPatientServiceClient(cc grpc.ClientConnInterface) PatientServiceClient {
	return &patientServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in wire.Message, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.ForceCodec(wire.Codec{})}, opts...)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *patientServiceClient) CreatePatient(ctx context.Context, in *wire.CreateRequest, opts ...grpc.CallOption) (*wire.PatientResponse, error) {
	return invoke[wire.PatientResponse](ctx, c.cc, "CreatePatient", in, opts)
}

func (c *patientServiceClient) GetPatient(ctx context.Context, in *wire.IDRequest, opts ...grpc.CallOption) (*wire.PatientResponse, error) {
	return invoke[wire.PatientResponse](ctx, c.cc, "GetPatient", in, opts)
}

func (c *patientServiceClient) UpdatePatient(ctx context.Context, in *wire.UpdateRequest, opts ...grpc.CallOption) (*wire.PatientResponse, error) {
	return invoke[wire.PatientResponse](ctx, c.cc, "UpdatePatient", in, opts)
}

func (c *patientServiceClient) DeletePatient(ctx context.Context, in *wire.IDRequest, opts ...grpc.CallOption) (*wire.PatientResponse, error) {
	return invoke[wire.PatientResponse](ctx, c.cc, "DeletePatient", in, opts)
}

func (c *patientServiceClient) ListPatients(ctx context.Context, in *wire.Empty, opts ...grpc.CallOption) (*wire.PatientList, error) {
	return invoke[wire.PatientList](ctx, c.cc, "ListPatients", in, opts)
}

func (c *patientServiceClient) ListInClinic(ctx context.Context, in *wire.Empty, opts ...grpc.CallOption) (*wire.PatientList, error) {
	return invoke[wire.PatientList](ctx, c.cc, "ListInClinic", in, opts)
}

func (c *patientServiceClient) SearchPatients(ctx context.Context, in *wire.SearchRequest, opts ...grpc.CallOption) (*wire.PatientList, error) {
	return invoke[wire.PatientList](ctx, c.cc, "SearchPatients", in, opts)
}

func (c *patientServiceClient) SearchByStaff(ctx context.Context, in *wire.SearchRequest, opts ...grpc.CallOption) (*wire.PatientList, error) {
	return invoke[wire.PatientList](ctx, c.cc, "SearchByStaff", in, opts)
}

func (c *patientServiceClient) SortByName(ctx context.Context, in *wire.Empty, opts ...grpc.CallOption) (*wire.PatientList, error) {
	return invoke[wire.PatientList](ctx, c.cc, "SortByName", in, opts)
}

func (c *patientServiceClient) Paginate(ctx context.Context, in *wire.PaginateRequest, opts ...grpc.CallOption) (*wire.PatientList, error) {
	return invoke[wire.PatientList](ctx, c.cc, "Paginate", in, opts)
}

func (c *patientServiceClient) BulkUpdate(ctx context.Context, in *wire.BulkUpdateRequest, opts ...grpc.CallOption) (*wire.BulkUpdateResponse, error) {
	return invoke[wire.BulkUpdateResponse](ctx, c.cc, "BulkUpdate", in, opts)
}

func (c *patientServiceClient) SetPresence(ctx context.Context, in *wire.PresenceRequest, opts ...grpc.CallOption) (*wire.PatientResponse, error) {
	return invoke[wire.PatientResponse](ctx, c.cc, "SetPresence", in, opts)
}

func (c *patientServiceClient) InClinic(ctx context.Context, in *wire.IDRequest, opts ...grpc.CallOption) (*wire.InClinicResponse, error) {
	return invoke[wire.InClinicResponse](ctx, c.cc, "InClinic", in, opts)
}

func (c *patientServiceClient) SetNextAppointment(ctx context.Context, in *wire.AppointmentRequest, opts ...grpc.CallOption) (*wire.PatientResponse, error) {
	return invoke[wire.PatientResponse](ctx, c.cc, "SetNextAppointment", in, opts)
}

func (c *patientServiceClient) History(ctx context.Context, in *wire.IDRequest, opts ...grpc.CallOption) (*wire.HistoryResponse, error) {
	return invoke[wire.HistoryResponse](ctx, c.cc, "History", in, opts)
}
