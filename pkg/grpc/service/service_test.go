package service

import (
	"context"
	"math"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/KevoDB/healthrec/pkg/engine"
	"github.com/KevoDB/healthrec/pkg/grpc/wire"
	"github.com/KevoDB/healthrec/pkg/record"
	"github.com/KevoDB/healthrec/pkg/store"
)

const bufSize = 1 << 20

func setupService(t *testing.T, opts ...Option) (PatientServiceClient, *engine.Engine) {
	t.Helper()

	var tick int64
	clock := func() time.Time {
		tick++
		return time.Unix(0, tick)
	}
	e, err := engine.OpenMemory(engine.WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	lis := bufconn.Listen(bufSize)
	srv := grpc.NewServer(grpc.ForceServerCodec(wire.Codec{}))
	RegisterPatientServiceServer(srv, NewPatientService(e.Store(), opts...))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewPatientServiceClient(conn), e
}

func create(t *testing.T, c PatientServiceClient, p record.Payload) *record.Patient {
	t.Helper()
	resp, err := c.CreatePatient(context.Background(), &wire.CreateRequest{Payload: p})
	require.NoError(t, err)
	require.NotNil(t, resp.Patient)
	return resp.Patient
}

func names(list *wire.PatientList) []string {
	out := make([]string, len(list.Patients))
	for i, p := range list.Patients {
		out[i] = p.Name
	}
	return out
}

func TestCreateGetUpdateDelete(t *testing.T) {
	c, _ := setupService(t)
	ctx := context.Background()

	alice := create(t, c, record.Payload{Name: "Alice", History: "flu", StaffName: "Dr. Grey"})
	assert.Equal(t, uint64(1), alice.ID)
	assert.Nil(t, alice.UpdatedAt)

	got, err := c.GetPatient(ctx, &wire.IDRequest{ID: alice.ID})
	require.NoError(t, err)
	assert.Equal(t, alice, got.Patient)

	upd, err := c.UpdatePatient(ctx, &wire.UpdateRequest{ID: alice.ID, Payload: record.Payload{Name: "Alice B"}})
	require.NoError(t, err)
	assert.Equal(t, "Alice B", upd.Patient.Name)
	assert.Equal(t, alice.CreatedAt, upd.Patient.CreatedAt)
	require.NotNil(t, upd.Patient.UpdatedAt)

	del, err := c.DeletePatient(ctx, &wire.IDRequest{ID: alice.ID})
	require.NoError(t, err)
	assert.Equal(t, upd.Patient, del.Patient)

	_, err = c.GetPatient(ctx, &wire.IDRequest{ID: alice.ID})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestErrorCodes(t *testing.T) {
	c, _ := setupService(t)
	ctx := context.Background()
	create(t, c, record.Payload{Name: "Alice"})

	tests := []struct {
		name string
		call func() error
		want codes.Code
	}{
		{"get missing", func() error {
			_, err := c.GetPatient(ctx, &wire.IDRequest{ID: 99})
			return err
		}, codes.NotFound},
		{"update missing", func() error {
			_, err := c.UpdatePatient(ctx, &wire.UpdateRequest{ID: 99})
			return err
		}, codes.NotFound},
		{"delete missing", func() error {
			_, err := c.DeletePatient(ctx, &wire.IDRequest{ID: 99})
			return err
		}, codes.NotFound},
		{"presence missing", func() error {
			_, err := c.InClinic(ctx, &wire.IDRequest{ID: 99})
			return err
		}, codes.NotFound},
		{"create too large", func() error {
			_, err := c.CreatePatient(ctx, &wire.CreateRequest{Payload: record.Payload{History: string(make([]byte, 2000))}})
			return err
		}, codes.InvalidArgument},
		{"update too large", func() error {
			_, err := c.UpdatePatient(ctx, &wire.UpdateRequest{ID: 1, Payload: record.Payload{Name: string(make([]byte, 2000))}})
			return err
		}, codes.InvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status.Code(tt.call()))
		})
	}
}

func TestQueries(t *testing.T) {
	c, _ := setupService(t)
	ctx := context.Background()

	create(t, c, record.Payload{Name: "Carol", History: "asthma", StaffName: "Dr. House"})
	create(t, c, record.Payload{Name: "Alice", History: "flu", StaffName: "Dr. Grey", InClinic: true})
	create(t, c, record.Payload{Name: "Bob", History: "Dr. House referral", StaffName: "Dr. Grey"})

	list, err := c.ListPatients(ctx, &wire.Empty{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Carol", "Alice", "Bob"}, names(list))

	sorted, err := c.SortByName(ctx, &wire.Empty{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "Bob", "Carol"}, names(sorted))

	found, err := c.SearchPatients(ctx, &wire.SearchRequest{Text: "flu"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice"}, names(found))

	byStaff, err := c.SearchByStaff(ctx, &wire.SearchRequest{Text: "House"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Carol", "Bob"}, names(byStaff))

	inClinic, err := c.ListInClinic(ctx, &wire.Empty{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice"}, names(inClinic))

	page, err := c.Paginate(ctx, &wire.PaginateRequest{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "Bob"}, names(page))

	rest, err := c.Paginate(ctx, &wire.PaginateRequest{Limit: math.MaxUint64, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "Bob"}, names(rest))

	empty, err := c.Paginate(ctx, &wire.PaginateRequest{Limit: 2, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty.Patients)

	none, err := c.SearchPatients(ctx, &wire.SearchRequest{Text: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, none.Patients)
}

func TestBulkUpdate(t *testing.T) {
	c, _ := setupService(t)
	ctx := context.Background()
	create(t, c, record.Payload{Name: "Alice"})
	create(t, c, record.Payload{Name: "Bob"})

	resp, err := c.BulkUpdate(ctx, &wire.BulkUpdateRequest{Items: []wire.UpdateRequest{
		{ID: 1, Payload: record.Payload{Name: "Alice B"}},
		{ID: 42, Payload: record.Payload{Name: "Ghost"}},
		{ID: 2, Payload: record.Payload{Name: string(make([]byte, 2000))}},
	}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)

	assert.Equal(t, uint32(codes.OK), resp.Results[0].Code)
	assert.Equal(t, "Alice B", resp.Results[0].Patient.Name)
	assert.Equal(t, uint32(codes.NotFound), resp.Results[1].Code)
	assert.Contains(t, resp.Results[1].Message, "42")
	assert.Nil(t, resp.Results[1].Patient)
	assert.Equal(t, uint32(codes.InvalidArgument), resp.Results[2].Code)

	bob, err := c.GetPatient(ctx, &wire.IDRequest{ID: 2})
	require.NoError(t, err)
	assert.Equal(t, "Bob", bob.Patient.Name)
}

func TestBulkUpdateLimit(t *testing.T) {
	c, _ := setupService(t, WithMaxBulkItems(1))

	_, err := c.BulkUpdate(context.Background(), &wire.BulkUpdateRequest{Items: make([]wire.UpdateRequest, 2)})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestPresenceAppointmentsHistory(t *testing.T) {
	c, _ := setupService(t)
	ctx := context.Background()
	alice := create(t, c, record.Payload{Name: "Alice"})

	in, err := c.InClinic(ctx, &wire.IDRequest{ID: alice.ID})
	require.NoError(t, err)
	assert.False(t, in.InClinic)

	marked, err := c.SetPresence(ctx, &wire.PresenceRequest{ID: alice.ID, InClinic: true})
	require.NoError(t, err)
	assert.True(t, marked.Patient.InClinic)

	in, err = c.InClinic(ctx, &wire.IDRequest{ID: alice.ID})
	require.NoError(t, err)
	assert.True(t, in.InClinic)

	appt, err := c.SetNextAppointment(ctx, &wire.AppointmentRequest{ID: alice.ID, At: 12345})
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), appt.Patient.NextAppointment)

	hist, err := c.History(ctx, &wire.IDRequest{ID: alice.ID})
	require.NoError(t, err)
	require.Len(t, hist.Changes, 2)
	assert.Equal(t, record.ChangeUpdate, hist.Changes[0].ChangeType)
	assert.Equal(t, *appt.Patient.UpdatedAt, hist.Changes[0].Timestamp)
	assert.Equal(t, record.ChangeCreation, hist.Changes[1].ChangeType)
	assert.Equal(t, alice.CreatedAt, hist.Changes[1].Timestamp)

	unknown, err := c.History(ctx, &wire.IDRequest{ID: 99})
	require.NoError(t, err)
	assert.Empty(t, unknown.Changes)
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{nil, codes.OK},
		{&store.NotFoundError{ID: 1}, codes.NotFound},
		{store.ErrRecordTooLarge, codes.InvalidArgument},
		{store.ErrInvalidPayload, codes.InvalidArgument},
		{store.ErrStorageFault, codes.DataLoss},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{assert.AnError, codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Code(tt.err))
	}
	assert.NoError(t, Status(nil))
}
