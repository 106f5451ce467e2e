// Package client is a Go client for a healthrec server's PatientService.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/KevoDB/healthrec/pkg/grpc/service"
	"github.com/KevoDB/healthrec/pkg/grpc/transport"
	"github.com/KevoDB/healthrec/pkg/grpc/wire"
	"github.com/KevoDB/healthrec/pkg/record"
)

// ClientOptions configures a healthrec client
type ClientOptions struct {
	// Connection options
	Endpoint       string        // Server address
	RequestTimeout time.Duration // Default timeout for requests
	MaxMessageSize int           // Maximum message size
	DialOptions    []grpc.DialOption

	// Security options
	TLSEnabled bool   // Enable TLS
	CertFile   string // Client certificate file
	KeyFile    string // Client key file
	CAFile     string // CA certificate file
	SkipVerify bool   // Skip server certificate verification

	// Retry options
	MaxRetries     int           // Maximum number of retries
	InitialBackoff time.Duration // Initial retry backoff
	MaxBackoff     time.Duration // Maximum retry backoff
	BackoffFactor  float64       // Backoff multiplier
	RetryJitter    float64       // Random jitter factor

	// Circuit breaker options; a zero threshold disables the breaker
	BreakerThreshold int
	BreakerReset     time.Duration
}

// DefaultClientOptions returns sensible default client options
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Endpoint:         "localhost:50051",
		RequestTimeout:   10 * time.Second,
		MaxMessageSize:   4 * 1024 * 1024,
		MaxRetries:       3,
		InitialBackoff:   100 * time.Millisecond,
		MaxBackoff:       2 * time.Second,
		BackoffFactor:    1.5,
		RetryJitter:      0.2,
		BreakerThreshold: 5,
		BreakerReset:     10 * time.Second,
	}
}

// ErrInvalidOptions indicates invalid client options
var ErrInvalidOptions = errors.New("invalid client options")

// Client talks to one healthrec server. It is safe for concurrent use.
type Client struct {
	options ClientOptions
	conn    *grpc.ClientConn
	rpc     service.PatientServiceClient
	retry   transport.RetryPolicy
	breaker *transport.CircuitBreaker
}

// NewClient creates a client for options.Endpoint. The connection is
// established lazily by the first call.
func NewClient(options ClientOptions) (*Client, error) {
	if options.Endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrInvalidOptions)
	}

	creds := insecure.NewCredentials()
	if options.TLSEnabled {
		tlsConfig, err := transport.LoadClientTLSConfig(options.CertFile, options.KeyFile, options.CAFile, options.SkipVerify)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS configuration: %w", err)
		}
		creds = credentials.NewTLS(tlsConfig)
	}

	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if options.MaxMessageSize > 0 {
		dialOpts = append(dialOpts, grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(options.MaxMessageSize),
			grpc.MaxCallSendMsgSize(options.MaxMessageSize)))
	}
	dialOpts = append(dialOpts, options.DialOptions...)

	conn, err := grpc.NewClient(options.Endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection to %s: %w", options.Endpoint, err)
	}

	c := &Client{
		options: options,
		conn:    conn,
		rpc:     service.NewPatientServiceClient(conn),
		retry: transport.RetryPolicy{
			MaxRetries:     options.MaxRetries,
			InitialBackoff: options.InitialBackoff,
			MaxBackoff:     options.MaxBackoff,
			BackoffFactor:  options.BackoffFactor,
			Jitter:         options.RetryJitter,
		},
	}
	if options.BreakerThreshold > 0 {
		c.breaker = transport.NewCircuitBreaker(options.BreakerThreshold, options.BreakerReset)
	}
	return c, nil
}

// Close closes the connection to the server
func (c *Client) Close() error {
	return c.conn.Close()
}

// call runs one RPC under the request timeout and the circuit breaker.
// Idempotent calls are retried on transport failures.
func (c *Client) call(ctx context.Context, idempotent bool, fn func(ctx context.Context) error) error {
	attempt := func(ctx context.Context) error {
		if c.options.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.options.RequestTimeout)
			defer cancel()
		}
		if c.breaker == nil {
			return fn(ctx)
		}
		return c.breaker.Execute(ctx, fn)
	}

	var err error
	if idempotent {
		err = transport.WithRetry(ctx, c.retry, attempt)
	} else {
		err = attempt(ctx)
	}
	return fromStatus(err)
}

// Create stores a new patient. It is not retried: a lost reply could
// otherwise mint a second id.
func (c *Client) Create(ctx context.Context, p record.Payload) (*record.Patient, error) {
	var resp *wire.PatientResponse
	err := c.call(ctx, false, func(ctx context.Context) (err error) {
		resp, err = c.rpc.CreatePatient(ctx, &wire.CreateRequest{Payload: p})
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp.Patient, nil
}

// Get returns patient id
func (c *Client) Get(ctx context.Context, id uint64) (*record.Patient, error) {
	var resp *wire.PatientResponse
	err := c.call(ctx, true, func(ctx context.Context) (err error) {
		resp, err = c.rpc.GetPatient(ctx, &wire.IDRequest{ID: id})
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp.Patient, nil
}

// Update replaces the mutable fields of patient id
func (c *Client) Update(ctx context.Context, id uint64, p record.Payload) (*record.Patient, error) {
	var resp *wire.PatientResponse
	err := c.call(ctx, true, func(ctx context.Context) (err error) {
		resp, err = c.rpc.UpdatePatient(ctx, &wire.UpdateRequest{ID: id, Payload: p})
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp.Patient, nil
}

// Delete removes patient id and returns the removed record. It is not
// retried: a repeated delete would report NotFound for a removal that worked.
func (c *Client) Delete(ctx context.Context, id uint64) (*record.Patient, error) {
	var resp *wire.PatientResponse
	err := c.call(ctx, false, func(ctx context.Context) (err error) {
		resp, err = c.rpc.DeletePatient(ctx, &wire.IDRequest{ID: id})
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp.Patient, nil
}

func (c *Client) list(ctx context.Context, fn func(ctx context.Context) (*wire.PatientList, error)) ([]*record.Patient, error) {
	var resp *wire.PatientList
	err := c.call(ctx, true, func(ctx context.Context) (err error) {
		resp, err = fn(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp.Patients, nil
}

// List returns every patient in ascending id order
func (c *Client) List(ctx context.Context) ([]*record.Patient, error) {
	return c.list(ctx, func(ctx context.Context) (*wire.PatientList, error) {
		return c.rpc.ListPatients(ctx, &wire.Empty{})
	})
}

// ListInClinic returns the patients currently in the clinic
func (c *Client) ListInClinic(ctx context.Context) ([]*record.Patient, error) {
	return c.list(ctx, func(ctx context.Context) (*wire.PatientList, error) {
		return c.rpc.ListInClinic(ctx, &wire.Empty{})
	})
}

// Search returns patients whose name or history contains text
func (c *Client) Search(ctx context.Context, text string) ([]*record.Patient, error) {
	return c.list(ctx, func(ctx context.Context) (*wire.PatientList, error) {
		return c.rpc.SearchPatients(ctx, &wire.SearchRequest{Text: text})
	})
}

// SearchByStaff returns patients whose staff name or history contains text
func (c *Client) SearchByStaff(ctx context.Context, text string) ([]*record.Patient, error) {
	return c.list(ctx, func(ctx context.Context) (*wire.PatientList, error) {
		return c.rpc.SearchByStaff(ctx, &wire.SearchRequest{Text: text})
	})
}

// SortByName returns every patient ordered by name
func (c *Client) SortByName(ctx context.Context) ([]*record.Patient, error) {
	return c.list(ctx, func(ctx context.Context) (*wire.PatientList, error) {
		return c.rpc.SortByName(ctx, &wire.Empty{})
	})
}

// Paginate returns up to limit patients after skipping offset
func (c *Client) Paginate(ctx context.Context, limit, offset uint64) ([]*record.Patient, error) {
	return c.list(ctx, func(ctx context.Context) (*wire.PatientList, error) {
		return c.rpc.Paginate(ctx, &wire.PaginateRequest{Limit: limit, Offset: offset})
	})
}

// BulkItem is one update of a bulk request
type BulkItem struct {
	ID      uint64
	Payload record.Payload
}

// BulkResult is the outcome of one bulk item
type BulkResult struct {
	Patient *record.Patient
	Err     error
}

// BulkUpdate applies items in order; results line up with items
func (c *Client) BulkUpdate(ctx context.Context, items []BulkItem) ([]BulkResult, error) {
	req := &wire.BulkUpdateRequest{Items: make([]wire.UpdateRequest, len(items))}
	for i, item := range items {
		req.Items[i] = wire.UpdateRequest{ID: item.ID, Payload: item.Payload}
	}

	var resp *wire.BulkUpdateResponse
	err := c.call(ctx, true, func(ctx context.Context) (err error) {
		resp, err = c.rpc.BulkUpdate(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	results := make([]BulkResult, len(resp.Results))
	for i, r := range resp.Results {
		results[i] = BulkResult{Patient: r.Patient, Err: resultError(r)}
	}
	return results, nil
}

// SetPresence marks patient id as in or out of the clinic
func (c *Client) SetPresence(ctx context.Context, id uint64, inClinic bool) (*record.Patient, error) {
	var resp *wire.PatientResponse
	err := c.call(ctx, true, func(ctx context.Context) (err error) {
		resp, err = c.rpc.SetPresence(ctx, &wire.PresenceRequest{ID: id, InClinic: inClinic})
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp.Patient, nil
}

// InClinic reports whether patient id is in the clinic
func (c *Client) InClinic(ctx context.Context, id uint64) (bool, error) {
	var resp *wire.InClinicResponse
	err := c.call(ctx, true, func(ctx context.Context) (err error) {
		resp, err = c.rpc.InClinic(ctx, &wire.IDRequest{ID: id})
		return err
	})
	if err != nil {
		return false, err
	}
	return resp.InClinic, nil
}

// SetNextAppointment sets the next appointment of patient id
func (c *Client) SetNextAppointment(ctx context.Context, id uint64, at time.Time) (*record.Patient, error) {
	var resp *wire.PatientResponse
	err := c.call(ctx, true, func(ctx context.Context) (err error) {
		resp, err = c.rpc.SetNextAppointment(ctx, &wire.AppointmentRequest{ID: id, At: uint64(at.UnixNano())})
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp.Patient, nil
}

// History returns the change history of patient id, newest first
func (c *Client) History(ctx context.Context, id uint64) ([]record.ChangeRecord, error) {
	var resp *wire.HistoryResponse
	err := c.call(ctx, true, func(ctx context.Context) (err error) {
		resp, err = c.rpc.History(ctx, &wire.IDRequest{ID: id})
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp.Changes, nil
}
