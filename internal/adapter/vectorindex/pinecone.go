package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pinecone-io/go-pinecone/v3/pinecone"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"mnemo/internal/domain"
	"mnemo/internal/port"
)

// PineconeOptions configures the Pinecone client.
type PineconeOptions struct {
	APIKey      string
	IndexName   string
	Environment string
	// Host is the index data-plane host. When empty it is resolved from the
	// control plane at ControlURL.
	Host       string
	ControlURL string
	TextField  string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// pineconeConn is the part of *pinecone.IndexConnection the index uses.
// A connection is bound to one namespace.
type pineconeConn interface {
	UpsertRecords(ctx context.Context, records []*pinecone.IntegratedRecord) error
	UpsertVectors(ctx context.Context, in []*pinecone.Vector) (uint32, error)
	QueryByVectorValues(ctx context.Context, in *pinecone.QueryByVectorValuesRequest) (*pinecone.QueryVectorsResponse, error)
	FetchVectors(ctx context.Context, ids []string) (*pinecone.FetchVectorsResponse, error)
	DeleteVectorsById(ctx context.Context, ids []string) error
	DescribeIndexStats(ctx context.Context) (*pinecone.DescribeIndexStatsResponse, error)
	Close() error
}

// PineconeIndex implements VectorIndex with the Pinecone Go SDK.
type PineconeIndex struct {
	host      string
	textField string
	timeout   time.Duration
	info      *pinecone.Index

	dial  func(namespace string) (pineconeConn, error)
	mu    sync.Mutex
	conns map[string]pineconeConn
}

// APIError is a failed Pinecone call, classified onto a domain sentinel.
type APIError struct {
	Op      string
	Status  int
	Message string
	kind    error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pinecone %s: HTTP %d: %s", e.Op, e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.kind
}

// NewPineconeIndex builds the client. It contacts the control plane only
// when the data-plane host is not configured.
func NewPineconeIndex(ctx context.Context, opts PineconeOptions) (*PineconeIndex, error) {
	if opts.APIKey == "" || opts.IndexName == "" || opts.Environment == "" {
		return nil, errors.New("pinecone requires api key, index name and environment")
	}
	if opts.TextField == "" {
		opts.TextField = "text"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	rest := opts.HTTPClient
	if rest == nil {
		rest = &http.Client{Timeout: timeout}
	}
	base := rest.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	rest = &http.Client{
		Transport:     &recordsTransport{base: base},
		Timeout:       rest.Timeout,
		Jar:           rest.Jar,
		CheckRedirect: rest.CheckRedirect,
	}

	pc, err := pinecone.NewClient(pinecone.NewClientParams{
		ApiKey:     opts.APIKey,
		Host:       opts.ControlURL,
		RestClient: rest,
		SourceTag:  "mnemo",
	})
	if err != nil {
		return nil, fmt.Errorf("pinecone client: %w", err)
	}

	idx := &PineconeIndex{
		host:      dataHost(opts.Host),
		textField: opts.TextField,
		timeout:   timeout,
		info:      &pinecone.Index{Name: opts.IndexName},
		conns:     make(map[string]pineconeConn),
	}

	if idx.host == "" {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		info, err := pc.DescribeIndex(ctx, opts.IndexName)
		if err != nil {
			return nil, classifyError("describe index", err)
		}
		if info.Host == "" {
			return nil, fmt.Errorf("%w: index %s has no host", domain.ErrIndexUnavailable, opts.IndexName)
		}
		idx.info = info
		idx.host = dataHost(info.Host)
	}

	idx.dial = func(namespace string) (pineconeConn, error) {
		return pc.Index(pinecone.NewIndexConnParams{Host: idx.host, Namespace: namespace})
	}
	return idx, nil
}

// dataHost strips the scheme. The SDK adds https for REST calls and dials
// gRPC on the bare host.
func dataHost(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	host = strings.TrimPrefix(host, "https://")
	return strings.TrimPrefix(host, "http://")
}

// Region reports the region or pod environment the control plane returned,
// or "" when the host was configured directly.
func (p *PineconeIndex) Region() string {
	if p.info == nil || p.info.Spec == nil {
		return ""
	}
	switch {
	case p.info.Spec.Serverless != nil:
		return p.info.Spec.Serverless.Region
	case p.info.Spec.Pod != nil:
		return p.info.Spec.Pod.Environment
	}
	return ""
}

func (p *PineconeIndex) conn(namespace string) (pineconeConn, error) {
	key := namespaceKey(namespace)
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns[key]; ok {
		return c, nil
	}
	c, err := p.dial(key)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to %s: %v", domain.ErrIndexUnavailable, p.host, err)
	}
	p.conns[key] = c
	return c, nil
}

func (p *PineconeIndex) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.timeout)
}

// Upsert sends text records to the integrated-embedding records endpoint
// and vector records over gRPC.
func (p *PineconeIndex) Upsert(ctx context.Context, namespace string, records []port.IndexRecord) error {
	c, err := p.conn(namespace)
	if err != nil {
		return err
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var text []*pinecone.IntegratedRecord
	var vectors []*pinecone.Vector
	for _, r := range records {
		if len(r.Vector) > 0 {
			meta, err := toStruct(recordMetadata(r.Metadata, p.textField, r.Text))
			if err != nil {
				return fmt.Errorf("encode metadata of %s: %w", r.ID, err)
			}
			values := r.Vector
			vectors = append(vectors, &pinecone.Vector{Id: r.ID, Values: &values, Metadata: meta})
			continue
		}
		rec := make(pinecone.IntegratedRecord, len(r.Metadata)+2)
		for k, v := range r.Metadata {
			rec[k] = v
		}
		rec["_id"] = r.ID
		rec[p.textField] = r.Text
		text = append(text, &rec)
	}

	if len(text) > 0 {
		slot := &errorSlot{}
		if err := c.UpsertRecords(context.WithValue(ctx, errorSlotKey{}, slot), text); err != nil {
			if slot.err != nil {
				return slot.err
			}
			return classifyError("upsert records", err)
		}
	}
	if len(vectors) > 0 {
		if _, err := c.UpsertVectors(ctx, vectors); err != nil {
			return classifyError("upsert vectors", err)
		}
	}
	return nil
}

func (p *PineconeIndex) Query(ctx context.Context, namespace string, req port.QueryRequest) ([]port.IndexMatch, error) {
	c, err := p.conn(namespace)
	if err != nil {
		return nil, err
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	in := &pinecone.QueryByVectorValuesRequest{
		Vector:          req.Vector,
		TopK:            uint32(max(req.TopK, 0)),
		IncludeMetadata: req.IncludeMetadata,
	}
	if len(req.Filter) > 0 {
		if in.MetadataFilter, err = toStruct(req.Filter); err != nil {
			return nil, fmt.Errorf("encode filter: %w", err)
		}
	}

	resp, err := c.QueryByVectorValues(ctx, in)
	if err != nil {
		return nil, classifyError("query", err)
	}

	matches := make([]port.IndexMatch, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if m == nil || m.Vector == nil {
			continue
		}
		matches = append(matches, port.IndexMatch{
			ID:       m.Vector.Id,
			Score:    float64(m.Score),
			Metadata: fromStruct(m.Vector.Metadata),
		})
	}
	if len(matches) > req.TopK {
		matches = matches[:req.TopK]
	}
	return matches, nil
}

func (p *PineconeIndex) DeleteByIDs(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	c, err := p.conn(namespace)
	if err != nil {
		return err
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	if err := c.DeleteVectorsById(ctx, ids); err != nil {
		return classifyError("delete", err)
	}
	return nil
}

func (p *PineconeIndex) FetchByIDs(ctx context.Context, namespace string, ids []string) (map[string]port.IndexRecord, error) {
	out := make(map[string]port.IndexRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	c, err := p.conn(namespace)
	if err != nil {
		return nil, err
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	resp, err := c.FetchVectors(ctx, ids)
	if err != nil {
		return nil, classifyError("fetch", err)
	}
	for id, v := range resp.Vectors {
		if v == nil {
			continue
		}
		meta := fromStruct(v.Metadata)
		text, _ := meta[p.textField].(string)
		rec := port.IndexRecord{ID: id, Text: text, Metadata: meta}
		if v.Values != nil {
			rec.Vector = *v.Values
		}
		out[id] = rec
	}
	return out, nil
}

func (p *PineconeIndex) DescribeStats(ctx context.Context) (domain.IndexStats, error) {
	c, err := p.conn("")
	if err != nil {
		return domain.IndexStats{}, err
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	resp, err := c.DescribeIndexStats(ctx)
	if err != nil {
		return domain.IndexStats{}, classifyError("describe index stats", err)
	}

	stats := domain.IndexStats{
		TotalRecordCount: int(resp.TotalVectorCount),
		IndexFullness:    float64(resp.IndexFullness),
		Namespaces:       make(map[string]int, len(resp.Namespaces)),
		Region:           p.Region(),
	}
	if resp.Dimension != nil {
		stats.Dimension = int(*resp.Dimension)
	}
	for ns, s := range resp.Namespaces {
		if s != nil {
			stats.Namespaces[namespaceName(ns)] = int(s.VectorCount)
		}
	}
	if p.info.Embed != nil {
		stats.EmbedModel = p.info.Embed.Model
	}
	return stats, nil
}

// Close closes every namespace connection.
func (p *PineconeIndex) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for key, c := range p.conns {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(p.conns, key)
	}
	return errors.Join(errs...)
}

// toStruct converts through JSON so typed slices and maps are accepted.
func toStruct(m map[string]any) (*structpb.Struct, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var plain map[string]any
	if err := json.Unmarshal(data, &plain); err != nil {
		return nil, err
	}
	return structpb.NewStruct(plain)
}

func fromStruct(s *structpb.Struct) map[string]any {
	if s == nil {
		return nil
	}
	return s.AsMap()
}

// classifyError maps SDK, gRPC and transport failures onto the domain
// sentinels.
func classifyError(op string, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var pe *pinecone.PineconeError
	if errors.As(err, &pe) {
		msg := pe.Error()
		var body struct {
			Message string `json:"message"`
			Body    string `json:"body"`
		}
		if json.Unmarshal([]byte(msg), &body) == nil {
			switch {
			case body.Message != "":
				msg = body.Message
			case body.Body != "":
				msg = body.Body
			}
		}
		return newAPIError(op, pe.Code, []byte(msg))
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return newAPIError(op, grpcHTTPStatus(st.Code()), []byte(st.Message()))
	}

	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrIndexUnavailable, op, err)
}

func grpcHTTPStatus(code codes.Code) int {
	switch code {
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// newAPIError extracts the message from either error envelope Pinecone uses
// and picks the sentinel the caller can test with errors.Is.
func newAPIError(op string, status int, body []byte) *APIError {
	msg := strings.TrimSpace(string(body))
	var env struct {
		Message string `json:"message"`
		Error   *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		switch {
		case env.Error != nil && env.Error.Message != "":
			msg = env.Error.Message
		case env.Message != "":
			msg = env.Message
		}
	}

	apiErr := &APIError{Op: op, Status: status, Message: msg, kind: domain.ErrIndexUnavailable}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		apiErr.kind = domain.ErrIndexUnauthorized
	case status == http.StatusBadRequest && domain.IsDimensionMismatch(errors.New(msg)):
		apiErr.kind = domain.ErrDimensionMismatch
	}
	return apiErr
}

type errorSlotKey struct{}

// errorSlot carries a classified records error past the SDK, which formats
// upsert failures with %v.
type errorSlot struct {
	err error
}

// recordsTransport fails non-2xx records responses. The SDK does not check
// the status of records upserts.
type recordsTransport struct {
	base http.RoundTripper
}

func (t *recordsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || !strings.HasPrefix(req.URL.Path, "/records/") || resp.StatusCode/100 == 2 {
		return resp, err
	}
	defer resp.Body.Close()
	slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := newAPIError("upsert records", resp.StatusCode, bytes.TrimSpace(slurp))
	if slot, ok := req.Context().Value(errorSlotKey{}).(*errorSlot); ok {
		slot.err = apiErr
	}
	return nil, apiErr
}
