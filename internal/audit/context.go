package audit

import (
	"context"
	"strings"
)

type ctxKey string

const provenanceKey ctxKey = "audit_provenance"

// Provenance carries the network origin of the call being audited.
type Provenance struct {
	IPAddress string
	UserAgent string
	RequestID string
}

// WithProvenance attaches provenance to ctx for every entry appended under it.
func WithProvenance(ctx context.Context, p Provenance) context.Context {
	p.IPAddress = strings.TrimSpace(p.IPAddress)
	p.UserAgent = strings.TrimSpace(p.UserAgent)
	p.RequestID = strings.TrimSpace(p.RequestID)
	if p == (Provenance{}) {
		return ctx
	}
	return context.WithValue(ctx, provenanceKey, p)
}

// WithRequestID sets only the request id, keeping any other provenance.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	p := ProvenanceFromContext(ctx)
	p.RequestID = requestID
	return WithProvenance(ctx, p)
}

// ProvenanceFromContext returns the attached provenance or the zero value.
func ProvenanceFromContext(ctx context.Context) Provenance {
	if ctx == nil {
		return Provenance{}
	}
	if p, ok := ctx.Value(provenanceKey).(Provenance); ok {
		return p
	}
	return Provenance{}
}
