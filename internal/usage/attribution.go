package usage

import "context"

// Attribution identifies who a generation was made for.
type Attribution struct {
	RequestID string
	SessionID int
	User      string
}

type attributionKey struct{}

// WithAttribution returns a context carrying a.
func WithAttribution(ctx context.Context, a Attribution) context.Context {
	return context.WithValue(ctx, attributionKey{}, a)
}

// AttributionFrom returns the Attribution on ctx, or the zero value.
func AttributionFrom(ctx context.Context) Attribution {
	a, _ := ctx.Value(attributionKey{}).(Attribution)
	return a
}
