// Package forward implements the forward engine (spec.md §4.6, component
// C6): it bounds concurrent origin requests, queues overflow up to a
// fixed multiple of that bound, and synthesizes a 503 response once even
// the queue is full, instead of ever blocking the tunnel reader loop
// unboundedly.
package forward

import (
	"context"
	"fmt"

	"github.com/jpillora/sizestr"
	"go.uber.org/zap"

	"github.com/aduki-Inc/Pori/internal/origin"
	"github.com/aduki-Inc/Pori/internal/protocol"
	"github.com/aduki-Inc/Pori/internal/stats"
)

// Config controls the engine's concurrency bound.
type Config struct {
	// MaxConcurrent is the number of requests allowed in flight against
	// the origin at once (mirrors origin.Config.MaxConnections).
	MaxConcurrent int

	// QueueMultiplier sizes the bounded wait queue as a multiple of
	// MaxConcurrent (spec.md §4.6 default is 4).
	QueueMultiplier int
}

// Engine dispatches decoded HttpRequest frames to the local origin and
// produces the HttpResponse frame to send back over the tunnel.
type Engine struct {
	client *origin.Client
	stats  *stats.State
	log    *zap.SugaredLogger

	sem   chan struct{}
	queue chan struct{}
}

// New builds an Engine bounded per cfg.
func New(client *origin.Client, st *stats.State, logger *zap.SugaredLogger, cfg Config) *Engine {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	mult := cfg.QueueMultiplier
	if mult <= 0 {
		mult = 4
	}
	return &Engine{
		client: client,
		stats:  st,
		log:    logger,
		sem:    make(chan struct{}, maxConcurrent),
		queue:  make(chan struct{}, maxConcurrent*mult),
	}
}

// Handle implements tunnel.Handler: it is invoked once per decoded
// HttpRequest frame and returns the HttpResponse frame to send back.
func (e *Engine) Handle(ctx context.Context, f protocol.Frame) protocol.Frame {
	if f.Kind != protocol.KindHTTPRequest {
		return protocol.Frame{}
	}

	e.stats.IncRequestsProcessed()

	select {
	case e.queue <- struct{}{}:
	default:
		e.stats.IncRequestsFailed()
		e.stats.PublishError(fmt.Sprintf("queue full, rejecting %s %s", f.Method, f.Target))
		return serviceUnavailable(f.RequestID)
	}
	defer func() { <-e.queue }()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		e.stats.IncRequestsFailed()
		return serviceUnavailable(f.RequestID)
	}
	defer func() { <-e.sem }()

	resp, err := e.client.Forward(ctx, f.Method, f.Target, f.RequestID, f.Headers, f.Body)
	if err != nil {
		e.stats.IncRequestsFailed()
		if e.log != nil {
			e.log.Warnw("forward request failed", "request_id", f.RequestID, "method", f.Method, "target", f.Target, "error", err)
		}
		return errorResponse(f.RequestID, err)
	}

	e.stats.IncRequestsSuccessful()
	e.stats.AddBytesForwarded(int64(len(resp.Body)))
	e.stats.PublishRequestForwarded(fmt.Sprintf("%s %s -> %d (%s)", f.Method, f.Target, resp.Status, sizestr.ToString(int64(len(resp.Body)))))

	return protocol.Frame{
		Kind:       protocol.KindHTTPResponse,
		RequestID:  f.RequestID,
		Status:     resp.Status,
		StatusText: resp.StatusText,
		Headers:    resp.Headers,
		Body:       resp.Body,
	}
}

func serviceUnavailable(requestID string) protocol.Frame {
	return protocol.Frame{
		Kind:       protocol.KindHTTPResponse,
		RequestID:  requestID,
		Status:     503,
		StatusText: "Service Unavailable",
		Headers:    map[string][]string{"content-type": {"text/plain"}},
		Body:       []byte("tunnel client is overloaded"),
	}
}

// errorResponse always materializes an OriginError as a synthetic 502
// response frame (spec.md §4.1/§4.6/§7): the tunnel never distinguishes
// origin failure kinds to the far side of the tunnel.
func errorResponse(requestID string, err error) protocol.Frame {
	return protocol.Frame{
		Kind:       protocol.KindHTTPResponse,
		RequestID:  requestID,
		Status:     502,
		StatusText: "Bad Gateway",
		Headers:    map[string][]string{"content-type": {"text/plain"}},
		Body:       []byte(err.Error()),
	}
}
