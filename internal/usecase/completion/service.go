// Package completion forwards chat completion requests to the upstream API
// and hands every productive exchange to the accountant.
package completion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/spendgate/internal/domain"
	domcompletion "github.com/kailas-cloud/spendgate/internal/domain/completion"
	"github.com/kailas-cloud/spendgate/internal/metrics"
	"github.com/kailas-cloud/spendgate/internal/sse"
	"github.com/kailas-cloud/spendgate/internal/usecase/accounting"
)

const (
	modeBuffered = "buffered"
	modeStream   = "stream"

	readBufferSize = 32 * 1024

	// maxErrorBodyBytes caps how much of an upstream error body is echoed in-band.
	maxErrorBodyBytes = 64 * 1024
)

// Reply is a buffered upstream answer, relayed to the client as is.
type Reply struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Service is the completion forwarder.
type Service struct {
	upstream   domcompletion.Upstream
	counter    Counter
	accountant Accountant
	logger     *zap.Logger
}

// New creates a Service.
func New(upstream domcompletion.Upstream, counter Counter, accountant Accountant, logger *zap.Logger) *Service {
	return &Service{
		upstream:   upstream,
		counter:    counter,
		accountant: accountant,
		logger:     logger,
	}
}

// Complete forwards a buffered request. A successful reply is billed before
// Complete returns; a non-success reply is relayed without billing.
// Transport failures return an error wrapping domain.ErrUpstreamUnavailable.
func (s *Service) Complete(ctx context.Context, user string, req domcompletion.Request) (Reply, error) {
	estimated := s.counter.CountMessages(req.Messages)
	start := time.Now()

	resp, err := s.upstream.Send(ctx, req.Body)
	if err != nil {
		s.observe(modeBuffered, "transport_error", start)
		s.logger.Warn("Upstream request failed",
			zap.String("user", user),
			zap.String("model", req.Model),
			zap.Error(err),
		)
		return Reply{}, upstreamErr(err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		s.observe(modeBuffered, "transport_error", start)
		return Reply{}, upstreamErr(fmt.Errorf("read upstream body: %w", err))
	}

	reply := Reply{StatusCode: resp.StatusCode, ContentType: resp.ContentType, Body: body}
	if !resp.OK() {
		s.observe(modeBuffered, "upstream_error", start)
		s.logger.Info("Upstream returned non-success",
			zap.String("user", user),
			zap.String("model", req.Model),
			zap.Int("status", resp.StatusCode),
		)
		return reply, nil
	}
	s.observe(modeBuffered, "ok", start)

	// The answer is already produced: a client hang-up must not skip billing.
	in, out := domcompletion.ParseUsage(body).Tokens(estimated)
	s.accountant.Record(context.WithoutCancel(ctx), accounting.NewBuffered(user, req, in, out))

	return reply, nil
}

// Stream relays the upstream event stream to sink chunk by chunk. Failures
// are reported in-band as an error event followed by the termination marker,
// so Stream has no error result. Once an upstream success response is open,
// whatever arrived is billed out of band, including after a client
// disconnect or an upstream drop.
func (s *Service) Stream(ctx context.Context, user string, req domcompletion.Request, sink Sink) {
	estimated := s.counter.CountMessages(req.Messages)
	start := time.Now()

	resp, err := s.upstream.Send(ctx, req.Body)
	if err != nil {
		s.observe(modeStream, "transport_error", start)
		s.logger.Warn("Upstream stream failed to open",
			zap.String("user", user),
			zap.String("model", req.Model),
			zap.Error(err),
		)
		s.fail(sink, sse.ProxyErrorEvent(err.Error()))
		return
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if !resp.OK() {
		s.observe(modeStream, "upstream_error", start)
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		if err != nil {
			s.logger.Warn("Failed to read upstream error body",
				zap.String("user", user),
				zap.String("model", req.Model),
				zap.Error(err),
			)
		}
		s.logger.Info("Upstream returned non-success",
			zap.String("user", user),
			zap.String("model", req.Model),
			zap.Int("status", resp.StatusCode),
		)
		s.fail(sink, sse.UpstreamErrorEvent(string(body), resp.StatusCode))
		return
	}

	chunks, outcome := s.relay(ctx, resp.Body, sink)
	s.observe(modeStream, outcome, start)
	if outcome != "ok" {
		s.logger.Warn("Stream interrupted",
			zap.String("user", user),
			zap.String("model", req.Model),
			zap.String("outcome", outcome),
			zap.Int("chunks", len(chunks)),
		)
	}

	s.accountant.RecordAsync(ctx, accounting.NewStreamed(user, req, estimated, chunks))
}

// relay copies body to sink, keeping a copy of every chunk it read.
func (s *Service) relay(ctx context.Context, body io.Reader, sink Sink) ([][]byte, string) {
	var chunks [][]byte
	buf := make([]byte, readBufferSize)

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			chunk := bytes.Clone(buf[:n])
			chunks = append(chunks, chunk)
			if err := sink.Send(chunk); err != nil {
				return chunks, "interrupted"
			}
		}
		if errors.Is(rerr, io.EOF) {
			return chunks, "ok"
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return chunks, "interrupted"
			}
			s.fail(sink, sse.ProxyErrorEvent(rerr.Error()))
			return chunks, "transport_error"
		}
	}
}

// fail ends the client stream with an error event and the termination marker.
func (s *Service) fail(sink Sink, event []byte) {
	if err := sink.Send(event); err != nil {
		return
	}
	_ = sink.Send(sse.Done)
}

func (s *Service) observe(mode, outcome string, start time.Time) {
	metrics.UpstreamRequestsTotal.WithLabelValues(mode, outcome).Inc()
	metrics.UpstreamRequestDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}

func upstreamErr(err error) error {
	if errors.Is(err, domain.ErrUpstreamUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
}
