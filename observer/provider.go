package observer

import (
	"context"
	"time"

	"github.com/nevindra/ember"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedProvider wraps an ember.Provider with OTEL instrumentation.
// Place it under the retry decorator so every physical attempt is visible:
//
//	llm := ember.WithRetry(observer.WrapProvider(raw, model, inst))
type ObservedProvider struct {
	inner ember.Provider
	inst  *Instruments
	model string
}

// WrapProvider returns an instrumented provider emitting spans and metrics.
func WrapProvider(inner ember.Provider, model string, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst, model: model}
}

func (o *ObservedProvider) Name() string { return o.inner.Name() }

func (o *ObservedProvider) Chat(ctx context.Context, req ember.ChatRequest) (ember.ChatResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.chat", trace.WithAttributes(
		AttrLLMModel.String(o.modelOf(req)),
		AttrLLMProvider.String(o.inner.Name()),
		AttrToolCount.Int(len(req.Tools)),
	))
	defer span.End()
	start := time.Now()

	resp, err := o.inner.Chat(ctx, req)
	o.record(ctx, span, "chat", start, resp.Usage, err)
	return resp, err
}

func (o *ObservedProvider) ChatStream(ctx context.Context, req ember.ChatRequest, ch chan<- ember.AgentEvent) (ember.ChatResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.chat_stream", trace.WithAttributes(
		AttrLLMModel.String(o.modelOf(req)),
		AttrLLMProvider.String(o.inner.Name()),
		AttrToolCount.Int(len(req.Tools)),
	))
	defer span.End()
	start := time.Now()

	resp, err := o.inner.ChatStream(ctx, req, ch)
	o.record(ctx, span, "chat_stream", start, resp.Usage, err)
	return resp, err
}

func (o *ObservedProvider) modelOf(req ember.ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return o.model
}

func (o *ObservedProvider) record(ctx context.Context, span trace.Span, method string, start time.Time, usage ember.Usage, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		AttrTokensInput.Int(usage.InputTokens),
		AttrTokensOutput.Int(usage.OutputTokens),
	)

	attrs := metric.WithAttributes(
		AttrLLMProvider.String(o.inner.Name()),
		AttrLLMMethod.String(method),
		AttrAgentStatus.String(status),
	)
	o.inst.LLMRequests.Add(ctx, 1, attrs)
	o.inst.LLMDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	if usage.InputTokens+usage.OutputTokens > 0 {
		o.inst.TokenUsage.Add(ctx, int64(usage.InputTokens+usage.OutputTokens), attrs)
	}
}

var _ ember.Provider = (*ObservedProvider)(nil)
