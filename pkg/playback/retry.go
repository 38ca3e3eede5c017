package playback

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ipublishingjp/selenium-ide/pkg/commands"
	"github.com/ipublishingjp/selenium-ide/pkg/driver"
	"github.com/ipublishingjp/selenium-ide/pkg/model"
)

// invoke calls exec, retrying transient failures with exponential backoff
// until the implicit wait elapses. Other failures end the attempt at once.
func (e *Engine) invoke(ctx context.Context, exec commands.Executor, env *commands.Env, target, value string) (commands.Result, error) {
	if e.cfg.ImplicitWait <= 0 {
		return exec(ctx, env, target, value)
	}
	attempt := 0
	op := func() (commands.Result, error) {
		attempt++
		res, err := exec(ctx, env, target, value)
		if err != nil && !driver.IsTransient(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.RetryInterval
	b.MaxInterval = max(e.cfg.RetryInterval, e.cfg.ImplicitWait/4)
	b.RandomizationFactor = 0.1
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(e.cfg.ImplicitWait),
		backoff.WithNotify(func(err error, next time.Duration) {
			env.Log.Debug("retrying command", "attempt", attempt, "next", next, "error", err)
		}),
	)
}

func testAttrs(test *model.Test, start, end int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("side.test.id", test.ID),
		attribute.String("side.test.name", test.Name),
		attribute.Int("side.range.start", start),
		attribute.Int("side.range.end", end),
	}
}

func (e *Engine) startCommandSpan(ctx context.Context, b *block, pc int) (context.Context, trace.Span) {
	cmd := b.test.Commands[pc]
	return e.tracer.Start(ctx, fmt.Sprintf("command %s", cmd.Command), trace.WithAttributes(
		attribute.String("side.test.name", b.test.Name),
		attribute.String("side.command.id", cmd.ID),
		attribute.String("side.command.name", cmd.Command),
		attribute.Int("side.command.index", pc),
		attribute.Int("side.depth", b.depth),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
