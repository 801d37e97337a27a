// Package dispatch turns request lines into host effects and reply lines.
//
// Handle runs on a connection worker. Everything that touches the host is
// wrapped in a scheduler unit and executed on the host tick; the worker
// only waits for the correlated result. The resource caches are likewise
// only read and cleared from inside units.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"xpbridge/internal/cache"
	"xpbridge/internal/clock"
	"xpbridge/internal/codec"
	"xpbridge/internal/host"
	"xpbridge/internal/metrics"
	"xpbridge/internal/scheduler"
	"xpbridge/internal/types"
)

// Dispatcher handles get, set and cmd token groups against a Host.
type Dispatcher struct {
	log     *zap.Logger
	host    host.Host
	sched   *scheduler.Scheduler
	clock   clock.Clock
	metrics *metrics.Metrics

	variables *cache.Cache[string, host.VariableID]
	actions   *cache.Cache[string, host.ActionID]
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock sets the time source used to time holds.
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func New(log *zap.Logger, h host.Host, s *scheduler.Scheduler, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		log:   log.Named("dispatch"),
		host:  h,
		sched: s,
		clock: clock.Real(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.variables = cache.New[string, host.VariableID](h.FindVariable)
	d.actions = cache.New[string, host.ActionID](h.FindAction)
	return d
}

// Handle processes one raw request line and returns the reply line without
// its terminator. Groups are handled in order and their results joined
// positionally. A failure in one group never affects the others.
//
// ctx bounds every wait on the host tick. When it ends, the pending groups
// report their verb's failure token.
func (d *Dispatcher) Handle(ctx context.Context, raw string) string {
	groups := codec.Tokenize(raw)
	if len(groups) == 0 {
		d.metrics.ObserveRequest(types.VerbUnknown.String(), resultLabel(string(types.ReplyMalformedRequest)))
		return string(types.ReplyMalformedRequest)
	}

	replies := make([]string, len(groups))
	for i, group := range groups {
		replies[i] = d.handleGroup(ctx, group)
	}
	return codec.JoinReplies(replies)
}

func (d *Dispatcher) handleGroup(ctx context.Context, group []string) (reply string) {
	verb := types.ParseVerb(group[0])
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("request group panicked",
				zap.Strings("group", group),
				zap.Any("panic", r))
			reply = string(types.ReplyError)
		}
		d.metrics.ObserveRequest(verb.String(), resultLabel(reply))
	}()

	switch verb {
	case types.VerbGet:
		if len(group) < 2 {
			return string(types.ReplyMalformedRequest)
		}
		return d.get(ctx, group[1])

	case types.VerbSet:
		if len(group) != 4 {
			return string(types.ReplyMalformedRequest)
		}
		return d.set(ctx, group[1], group[2], group[3])

	case types.VerbCmd:
		if len(group) < 3 {
			return string(types.ReplyMalformedRequest)
		}
		var duration *string
		if len(group) >= 4 {
			duration = &group[3]
		}
		return d.cmd(ctx, group[1], group[2], duration)
	}

	d.log.Warn("invalid command", zap.String("verb", group[0]))
	return string(types.ReplyInvalidCommand)
}

func (d *Dispatcher) get(ctx context.Context, name string) string {
	reply, err := scheduler.Call(ctx, d.sched, func() (string, error) {
		id, ok := d.variables.Get(name)
		if !ok {
			return string(types.ReplyInvalidDataref), nil
		}
		v, err := d.host.ReadVariable(id)
		if err != nil {
			return "", err
		}
		return codec.EncodeResult(name, v)
	})
	if err != nil {
		d.log.Error("get failed", zap.String("name", name), zap.Error(err))
		return string(types.ReplyGetFailed)
	}
	return reply
}

func (d *Dispatcher) set(ctx context.Context, name, typeStr, valueStr string) string {
	val, err := codec.ParseValue(typeStr, valueStr)
	switch {
	case errors.Is(err, codec.ErrUnknownType):
		d.log.Warn("unknown type", zap.String("name", name), zap.String("type", typeStr))
		return string(types.ReplyUnknownType)
	case err != nil:
		d.log.Warn("malformed value", zap.String("name", name), zap.Error(err))
		return string(types.ReplyMalformedRequest)
	}

	reply, err := scheduler.Call(ctx, d.sched, func() (types.Reply, error) {
		id, ok := d.variables.Get(name)
		if !ok {
			return types.ReplyInvalidDataref, nil
		}

		hostType := d.host.VariableType(id)
		if !hostType.Has(val.Kind()) {
			d.log.Warn("type mismatch",
				zap.String("name", name),
				zap.Stringer("sent", val.Kind()),
				zap.Stringer("expected", hostType))
			return types.ReplyTypeMismatch, nil
		}
		if !d.host.CanWrite(id) {
			return types.ReplyNotWritable, nil
		}

		switch err := d.host.WriteVariable(id, val); {
		case err == nil:
			return types.ReplyOK, nil
		case errors.Is(err, host.ErrNotWritable):
			return types.ReplyNotWritable, nil
		case errors.Is(err, host.ErrTypeMismatch):
			return types.ReplyTypeMismatch, nil
		default:
			return "", err
		}
	})
	if err != nil {
		d.log.Error("set failed", zap.String("name", name), zap.Error(err))
		return string(types.ReplySetFailed)
	}
	return string(reply)
}

// parseHold reads a hold duration in milliseconds.
func parseHold(s string) (time.Duration, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || ms < 0 {
		return 0, fmt.Errorf("invalid hold duration %q", s)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func (d *Dispatcher) cmd(ctx context.Context, name, actionStr string, duration *string) string {
	reply, err := scheduler.Call(ctx, d.sched, func() (types.Reply, error) {
		id, ok := d.actions.Get(name)
		if !ok {
			d.log.Warn("action not found", zap.String("name", name))
			return types.ReplyInvalidCommand, nil
		}

		switch types.ParseActionMode(actionStr) {
		case types.ActionBegin:
			d.host.BeginAction(id)
		case types.ActionEnd:
			d.host.EndAction(id)
		case types.ActionOnce:
			d.host.FireAction(id)
		case types.ActionHold:
			if duration == nil {
				return types.ReplyMissingHold, nil
			}
			hold, err := parseHold(*duration)
			if err != nil {
				d.log.Warn("malformed hold", zap.String("name", name), zap.Error(err))
				return types.ReplyMalformedRequest, nil
			}
			d.startHold(name, id, hold)
		default:
			d.log.Warn("invalid command action", zap.String("name", name), zap.String("action", actionStr))
			return types.ReplyInvalidAction, nil
		}
		return types.ReplyOK, nil
	})
	if err != nil {
		d.log.Error("cmd failed", zap.String("name", name), zap.Error(err))
		return string(types.ReplyCmdFailed)
	}
	return string(reply)
}

// startHold begins the action now and queues a unit that ends it once the
// hold has elapsed, re-arming on every tick until then. It runs on the tick.
func (d *Dispatcher) startHold(name string, id host.ActionID, hold time.Duration) {
	d.host.BeginAction(id)
	start := d.clock.Now()

	release := func() scheduler.Status {
		if elapsed := d.clock.Now().Sub(start); elapsed < hold {
			d.log.Debug("hold re-armed", zap.String("name", name), zap.Duration("remaining", hold-elapsed))
			return scheduler.Pending
		}
		d.host.EndAction(id)
		d.metrics.HoldReleased()
		d.log.Debug("hold released", zap.String("name", name))
		return scheduler.Done
	}

	d.metrics.HoldStarted()
	if !d.sched.Schedule(release) {
		// Shutting down: nothing will ever end the hold, so end it here.
		d.host.EndAction(id)
		d.metrics.HoldReleased()
		d.log.Warn("hold cut short by shutdown", zap.String("name", name))
	}
}

// InvalidateCaches drops every memoized handle on the next tick. swap, if
// non-nil, runs in the same unit right before the caches are cleared, so a
// host resource swap and the invalidation are atomic with respect to every
// other unit. It reports false if the scheduler no longer accepts work.
func (d *Dispatcher) InvalidateCaches(swap func()) bool {
	return d.sched.Schedule(func() scheduler.Status {
		if swap != nil {
			swap()
		}
		d.variables.Clear()
		d.actions.Clear()
		d.log.Info("resource caches cleared")
		return scheduler.Done
	})
}

// resultLabel reduces a reply to a bounded metric label.
func resultLabel(reply string) string {
	if types.IsToken(reply) {
		return strings.Trim(reply, "{}")
	}
	return "ok"
}
