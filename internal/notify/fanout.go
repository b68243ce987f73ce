package notify

import (
	"context"
	"errors"

	"github.com/familienverein/meistereder/internal/agent"
	"github.com/familienverein/meistereder/internal/events"
)

// Fanout delivers every notification to all targets. One failing target
// does not keep the others from being tried.
type Fanout []agent.Notifier

func (f Fanout) each(fn func(agent.Notifier) error) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := fn(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) NotifyAdmin(ctx context.Context, ev events.RegistrationSubmitted) error {
	return f.each(func(n agent.Notifier) error { return n.NotifyAdmin(ctx, ev) })
}

func (f Fanout) NotifyRegistrationUpdate(ctx context.Context, ev events.RegistrationUpdated) error {
	return f.each(func(n agent.Notifier) error { return n.NotifyRegistrationUpdate(ctx, ev) })
}

func (f Fanout) NotifyParent(ctx context.Context, ev events.ParentConfirmation) error {
	return f.each(func(n agent.Notifier) error { return n.NotifyParent(ctx, ev) })
}

func (f Fanout) NotifyLoopEscalation(ctx context.Context, ev events.LoopEscalation) error {
	return f.each(func(n agent.Notifier) error { return n.NotifyLoopEscalation(ctx, ev) })
}
