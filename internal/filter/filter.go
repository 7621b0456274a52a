// Package filter holds the checks that can drop an event before the debounce
// policy ever sees it.
package filter

import (
	"context"
	"errors"
	"strings"

	"github.com/hamed0406/delayedmailer/internal/domain"
)

// Filter returns a non-empty reason when ev must be suppressed.
type Filter interface {
	Name() string
	Filter(ctx context.Context, ev domain.Event) (string, error)
}

// API is the subset of the monitoring API the filters query.
type API interface {
	StashExists(ctx context.Context, path string) (bool, error)
	EventExists(ctx context.Context, client, check string) (bool, error)
}

type Func struct {
	N string
	F func(ctx context.Context, ev domain.Event) (string, error)
}

func (f Func) Name() string { return f.N }
func (f Func) Filter(ctx context.Context, ev domain.Event) (string, error) {
	return f.F(ctx, ev)
}

// Disabled drops events whose check sets "alert": false.
func Disabled() Filter {
	return Func{N: "disabled", F: func(_ context.Context, ev domain.Event) (string, error) {
		if ev.AlertDisabled() {
			return "alert disabled", nil
		}
		return "", nil
	}}
}

// Silenced drops events covered by a silence stash on the client or on the
// client/check pair.
func Silenced(api API) Filter {
	return Func{N: "silenced", F: func(ctx context.Context, ev domain.Event) (string, error) {
		stashes := []string{
			"silence/" + ev.Client.Name,
			"silence/" + ev.Client.Name + "/" + ev.Check.Name,
		}
		for _, s := range stashes {
			ok, err := api.StashExists(ctx, s)
			if err != nil {
				return "", err
			}
			if ok {
				return "silenced by " + s, nil
			}
		}
		return "", nil
	}}
}

// Dependencies drops events while a check they depend on is itself failing.
// A dependency is either "check" (same client) or "client/check".
func Dependencies(api API) Filter {
	return Func{N: "dependencies", F: func(ctx context.Context, ev domain.Event) (string, error) {
		for _, dep := range ev.Check.Dependencies {
			client, check := ev.Client.Name, dep
			if i := strings.Index(dep, "/"); i >= 0 {
				client, check = dep[:i], dep[i+1:]
			}
			if client == "" || check == "" {
				continue
			}
			ok, err := api.EventExists(ctx, client, check)
			if err != nil {
				return "", err
			}
			if ok {
				return "dependency " + client + "/" + check + " has an open event", nil
			}
		}
		return "", nil
	}}
}

// Chain runs filters in order and stops at the first suppression. A failing
// filter does not stop the chain; its error is returned next to whatever the
// remaining filters decided.
type Chain []Filter

func (c Chain) Filter(ctx context.Context, ev domain.Event) (string, error) {
	var errs []error
	for _, f := range c {
		reason, err := f.Filter(ctx, ev)
		if err != nil {
			errs = append(errs, &Error{Filter: f.Name(), Err: err})
			continue
		}
		if reason != "" {
			return f.Name() + ": " + reason, errors.Join(errs...)
		}
	}
	return "", errors.Join(errs...)
}

// Standard is the default chain. Filters that need the API are left out when
// api is nil.
func Standard(api API) Chain {
	c := Chain{Disabled()}
	if api != nil {
		c = append(c, Silenced(api), Dependencies(api))
	}
	return c
}

type Error struct {
	Filter string
	Err    error
}

func (e *Error) Error() string { return "filter " + e.Filter + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }
