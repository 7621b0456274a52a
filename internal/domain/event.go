package domain

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

type Action string

const (
	ActionCreate   Action = "create"
	ActionResolve  Action = "resolve"
	ActionFlapping Action = "flapping"
)

// IsResolve reports whether the action closes an incident. Any other action,
// including unknown ones, is treated as an alert.
func (a Action) IsResolve() bool { return a == ActionResolve }

// Identity namespaces all ledger entries for one client/check pair.
type Identity string

type Client struct {
	Name          string   `json:"name"`
	Address       string   `json:"address,omitempty"`
	Subscriptions []string `json:"subscriptions,omitempty"`
}

type Check struct {
	Name         string   `json:"name"`
	Command      string   `json:"command,omitempty"`
	Output       string   `json:"output"`
	Status       int      `json:"status"`
	Flapping     bool     `json:"flapping"`
	Issued       int64    `json:"issued"`
	Interval     int      `json:"interval,omitempty"`
	Notification string   `json:"notification,omitempty"`
	Alert        *bool    `json:"alert,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// Event is one monitoring event handed to the mailer.
type Event struct {
	Client      Client `json:"client"`
	Check       Check  `json:"check"`
	Action      Action `json:"action"`
	Occurrences int    `json:"occurrences"`
}

func (e Event) Identity() Identity {
	return Identity(e.Client.Name + "/" + e.Check.Name)
}

func (e Event) IssuedAt() time.Time {
	return time.Unix(e.Check.Issued, 0)
}

// AlertDisabled is true only when the check explicitly sets "alert": false.
func (e Event) AlertDisabled() bool {
	return e.Check.Alert != nil && !*e.Check.Alert
}

// Validate ensures the fields the handler relies on are present.
func (e Event) Validate() error {
	if e.Client.Name == "" {
		return &MissingFieldError{Field: "client.name"}
	}
	if e.Check.Name == "" {
		return &MissingFieldError{Field: "check.name"}
	}
	if e.Check.Issued <= 0 {
		return &MissingFieldError{Field: "check.issued"}
	}
	if e.Action == "" {
		return &MissingFieldError{Field: "action"}
	}
	if e.Occurrences < 0 {
		return fmt.Errorf("occurrences cannot be negative, got %d", e.Occurrences)
	}
	return nil
}

// MissingFieldError names the dotted path of a required event field.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("malformed event: missing %s", e.Field)
}

// wire mirrors Event with pointers so absent keys can be told apart from
// zero values.
type wire struct {
	Client *struct {
		Name          *string  `json:"name"`
		Address       string   `json:"address"`
		Subscriptions []string `json:"subscriptions"`
	} `json:"client"`
	Check *struct {
		Name         *string  `json:"name"`
		Command      string   `json:"command"`
		Output       *string  `json:"output"`
		Status       int      `json:"status"`
		Flapping     bool     `json:"flapping"`
		Issued       *int64   `json:"issued"`
		Interval     int      `json:"interval"`
		Notification string   `json:"notification"`
		Alert        *bool    `json:"alert"`
		Dependencies []string `json:"dependencies"`
	} `json:"check"`
	Action      *string `json:"action"`
	Occurrences *int    `json:"occurrences"`
}

// Unmarshal decodes an event from JSON and fails fast on missing fields.
func Unmarshal(data []byte) (Event, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return w.event()
}

// Decode reads a single JSON event from r.
func Decode(r io.Reader) (Event, error) {
	var w wire
	if err := json.NewDecoder(r).Decode(&w); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return w.event()
}

func (w wire) event() (Event, error) {
	switch {
	case w.Client == nil:
		return Event{}, &MissingFieldError{Field: "client"}
	case w.Client.Name == nil:
		return Event{}, &MissingFieldError{Field: "client.name"}
	case w.Check == nil:
		return Event{}, &MissingFieldError{Field: "check"}
	case w.Check.Name == nil:
		return Event{}, &MissingFieldError{Field: "check.name"}
	case w.Check.Output == nil:
		return Event{}, &MissingFieldError{Field: "check.output"}
	case w.Check.Issued == nil:
		return Event{}, &MissingFieldError{Field: "check.issued"}
	case w.Action == nil:
		return Event{}, &MissingFieldError{Field: "action"}
	}

	occurrences := 1
	if w.Occurrences != nil {
		occurrences = *w.Occurrences
	}

	ev := Event{
		Client: Client{
			Name:          *w.Client.Name,
			Address:       w.Client.Address,
			Subscriptions: w.Client.Subscriptions,
		},
		Check: Check{
			Name:         *w.Check.Name,
			Command:      w.Check.Command,
			Output:       *w.Check.Output,
			Status:       w.Check.Status,
			Flapping:     w.Check.Flapping,
			Issued:       *w.Check.Issued,
			Interval:     w.Check.Interval,
			Notification: w.Check.Notification,
			Alert:        w.Check.Alert,
			Dependencies: w.Check.Dependencies,
		},
		Action:      Action(*w.Action),
		Occurrences: occurrences,
	}
	return ev, ev.Validate()
}
