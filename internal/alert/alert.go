// Package alert is the dialog relay used to report results and ask for
// confirmation. A Relay holds at most one presenter and at most one visible
// dialog.
package alert

import (
	"errors"
	"sync"
)

// Kind selects the colour of a dialog.
type Kind string

const (
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindWarning Kind = "warning"
)

// Style is the role of a button.
type Style string

const (
	StyleDefault     Style = ""
	StyleCancel      Style = "cancel"
	StyleDestructive Style = "destructive"
)

var (
	ErrNotVisible    = errors.New("alert: no dialog is visible")
	ErrButtonOutside = errors.New("alert: button index out of range")
)

// Button is one choice of a dialog. OnPress may be nil.
type Button struct {
	Label   string
	Style   Style
	OnPress func()
}

// Alert is the content of a dialog.
type Alert struct {
	Title   string
	Message string
	Buttons []Button
	Kind    Kind
}

// Presenter draws dialogs.
type Presenter interface {
	Present(Alert)
	Hide()
}

// ConfirmOptions configures Relay.Confirm. Empty fields take the defaults
// "Confirm", "Are you sure?", "Confirm" and "Cancel".
type ConfirmOptions struct {
	Title        string
	Message      string
	ConfirmLabel string
	CancelLabel  string
	OnConfirm    func()
	OnCancel     func()
}

// Relay forwards alerts to the registered presenter.
type Relay struct {
	mu        sync.Mutex
	presenter Presenter
	current   Alert
	visible   bool
}

// NewRelay returns a relay without a presenter.
func NewRelay() *Relay {
	return &Relay{}
}

// SetPresenter registers p, replacing any previous presenter. A nil p
// unregisters.
func (r *Relay) SetPresenter(p Presenter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presenter = p
	if p == nil {
		r.visible = false
	}
}

// Show replaces the dialog content with a and makes it visible. It
// returns false when no presenter is registered.
func (r *Relay) Show(a Alert) bool {
	if len(a.Buttons) == 0 {
		a.Buttons = []Button{{Label: "OK"}}
	}
	if a.Kind == "" {
		a.Kind = KindInfo
	}

	r.mu.Lock()
	p := r.presenter
	if p == nil {
		r.mu.Unlock()
		return false
	}
	r.current = a
	r.visible = true
	r.mu.Unlock()

	p.Present(a)
	return true
}

// Confirm shows a two button dialog: cancel first, then the destructive
// confirm button.
func (r *Relay) Confirm(o ConfirmOptions) bool {
	a := Alert{
		Title:   or(o.Title, "Confirm"),
		Message: or(o.Message, "Are you sure?"),
		Kind:    KindInfo,
		Buttons: []Button{
			{Label: or(o.CancelLabel, "Cancel"), Style: StyleCancel, OnPress: o.OnCancel},
			{Label: or(o.ConfirmLabel, "Confirm"), Style: StyleDestructive, OnPress: o.OnConfirm},
		},
	}
	return r.Show(a)
}

// Press dismisses the dialog and then runs the callback of button i.
func (r *Relay) Press(i int) error {
	r.mu.Lock()
	if !r.visible {
		r.mu.Unlock()
		return ErrNotVisible
	}
	if i < 0 || i >= len(r.current.Buttons) {
		r.mu.Unlock()
		return ErrButtonOutside
	}
	b := r.current.Buttons[i]
	r.visible = false
	p := r.presenter
	r.mu.Unlock()

	if p != nil {
		p.Hide()
	}
	if b.OnPress != nil {
		b.OnPress()
	}
	return nil
}

// Hide dismisses the dialog without running any callback.
func (r *Relay) Hide() {
	r.mu.Lock()
	wasVisible := r.visible
	r.visible = false
	p := r.presenter
	r.mu.Unlock()
	if wasVisible && p != nil {
		p.Hide()
	}
}

// Visible reports whether a dialog is showing.
func (r *Relay) Visible() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.visible
}

// Current returns the last shown dialog and whether it is still visible.
func (r *Relay) Current() (Alert, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.visible
}

func or(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
