// Package notify delivers rendered alerts over email, SMS and Telegram.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/i474232898/climate-risk-alerts/internal/alert"
)

// Channel names a delivery channel.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelTelegram Channel = "telegram"
)

// Sender delivers a message to one recipient over one channel.
type Sender interface {
	Channel() Channel
	Send(ctx context.Context, to string, msg Message) error
}

// Recipients holds the per-channel destination; empty means "do not send".
type Recipients struct {
	Email    string `yaml:"email" validate:"omitempty,email"`
	SMS      string `yaml:"sms" validate:"omitempty,e164"`
	Telegram string `yaml:"telegram" validate:"omitempty,numeric"`
}

func (r Recipients) address(c Channel) string {
	switch c {
	case ChannelEmail:
		return r.Email
	case ChannelSMS:
		return r.SMS
	case ChannelTelegram:
		return r.Telegram
	default:
		return ""
	}
}

// Result reports per-channel delivery for attempted channels.
type Result map[Channel]bool

// Delivered reports whether any channel succeeded.
func (r Result) Delivered() bool {
	for _, ok := range r {
		if ok {
			return true
		}
	}
	return false
}

// Observer is notified of every delivery attempt.
type Observer func(c Channel, ok bool)

// Dispatcher fans an alert out to the configured channels. A channel is
// attempted only when it has both a sender (credentials present) and a
// recipient. Channels are independent: one failing never prevents another
// from being attempted.
type Dispatcher struct {
	order    []Channel
	senders  map[Channel]Sender
	timeout  time.Duration
	observer Observer
}

// NewDispatcher creates a Dispatcher. Nil senders are ignored, which is how
// channels without credentials are disabled.
func NewDispatcher(timeout time.Duration, senders ...Sender) *Dispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	d := &Dispatcher{senders: make(map[Channel]Sender), timeout: timeout}
	for _, s := range senders {
		if s == nil {
			continue
		}
		if _, dup := d.senders[s.Channel()]; !dup {
			d.order = append(d.order, s.Channel())
		}
		d.senders[s.Channel()] = s
	}
	return d
}

// SetObserver registers fn to be called after every delivery attempt.
func (d *Dispatcher) SetObserver(fn Observer) {
	d.observer = fn
}

// Channels returns the enabled channels in registration order.
func (d *Dispatcher) Channels() []Channel {
	return append([]Channel(nil), d.order...)
}

// Dispatch sends ev to every enabled channel with a recipient, once, without
// retry. Failures are logged and reported as false; Dispatch never panics or
// returns an error.
func (d *Dispatcher) Dispatch(ctx context.Context, ev alert.Event, to Recipients) Result {
	msg := Render(ev)
	res := make(Result)

	for _, c := range d.order {
		addr := to.address(c)
		if addr == "" {
			continue
		}
		ok := d.send(ctx, d.senders[c], addr, msg)
		res[c] = ok
		if d.observer != nil {
			d.observer(c, ok)
		}
		if ok {
			slog.Info("notify: alert sent", "channel", c, "metric", ev.Metric, "city", ev.City)
		}
	}

	if len(res) == 0 {
		slog.Warn("notify: no notification channel available; alert only logged",
			"metric", ev.Metric, "city", ev.City, "severity", ev.Severity)
	}
	return res
}

func (d *Dispatcher) send(ctx context.Context, s Sender, addr string, msg Message) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("notify: sender panicked", "channel", s.Channel(), "panic", r)
			ok = false
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := s.Send(ctx, addr, msg); err != nil {
		slog.Error("notify: alert failed", "channel", s.Channel(), "err", err)
		return false
	}
	return true
}
