package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/diyartec/calassist/internal/instrumentation"
)

// PrimaryCalendarID addresses the signed-in user's own calendar.
const PrimaryCalendarID = "primary"

// Defaults for Config.
const (
	DefaultBaseURL      = "https://www.googleapis.com/calendar/v3/"
	DefaultMaxAttempts  = 3
	DefaultBackoff      = 300 * time.Millisecond
	DefaultEventTimeout = 8 * time.Second
	DefaultListTimeout  = 6 * time.Second
)

// ErrNotFound is returned when Google answers 404.
var ErrNotFound = errors.New("calendar: not found")

// Recorder receives per-call metrics.
type Recorder interface {
	RecordGoogleAPIOperation(ctx context.Context, service, operation, status string, duration time.Duration)
}

// Config configures a Proxy.
type Config struct {
	// BaseURL overrides the API root; it must end with a slash.
	BaseURL string
	// Transport is the underlying round tripper (default http.DefaultTransport).
	Transport http.RoundTripper

	MaxAttempts  int
	Backoff      time.Duration
	EventTimeout time.Duration
	ListTimeout  time.Duration

	Recorder Recorder
	// Logger receives retry attempts at debug level. Nil disables them.
	Logger *slog.Logger
}

// Proxy performs calendar calls on behalf of a session.
type Proxy struct {
	cfg Config
}

// NewProxy creates a proxy, filling unset fields with defaults.
func NewProxy(cfg Config) *Proxy {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = DefaultEventTimeout
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = DefaultListTimeout
	}
	return &Proxy{cfg: cfg}
}

func (p *Proxy) service(ctx context.Context, accessToken string, timeout time.Duration) (*calendar.Service, error) {
	client := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
			Base:   newRetryTransport(p.cfg.Transport, p.cfg.MaxAttempts, p.cfg.Backoff, timeout, p.cfg.Logger),
		},
	}
	svc, err := calendar.NewService(ctx, option.WithHTTPClient(client), option.WithEndpoint(p.cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}
	return svc, nil
}

// observe wraps one API call with a span and a metric.
func (p *Proxy) observe(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceCalendar, operation)
	defer span.End()

	err := mapError(fn(ctx))
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	if p.cfg.Recorder != nil {
		p.cfg.Recorder.RecordGoogleAPIOperation(ctx, instrumentation.ServiceCalendar, operation, status, time.Since(start))
	}
	return err
}

// PrimaryCalendars lists the user's calendar list.
func (p *Proxy) PrimaryCalendars(ctx context.Context, accessToken string) (*calendar.CalendarList, error) {
	var out *calendar.CalendarList
	err := p.observe(ctx, "calendar_list", func(ctx context.Context) error {
		svc, err := p.service(ctx, accessToken, p.cfg.ListTimeout)
		if err != nil {
			return err
		}
		out, err = svc.CalendarList.List().Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}
	return out, nil
}

// CreateEvent inserts ev into the primary calendar.
func (p *Proxy) CreateEvent(ctx context.Context, accessToken string, ev *calendar.Event) (*calendar.Event, error) {
	var out *calendar.Event
	err := p.observe(ctx, "insert", func(ctx context.Context) error {
		svc, err := p.service(ctx, accessToken, p.cfg.EventTimeout)
		if err != nil {
			return err
		}
		out, err = svc.Events.Insert(PrimaryCalendarID, ev).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	return out, nil
}

// GetEvent fetches one event from the primary calendar.
func (p *Proxy) GetEvent(ctx context.Context, accessToken, eventID string) (*calendar.Event, error) {
	var out *calendar.Event
	err := p.observe(ctx, "get", func(ctx context.Context) error {
		svc, err := p.service(ctx, accessToken, p.cfg.EventTimeout)
		if err != nil {
			return err
		}
		out, err = svc.Events.Get(PrimaryCalendarID, eventID).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return out, nil
}

// UpdateEvent replaces an event in the primary calendar.
func (p *Proxy) UpdateEvent(ctx context.Context, accessToken, eventID string, ev *calendar.Event) (*calendar.Event, error) {
	var out *calendar.Event
	err := p.observe(ctx, "update", func(ctx context.Context) error {
		svc, err := p.service(ctx, accessToken, p.cfg.EventTimeout)
		if err != nil {
			return err
		}
		out, err = svc.Events.Update(PrimaryCalendarID, eventID, ev).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update event: %w", err)
	}
	return out, nil
}

// DeleteEvent removes an event from the primary calendar.
func (p *Proxy) DeleteEvent(ctx context.Context, accessToken, eventID string) error {
	err := p.observe(ctx, "delete", func(ctx context.Context) error {
		svc, err := p.service(ctx, accessToken, p.cfg.EventTimeout)
		if err != nil {
			return err
		}
		return svc.Events.Delete(PrimaryCalendarID, eventID).Context(ctx).Do()
	})
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

// mapError turns a Google 404 into ErrNotFound, keeping the original error
// in the chain.
func mapError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return errors.Join(ErrNotFound, err)
	}
	return err
}

// StatusOf returns the HTTP status Google answered with, or 0.
func StatusOf(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}
