package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/diyartec/calassist/internal/audit"
	"github.com/diyartec/calassist/internal/instrumentation"
	"github.com/diyartec/calassist/internal/logging"
	"github.com/diyartec/calassist/internal/oauth"
)

// Error is a session failure with the reason code reported to the client.
type Error struct {
	Reason string
	Status int
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return "session: unauthenticated"
	}
	return "session: " + e.Reason
}

// Session failures. All 401s except where noted; the session has already been
// deleted from the store when one of the expiry or re-auth errors is returned.
var (
	ErrNoSession       = &Error{Status: 401}
	ErrExpiredAbsolute = &Error{Reason: "session_expired_absolute", Status: 401}
	ErrExpiredIdle     = &Error{Reason: "session_expired_idle", Status: 401}
	ErrReauthRequired  = &Error{Reason: "re_auth_required", Status: 401}
	ErrNoRefreshToken  = &Error{Reason: "no_refresh_token", Status: 401}

	// ErrRefreshUnavailable is a forced refresh on a session without a refresh token (400).
	ErrRefreshUnavailable = &Error{Reason: "no_refresh_token", Status: 400}
	// ErrRefreshFailed is a forced refresh the provider rejected transiently (502).
	ErrRefreshFailed = &Error{Reason: "refresh_failed", Status: 502}
)

// Policy holds the lifecycle thresholds.
type Policy struct {
	IdleTimeout     time.Duration
	AbsoluteTimeout time.Duration
	RotateInterval  time.Duration
	RefreshSkew     time.Duration
	// MaxIPs is the distinct client IP count above which an anomaly is reported.
	MaxIPs int
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{
		IdleTimeout:     30 * time.Minute,
		AbsoluteTimeout: 24 * time.Hour,
		RotateInterval:  15 * time.Minute,
		RefreshSkew:     60 * time.Second,
		MaxIPs:          3,
	}
}

// Refresher runs a refresh-token grant.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth.TokenSet, error)
}

// TokenCipher seals refresh tokens at rest.
type TokenCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(envelope string) (string, error)
}

// Recorder receives lifecycle metrics.
type Recorder interface {
	RecordSessionEvent(ctx context.Context, event string)
	RecordTokenRefresh(ctx context.Context, trigger, result string)
}

// Config wires a Manager.
type Config struct {
	Repository *Repository
	Refresher  Refresher
	Cipher     TokenCipher
	Policy     Policy
	Audit      *audit.Emitter
	Recorder   Recorder
	Logger     *slog.Logger
}

// Active is a validated session.
type Active struct {
	ID     string
	Record *Record
	// Rotated is set when Ensure replaced the id; the caller must send the new cookie.
	Rotated bool
}

// Manager enforces the session lifecycle.
type Manager struct {
	repo      *Repository
	refresher Refresher
	cipher    TokenCipher
	policy    Policy
	audit     *audit.Emitter
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager creates a lifecycle manager.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Policy.MaxIPs <= 0 {
		cfg.Policy.MaxIPs = DefaultPolicy().MaxIPs
	}
	return &Manager{
		repo:      cfg.Repository,
		refresher: cfg.Refresher,
		cipher:    cfg.Cipher,
		policy:    cfg.Policy,
		audit:     cfg.Audit,
		recorder:  cfg.Recorder,
		logger:    logging.WithComponent(cfg.Logger, "session"),
		now:       time.Now,
	}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Create persists a new session for a completed login. The refresh token, if
// any, is encrypted before it is stored.
func (m *Manager) Create(ctx context.Context, profile oauth.Profile, tokens *oauth.TokenSet, ip string) (*Active, error) {
	sid, err := NewID()
	if err != nil {
		return nil, err
	}
	secret, err := newCSRFSecret()
	if err != nil {
		return nil, err
	}

	now := m.now().UnixMilli()
	rec := &Record{
		User: profile,
		Tokens: Tokens{
			AccessToken: tokens.AccessToken,
			Scope:       tokens.Scope,
			AcquiredAt:  now,
			ExpiresIn:   tokens.ExpiresIn,
		},
		CreatedAt:  now,
		LastAccess: now,
		CSRFSecret: secret,
	}
	if ip != "" {
		rec.IPSet = []string{ip}
	}
	if tokens.RefreshToken != "" {
		env, err := m.cipher.Encrypt(tokens.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to seal refresh token: %w", err)
		}
		rec.Tokens.RefreshToken = env
	}

	if err := m.repo.Save(ctx, sid, rec); err != nil {
		return nil, err
	}
	m.recordEvent(ctx, "created")
	return &Active{ID: sid, Record: rec}, nil
}

// Ensure validates sid for a request from ip. In order it tracks the client
// IP, enforces the absolute then idle timeout, rotates or touches the
// session, and refreshes the access token when it is close to expiry.
//
// A *Error means the request is unauthenticated; other errors are storage
// failures.
func (m *Manager) Ensure(ctx context.Context, sid, ip string) (*Active, error) {
	if sid == "" {
		m.audit.Emit(ctx, audit.EventSessionInvalid, audit.Fields{"reason": "missing_or_unknown_sid"})
		return nil, ErrNoSession
	}
	rec, err := m.repo.Get(ctx, sid)
	if errors.Is(err, ErrNotFound) {
		m.audit.Emit(ctx, audit.EventSessionInvalid, audit.Fields{"reason": "unknown_sid"})
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}

	before := len(rec.IPSet)
	if n := rec.TrackIP(ip); n > before && n > m.policy.MaxIPs {
		m.audit.Emit(ctx, audit.EventSessionAnomalyMultiIP, audit.Fields{
			"sid_hash": audit.HashSID(sid),
			"ip_count": n,
		})
	}

	now := m.now()
	if now.After(time.UnixMilli(rec.CreatedAt).Add(m.policy.AbsoluteTimeout)) {
		return nil, m.expire(ctx, sid, "absolute", ErrExpiredAbsolute)
	}
	if now.After(time.UnixMilli(rec.LastAccess).Add(m.policy.IdleTimeout)) {
		return nil, m.expire(ctx, sid, "idle", ErrExpiredIdle)
	}

	lastAccess := time.UnixMilli(rec.LastAccess)
	rec.LastAccess = now.UnixMilli()
	active := &Active{ID: sid, Record: rec}
	if now.After(lastAccess.Add(m.policy.RotateInterval)) {
		if err := m.rotate(ctx, active); err != nil {
			return nil, err
		}
	} else if err := m.repo.Save(ctx, sid, rec); err != nil {
		return nil, err
	}

	if err := m.maybeRefresh(ctx, active, now); err != nil {
		return nil, err
	}
	return active, nil
}

// rotate moves the record to a fresh id. The new copy is written before the
// old id is deleted, so a concurrent request on the old id may briefly still
// succeed.
func (m *Manager) rotate(ctx context.Context, a *Active) error {
	newSID, err := NewID()
	if err != nil {
		return err
	}
	if err := m.repo.Save(ctx, newSID, a.Record); err != nil {
		return err
	}
	if err := m.repo.Delete(ctx, a.ID); err != nil {
		m.logger.Warn("failed to delete rotated session", logging.SIDHash(a.ID), logging.Err(err))
	}
	m.audit.Emit(ctx, audit.EventSessionRotated, audit.Fields{
		"old_sid_hash": audit.HashSID(a.ID),
		"new_sid_hash": audit.HashSID(newSID),
	})
	m.recordEvent(ctx, "rotated")
	a.ID = newSID
	a.Rotated = true
	return nil
}

func (m *Manager) expire(ctx context.Context, sid, kind string, reason *Error) error {
	if err := m.repo.Delete(ctx, sid); err != nil {
		m.logger.Warn("failed to delete expired session", logging.SIDHash(sid), logging.Err(err))
	}
	m.audit.Emit(ctx, audit.EventSessionExpired, audit.Fields{"type": kind, "sid_hash": audit.HashSID(sid)})
	m.recordEvent(ctx, "expired_"+kind)
	return reason
}

// maybeRefresh runs one refresh grant when the access token is inside the
// skew window. Transient failures keep the stale token; invalid_grant and
// undecryptable refresh tokens end the session.
func (m *Manager) maybeRefresh(ctx context.Context, a *Active, now time.Time) error {
	tokens := &a.Record.Tokens
	expiresAt := tokens.ExpiresAt()
	if tokens.AccessToken == "" || expiresAt.IsZero() {
		return nil
	}
	remaining := expiresAt.Sub(now)
	if remaining >= m.policy.RefreshSkew {
		return nil
	}

	if tokens.RefreshToken == "" {
		if remaining > 0 {
			return nil
		}
		m.end(ctx, a.ID)
		m.audit.Emit(ctx, audit.EventSessionNoRefreshToken, audit.Fields{"sid_hash": audit.HashSID(a.ID)})
		m.recordEvent(ctx, "ended_no_refresh_token")
		return ErrNoRefreshToken
	}

	err := m.refresh(ctx, a)
	switch {
	case err == nil:
		m.audit.Emit(ctx, audit.EventTokenRefreshSuccess, audit.Fields{
			"sid_hash": audit.HashSID(a.ID),
			"new_exp":  tokens.ExpiresIn,
		})
		m.recordRefresh(ctx, instrumentation.TriggerSkew, instrumentation.ResultSuccess)
		return nil
	case errors.Is(err, ErrReauthRequired):
		m.audit.Emit(ctx, audit.EventTokenRefreshFailed, refreshFailureFields(a.ID, err))
		m.recordRefresh(ctx, instrumentation.TriggerSkew, instrumentation.ResultReauth)
		m.end(ctx, a.ID)
		return ErrReauthRequired
	default:
		m.audit.Emit(ctx, audit.EventTokenRefreshFailed, refreshFailureFields(a.ID, err))
		m.recordRefresh(ctx, instrumentation.TriggerSkew, instrumentation.ResultFailure)
		m.logger.Warn("token refresh failed, continuing with current access token",
			logging.SIDHash(a.ID), logging.Err(err))
		return nil
	}
}

// ForceRefresh runs a refresh grant regardless of the remaining lifetime.
func (m *Manager) ForceRefresh(ctx context.Context, a *Active) error {
	if a.Record.Tokens.RefreshToken == "" {
		return ErrRefreshUnavailable
	}

	err := m.refresh(ctx, a)
	switch {
	case err == nil:
		m.audit.Emit(ctx, audit.EventTokenRefreshForced, audit.Fields{
			"sid_hash": audit.HashSID(a.ID),
			"new_exp":  a.Record.Tokens.ExpiresIn,
		})
		m.recordRefresh(ctx, instrumentation.TriggerForced, instrumentation.ResultSuccess)
		return nil
	case errors.Is(err, ErrReauthRequired):
		m.audit.Emit(ctx, audit.EventTokenRefreshForcedErr, refreshFailureFields(a.ID, err))
		m.recordRefresh(ctx, instrumentation.TriggerForced, instrumentation.ResultReauth)
		m.end(ctx, a.ID)
		return ErrReauthRequired
	default:
		m.audit.Emit(ctx, audit.EventTokenRefreshForcedErr, refreshFailureFields(a.ID, err))
		m.recordRefresh(ctx, instrumentation.TriggerForced, instrumentation.ResultFailure)
		return ErrRefreshFailed
	}
}

// refresh decrypts the stored refresh token, runs the grant and persists the
// new token state. Permanent failures are reported as ErrReauthRequired
// joined with the cause.
func (m *Manager) refresh(ctx context.Context, a *Active) error {
	tokens := &a.Record.Tokens
	plain, err := m.cipher.Decrypt(tokens.RefreshToken)
	if err != nil {
		return errors.Join(ErrReauthRequired, err)
	}

	ts, err := m.refresher.Refresh(ctx, plain)
	if errors.Is(err, oauth.ErrInvalidGrant) {
		return errors.Join(ErrReauthRequired, err)
	}
	if err != nil {
		return err
	}

	tokens.AccessToken = ts.AccessToken
	tokens.ExpiresIn = ts.ExpiresIn
	tokens.AcquiredAt = m.now().UnixMilli()
	if ts.Scope != "" {
		tokens.Scope = ts.Scope
	}
	if ts.RefreshToken != "" {
		env, err := m.cipher.Encrypt(ts.RefreshToken)
		if err != nil {
			return fmt.Errorf("failed to seal rotated refresh token: %w", err)
		}
		tokens.RefreshToken = env
	}
	return m.repo.Save(ctx, a.ID, a.Record)
}

func refreshFailureFields(sid string, err error) audit.Fields {
	f := audit.Fields{"sid_hash": audit.HashSID(sid), "error": err.Error()}
	if status := oauth.StatusOf(err); status != 0 {
		f["status"] = status
	}
	var pe *oauth.ProviderError
	if errors.As(err, &pe) {
		f["error"] = pe.Code
	}
	return f
}

// Save persists changes the caller made to an active session.
func (m *Manager) Save(ctx context.Context, a *Active) error {
	return m.repo.Save(ctx, a.ID, a.Record)
}

// Lookup loads a session without applying the lifecycle.
func (m *Manager) Lookup(ctx context.Context, sid string) (*Record, error) {
	return m.repo.Get(ctx, sid)
}

// End deletes sid.
func (m *Manager) End(ctx context.Context, sid string) error {
	return m.repo.Delete(ctx, sid)
}

// EndSubject deletes every session of the user sub.
func (m *Manager) EndSubject(ctx context.Context, sub string) (int, error) {
	return m.repo.DeleteBySubject(ctx, sub)
}

func (m *Manager) end(ctx context.Context, sid string) {
	if err := m.repo.Delete(ctx, sid); err != nil {
		m.logger.Warn("failed to delete session", logging.SIDHash(sid), logging.Err(err))
	}
}

func (m *Manager) recordEvent(ctx context.Context, event string) {
	if m.recorder != nil {
		m.recorder.RecordSessionEvent(ctx, event)
	}
}

func (m *Manager) recordRefresh(ctx context.Context, trigger, result string) {
	if m.recorder != nil {
		m.recorder.RecordTokenRefresh(ctx, trigger, result)
	}
}
