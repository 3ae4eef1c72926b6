// Package auth establishes an authenticated portal session, reusing a stored
// one when the portal still accepts it.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
	"github.com/xkilldash9x/harvester-cli/internal/browser"
	"github.com/xkilldash9x/harvester-cli/internal/config"
	"github.com/xkilldash9x/harvester-cli/internal/portal"
	"github.com/xkilldash9x/harvester-cli/internal/sessionstore"
)

// State is a step of the authentication state machine.
type State int

const (
	Unauthenticated State = iota
	SessionProbing
	LoggingIn
	Authenticated
	LoginFailed
)

func (s State) String() string {
	switch s {
	case SessionProbing:
		return "session_probing"
	case LoggingIn:
		return "logging_in"
	case Authenticated:
		return "authenticated"
	case LoginFailed:
		return "login_failed"
	default:
		return "unauthenticated"
	}
}

// ErrProbeFailed means the authenticated layout was not found after login.
var ErrProbeFailed = errors.New("authenticated layout not found")

// Error reports that no authenticated session could be established. It
// aborts the run.
type Error struct {
	Portal string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Portal, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Kind classifies the error for run reports.
func (e *Error) Kind() schemas.ErrorKind { return schemas.KindAuthentication }

// Outcome describes how a session was established.
type Outcome struct {
	State State
	// Restored is set when a stored session was accepted without logging in.
	Restored bool
	// Persisted is set when a fresh session was written to the store.
	Persisted bool
}

// Controller drives one portal identity to an authenticated state.
type Controller struct {
	identity portal.Identity
	store    sessionstore.Store
	timeouts config.TimeoutsConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewController returns a controller for identity.
func NewController(identity portal.Identity, store sessionstore.Store, timeouts config.TimeoutsConfig, logger *zap.Logger) *Controller {
	return &Controller{
		identity: identity,
		store:    store,
		timeouts: timeouts,
		logger:   logger.Named("auth").With(zap.String("portal", identity.Name)),
		now:      time.Now,
	}
}

// Ensure leaves engine on the portal's authenticated home view. A stored
// session is tried first; when it is absent or rejected, one live login is
// attempted. Only a successful live login writes the session back.
func (c *Controller) Ensure(ctx context.Context, engine browser.Engine) (Outcome, error) {
	out := Outcome{State: Unauthenticated}

	if session, ok := c.store.Load(ctx, c.identity.SessionKey); ok {
		out.State = SessionProbing
		authenticated, err := c.tryRestore(ctx, engine, session)
		if err != nil {
			return out, err
		}
		if authenticated {
			c.logger.Info("Stored session accepted.", zap.Time("captured_at", session.CapturedAt))
			out.State = Authenticated
			out.Restored = true
			return out, nil
		}
		c.logger.Info("Stored session rejected, logging in.")
	}

	out.State = LoggingIn
	if err := c.login(ctx, engine); err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		out.State = LoginFailed
		return out, &Error{Portal: c.identity.Name, Err: err}
	}

	authenticated, err := c.probe(ctx, engine)
	if err != nil {
		return out, err
	}
	if !authenticated {
		out.State = LoginFailed
		return out, &Error{Portal: c.identity.Name, Err: ErrProbeFailed}
	}

	out.State = Authenticated
	c.logger.Info("Login successful.")
	out.Persisted = c.persist(ctx, engine)
	return out, nil
}

func (c *Controller) tryRestore(ctx context.Context, engine browser.Engine, session *schemas.Session) (bool, error) {
	if err := engine.SetCookies(ctx, session.Cookies); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		c.logger.Warn("Could not install stored cookies.", zap.Error(err))
		return false, nil
	}
	c.logger.Debug("Stored cookies installed.", zap.Int("count", len(session.Cookies)))

	if err := engine.Navigate(ctx, c.identity.URL(c.identity.Profile.HomePath)); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		c.logger.Warn("Could not open the home view with the stored session.", zap.Error(err))
		return false, nil
	}
	return c.probe(ctx, engine)
}

func (c *Controller) login(ctx context.Context, engine browser.Engine) error {
	p := c.identity.Profile
	c.logger.Info("Performing login.")

	if err := engine.Navigate(ctx, c.identity.URL(p.LoginPath)); err != nil {
		return fmt.Errorf("failed to open login view: %w", err)
	}
	if err := engine.Type(ctx, p.UsernameField, c.identity.Credentials.Username); err != nil {
		return fmt.Errorf("failed to fill username: %w", err)
	}
	if err := engine.Type(ctx, p.PasswordField, c.identity.Credentials.Password); err != nil {
		return fmt.Errorf("failed to fill password: %w", err)
	}
	if err := engine.Submit(ctx, p.SubmitButton); err != nil {
		return fmt.Errorf("failed to submit login form: %w", err)
	}
	return nil
}

// probe checks every frame of the authenticated layout. Each frame is waited
// for independently so one slow frame does not eat the others' budget.
func (c *Controller) probe(ctx context.Context, engine browser.Engine) (bool, error) {
	frames := c.identity.Profile.FrameSelectors
	authenticated := len(frames) > 0
	fields := make([]zap.Field, 0, len(frames))

	for _, sel := range frames {
		res, err := engine.WaitForSelector(ctx, sel, c.timeouts.FrameProbe)
		if err != nil {
			return false, err
		}
		fields = append(fields, zap.Stringer(sel, res))
		if res != browser.WaitFound {
			authenticated = false
		}
	}

	if !authenticated {
		if names, err := engine.FrameNames(ctx); err == nil {
			fields = append(fields, zap.Strings("frames_present", names))
		}
		c.logger.Info("Authenticated layout not found.", fields...)
		return false, nil
	}

	c.logger.Debug("Authenticated layout found.", fields...)
	c.checkMarker(ctx, engine, frames[0])
	return true, nil
}

// checkMarker looks for the profile's marker text inside the first frame.
// The result only corroborates the probe.
func (c *Controller) checkMarker(ctx context.Context, engine browser.Engine, frameSelector string) {
	marker := c.identity.Profile.Marker
	if marker == "" {
		return
	}
	sel, _ := jsoniter.MarshalToString(frameSelector)
	script := fmt.Sprintf(`(() => {
		const f = document.querySelector(%s);
		try { return f && f.contentDocument ? f.contentDocument.documentElement.outerHTML : ""; } catch (e) { return ""; }
	})()`, sel)

	var content string
	if err := engine.Evaluate(ctx, script, &content); err != nil {
		c.logger.Debug("Could not read first frame content.", zap.Error(err))
		return
	}
	if strings.Contains(content, marker) {
		c.logger.Info("Authenticated: marker found in first frame.")
	}
}

func (c *Controller) persist(ctx context.Context, engine browser.Engine) bool {
	cookies, err := engine.Cookies(ctx)
	if err != nil {
		c.logger.Warn("Session not persisted.", zap.Error(err))
		return false
	}
	session := &schemas.Session{
		Key:        c.identity.SessionKey,
		Cookies:    cookies,
		CapturedAt: c.now().UTC(),
	}
	if err := c.store.Save(ctx, session); err != nil {
		c.logger.Warn("Session not persisted.", zap.Error(err))
		return false
	}
	return true
}
