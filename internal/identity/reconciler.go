// Package identity resolves authenticated principals to application profiles,
// creating the profile when the provisioning trigger has not run yet.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/boddenberg/tradedesk-bfa-go/internal/domain"
	"github.com/boddenberg/tradedesk-bfa-go/internal/infra/observability"
	"github.com/boddenberg/tradedesk-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/tradedesk-bfa-go/internal/port"
)

var tracer = otel.Tracer("identity")

// DefaultTimeout bounds a full resolve, including create and re-query.
const DefaultTimeout = 5 * time.Second

// Failure is returned when a principal cannot be resolved. Reason is the
// code shown on the login page.
type Failure struct {
	Reason      domain.LoginReason
	PrincipalID string
	Err         error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("resolve profile %s: %s: %v", f.PrincipalID, f.Reason, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// ReasonOf extracts the login reason from err, defaulting to profile_error.
func ReasonOf(err error) domain.LoginReason {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	return domain.ReasonProfileError
}

// Options tunes the reconciler.
type Options struct {
	Timeout time.Duration
	// Retry applies to transient lookup failures only. Zero MaxRetries means
	// one attempt.
	Retry resilience.Config
}

// Reconciler implements port.ProfileResolver.
type Reconciler struct {
	store   port.ProfileStore
	timeout time.Duration
	retry   resilience.Config
	group   singleflight.Group
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewReconciler creates a reconciler over store.
func NewReconciler(store port.ProfileStore, opts Options, metrics *observability.Metrics, logger *zap.Logger) *Reconciler {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Reconciler{
		store:   store,
		timeout: opts.Timeout,
		retry:   opts.Retry,
		metrics: metrics,
		logger:  logger,
	}
}

// Timeout returns the configured resolve deadline.
func (r *Reconciler) Timeout() time.Duration { return r.timeout }

type outcome struct {
	profile domain.Profile
	label   string
}

// Resolve returns the profile for principal. Concurrent calls for the same
// principal share one lookup. Every failure is a *Failure.
func (r *Reconciler) Resolve(ctx context.Context, principal domain.Principal) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Reconciler.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", principal.ID))

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ch := r.group.DoChan(principal.ID, func() (any, error) {
		// The flight is shared, so it must not inherit the cancellation of
		// whichever caller started it. Each caller waits on its own ctx below.
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.reconcile(flightCtx, principal)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(res.Err, context.DeadlineExceeded) {
				return nil, r.timedOut(principal, start)
			}
			r.metrics.ObserveReconcile(outcomeOf(res.Err), time.Since(start))
			return nil, res.Err
		}
		out := res.Val.(outcome)
		r.metrics.ObserveReconcile(out.label, time.Since(start))
		profile := out.profile
		return &profile, nil

	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			// A hung lookup must not capture later calls for this principal.
			r.group.Forget(principal.ID)
			return nil, r.timedOut(principal, start)
		}
		return nil, &Failure{Reason: domain.ReasonProfileError, PrincipalID: principal.ID, Err: callCtx.Err()}
	}
}

func (r *Reconciler) timedOut(principal domain.Principal, start time.Time) error {
	r.metrics.ObserveReconcile(observability.OutcomeTimeout, time.Since(start))
	r.logger.Warn("profile resolve timed out",
		zap.String("user_id", principal.ID),
		zap.Duration("timeout", r.timeout),
	)
	return &Failure{
		Reason:      domain.ReasonTimeout,
		PrincipalID: principal.ID,
		Err:         &domain.ErrTimeout{Operation: "profile resolve"},
	}
}

func outcomeOf(err error) string {
	if ReasonOf(err) == domain.ReasonProfileMissing {
		return observability.OutcomeMissing
	}
	return observability.OutcomeError
}

// reconcile runs lookup, create-on-miss and the race re-query.
func (r *Reconciler) reconcile(ctx context.Context, principal domain.Principal) (outcome, error) {
	row, err := r.lookup(ctx, principal.ID)
	if err == nil {
		return outcome{MapRowToProfile(*row), observability.OutcomeFound}, nil
	}
	if !isNotFound(err) {
		return outcome{}, r.fail(domain.ReasonProfileError, principal, "profile lookup failed", err)
	}

	r.logger.Info("profile missing, creating from principal metadata", zap.String("user_id", principal.ID))
	created, err := r.store.InsertProfile(ctx, NewProfileRow(principal))
	if err == nil {
		return outcome{MapRowToProfile(*created), observability.OutcomeCreated}, nil
	}

	var uv *domain.ErrUniqueViolation
	if !errors.As(err, &uv) {
		return outcome{}, r.fail(domain.ReasonProfileError, principal, "profile create failed", err)
	}

	// The provisioning trigger won the race; its row is authoritative.
	r.logger.Info("profile created concurrently, re-reading", zap.String("user_id", principal.ID))
	row, err = r.lookup(ctx, principal.ID)
	if err == nil {
		return outcome{MapRowToProfile(*row), observability.OutcomeRace}, nil
	}
	if isNotFound(err) {
		return outcome{}, r.fail(domain.ReasonProfileMissing, principal, "profile vanished after unique violation", err)
	}
	return outcome{}, r.fail(domain.ReasonProfileError, principal, "profile re-query failed", err)
}

// lookup selects the row, retrying transient failures within ctx.
func (r *Reconciler) lookup(ctx context.Context, id string) (*domain.ProfileRow, error) {
	var row *domain.ProfileRow
	err := resilience.RetryWithBackoff(ctx, r.retry, func() error {
		var err error
		row, err = r.store.SelectProfileByID(ctx, id)
		if err != nil && !transient(err) {
			return resilience.Permanent(err)
		}
		return err
	})
	return row, err
}

func (r *Reconciler) fail(reason domain.LoginReason, principal domain.Principal, msg string, err error) error {
	r.logger.Warn(msg,
		zap.String("user_id", principal.ID),
		zap.String("reason", string(reason)),
		zap.Error(err),
	)
	return &Failure{Reason: reason, PrincipalID: principal.ID, Err: err}
}

func isNotFound(err error) bool {
	var nf *domain.ErrNotFound
	return errors.As(err, &nf)
}

// transient reports whether a lookup error is worth retrying.
func transient(err error) bool {
	var ext *domain.ErrExternalService
	var to *domain.ErrTimeout
	return errors.As(err, &ext) || errors.As(err, &to)
}
