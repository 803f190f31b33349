package reconciler

import (
	"context"
	"log/slog"

	"gitlab.bluewillows.net/root/dnsswitch/internal/metrics"
	"gitlab.bluewillows.net/root/dnsswitch/internal/notify"
	"gitlab.bluewillows.net/root/dnsswitch/pkg/address"
	"gitlab.bluewillows.net/root/dnsswitch/pkg/backend"
	"gitlab.bluewillows.net/root/dnsswitch/pkg/catalog"
)

// mutation describes one apply, reset or custom request.
type mutation struct {
	kind    OperationKind
	profile catalog.Profile
	msgs    messages
}

// ApplyProfile switches the active interface to profile p. The automatic
// profile is routed to ResetToAutomatic.
func (r *Reconciler) ApplyProfile(ctx context.Context, p catalog.Profile) backend.Outcome {
	if p.Automatic {
		return r.ResetToAutomatic(ctx)
	}
	return r.mutate(ctx, mutation{
		kind:    OperationApply,
		profile: p,
		msgs:    profileMessages(p.Name),
	})
}

// ResetToAutomatic restores DHCP-assigned resolution.
func (r *Reconciler) ResetToAutomatic(ctx context.Context) backend.Outcome {
	p, _ := catalog.Find(catalog.DefaultID)
	return r.mutate(ctx, mutation{
		kind:    OperationReset,
		profile: p,
		msgs:    resetMessages(),
	})
}

// ApplyCustom applies user-entered resolvers. Malformed input is rejected
// with an *address.FieldError before anything is written or called.
func (r *Reconciler) ApplyCustom(ctx context.Context, primary, secondary string) (backend.Outcome, error) {
	if err := address.ValidatePair(primary, secondary); err != nil {
		metrics.ValidationFailuresTotal.WithLabelValues(address.FieldOf(err)).Inc()
		r.logger.Debug("custom DNS rejected",
			slog.String("field", address.FieldOf(err)),
			slog.String("error", err.Error()),
		)
		return backend.Outcome{Success: false, Message: err.Error()}, err
	}
	return r.mutate(ctx, mutation{
		kind:    OperationCustom,
		profile: catalog.Custom(primary, secondary),
		msgs:    customMessages(),
	}), nil
}

// mutate runs the optimistic write, the eager notification, the backend call
// and then either schedules a verification or reports and corrects a failure.
//
// The optimistic write happens before waiting for mutateMu, so overlapping
// requests race on the store until a re-query settles it.
func (r *Reconciler) mutate(ctx context.Context, m mutation) backend.Outcome {
	iface := fallbackInterfaceName
	if st, ok := r.store.Get(); ok && st.InterfaceName != "" {
		iface = st.InterfaceName
	}
	target := m.profile.Target(iface)

	r.mu.Lock()
	r.applying++
	r.mu.Unlock()

	r.setState(target)
	r.notifier.Show(m.msgs.success, notify.ToneSuccess)

	r.logger.Info("applying DNS configuration",
		slog.String("operation", string(m.kind)),
		slog.String("profile", m.profile.ID),
		slog.String("interface", iface),
		slog.Any("servers", target.Servers),
		slog.Bool("automatic", target.Automatic),
	)

	op := "set"
	res := Result{
		Kind:       m.kind,
		Target:     m.profile.ID,
		Optimistic: target,
	}

	r.mutateMu.Lock()
	res.StartedAt = r.now()
	var err error
	if m.profile.Automatic {
		op = "reset"
		err = r.backend.Reset(ctx)
	} else {
		err = r.backend.Set(ctx, m.profile.Primary, m.profile.Secondary)
	}
	res.EndedAt = r.now()
	r.mutateMu.Unlock()

	metrics.MutationDuration.WithLabelValues(r.backend.Name(), op).Observe(res.Duration().Seconds())

	if err != nil {
		return r.fail(ctx, m, res, err)
	}

	res.Outcome = backend.Outcome{Success: true, Message: m.msgs.success}
	res.Verify = r.scheduleVerification(OriginLocal, r.config.SettleDelay, &target)

	r.mu.Lock()
	r.applying--
	r.mu.Unlock()

	metrics.OperationsTotal.WithLabelValues(string(m.kind), "success").Inc()
	r.recordResult(res)
	r.logger.Info("DNS configuration applied",
		slog.String("operation", string(m.kind)),
		slog.String("profile", m.profile.ID),
		slog.Duration("duration", res.Duration()),
		slog.Uint64("verify_task", uint64(res.Verify)),
	)
	return res.Outcome
}

// fail reports a mutation error and immediately re-queries to undo the
// optimistic write. The message variant depends only on the cached admin
// flag.
func (r *Reconciler) fail(ctx context.Context, m mutation, res Result, err error) backend.Outcome {
	admin := r.Admin()
	message := m.msgs.failureText(admin)

	r.mu.Lock()
	r.applying--
	r.failing++
	r.mu.Unlock()

	metrics.OperationsTotal.WithLabelValues(string(m.kind), "error").Inc()
	r.logger.Error("DNS configuration failed",
		slog.String("operation", string(m.kind)),
		slog.String("profile", m.profile.ID),
		slog.Bool("admin", admin),
		slog.Bool("permission_error", backend.IsPermission(err)),
		slog.String("error", err.Error()),
	)

	r.notifier.Show(message, notify.ToneError)

	// The corrective query must run even if the caller has given up.
	_, _ = r.refresh(context.WithoutCancel(ctx), triggerCorrective)

	r.mu.Lock()
	r.failing--
	r.mu.Unlock()

	res.Outcome = backend.Outcome{Success: false, Message: message}
	res.Error = err.Error()
	r.recordResult(res)
	return res.Outcome
}
