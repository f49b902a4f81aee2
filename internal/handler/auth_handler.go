package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/tradedesk-bfa-go/internal/domain"
	"github.com/boddenberg/tradedesk-bfa-go/internal/guard"
	"github.com/boddenberg/tradedesk-bfa-go/internal/service"
	"github.com/boddenberg/tradedesk-bfa-go/internal/session"
)

// ============================================================
// Session: /v1/auth/*
// ============================================================

// sessionResponse is the state plus any navigation the browser must perform.
type sessionResponse struct {
	session.State
	Navigation *service.Navigation `json:"navigation,omitempty"`
}

func clientFor(reg *service.ClientRegistry, r *http.Request) *service.Client {
	return reg.Acquire(ClientIDFromContext(r.Context()))
}

func sessionHandler(reg *service.ClientRegistry, settle time.Duration, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/auth/session")
		defer span.End()

		client := clientFor(reg, r)
		waitCtx, cancel := context.WithTimeout(ctx, settle)
		st, err := client.Controller.Await(waitCtx)
		cancel()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			handleServiceError(w, err, logger)
			return
		}
		if err != nil {
			logger.Warn("session still initializing", zap.Duration("waited", settle))
		}

		resp := sessionResponse{State: st, Navigation: client.Nav.Take()}
		span.SetAttributes(attribute.Bool("session.authenticated", st.IsAuthenticated))
		writeJSON(w, http.StatusOK, resp)
	}
}

func loginHandler(reg *service.ClientRegistry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/login")
		defer span.End()

		var req domain.LoginRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		client := clientFor(reg, r)
		res := client.Controller.Login(ctx, req.Email, req.Password)
		if !res.Success {
			logger.Info("login rejected", zap.String("client_id", client.ID), zap.String("reason", res.Error))
			writeJSON(w, http.StatusUnauthorized, res)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func registerHandler(reg *service.ClientRegistry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/register")
		defer span.End()

		var req domain.RegisterRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		client := clientFor(reg, r)
		res := client.Controller.Register(ctx, req)
		if !res.Success {
			logger.Info("registration rejected", zap.String("client_id", client.ID), zap.String("reason", res.Error))
			writeJSON(w, http.StatusBadRequest, res)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func logoutHandler(reg *service.ClientRegistry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/logout")
		defer span.End()

		client := clientFor(reg, r)
		client.Controller.Logout(ctx)
		logger.Info("client signed out", zap.String("client_id", client.ID))
		w.WriteHeader(http.StatusNoContent)
	}
}

func updateProfileHandler(reg *service.ClientRegistry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PATCH /v1/auth/profile")
		defer span.End()

		var update domain.ProfileUpdate
		if !decodeJSON(w, r, &update) {
			return
		}

		client := clientFor(reg, r)
		res := client.Controller.UpdateProfile(ctx, update)
		if !res.Success {
			logger.Info("profile update rejected", zap.String("client_id", client.ID), zap.String("reason", res.Error))
			writeJSON(w, http.StatusBadRequest, res)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// meHandler returns the profile put in context by the session guard.
func meHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, ok := guard.StateFrom(r.Context())
		if !ok || st.User == nil {
			writeError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		writeJSON(w, http.StatusOK, st.User)
	}
}
