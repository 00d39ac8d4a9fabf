package httpapi

import (
	"net/http"
	"time"

	"payline.org/internal/audit"
	"payline.org/internal/auth"
	"payline.org/internal/org"
)

type challengeRequest struct {
	Address string `json:"address" validate:"required,wallet"`
}

type challengeResponse struct {
	Address   string    `json:"address"`
	Challenge string    `json:"challenge"`
	Message   string    `json:"message"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type verifyRequest struct {
	Address   string `json:"address" validate:"required,wallet"`
	Signature string `json:"signature" validate:"required,max=200"`
	Challenge string `json:"challenge" validate:"required,hexadecimal,max=128"`
}

type sessionResponse struct {
	Identity auth.Identity  `json:"identity"`
	Tokens   auth.TokenPair `json:"tokens"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required,max=256"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token" validate:"max=256"`
}

type meResponse struct {
	Identity      auth.Identity     `json:"identity"`
	Organizations []org.Affiliation `json:"organizations"`
}

func (a *API) handleChallenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := a.decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	ch, err := a.auth.IssueChallenge(r.Context(), req.Address)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, challengeResponse{
		Address:   ch.Address,
		Challenge: ch.Value,
		Message:   ch.Message,
		IssuedAt:  ch.IssuedAt,
		ExpiresAt: ch.ExpiresAt,
	})
}

func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := a.decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	identity, tokens, err := a.auth.Login(r.Context(), req.Address, req.Signature, req.Challenge)
	if err != nil {
		handleError(w, r, err)
		return
	}
	ctx := auth.ContextWithClaims(r.Context(), auth.Claims{UserID: identity.ID, Wallet: identity.WalletAddress})
	_ = audit.LogEvent(ctx, "auth.login", map[string]any{"wallet": identity.WalletAddress})
	writeJSON(w, http.StatusOK, sessionResponse{Identity: identity, Tokens: tokens})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := a.decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	tokens, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if r.ContentLength != 0 {
		if err := a.decodeJSON(r, &req); err != nil {
			handleError(w, r, err)
			return
		}
	}
	claims, _ := auth.ClaimsFromContext(r.Context())
	if err := a.auth.Logout(r.Context(), claims.UserID, claims.SessionLine, req.RefreshToken); err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{"session_line": claims.SessionLine})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	identity, err := a.auth.Identity(r.Context(), actor(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	affiliations, err := a.orgs.ListOrganizations(r.Context(), identity.ID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if affiliations == nil {
		affiliations = []org.Affiliation{}
	}
	writeJSON(w, http.StatusOK, meResponse{Identity: identity, Organizations: affiliations})
}
