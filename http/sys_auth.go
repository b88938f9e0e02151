package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/stephnangue/vanguard/helper"
	"github.com/stephnangue/vanguard/logger"
	"github.com/stephnangue/vanguard/policy"
	"github.com/stephnangue/vanguard/storage"
	"github.com/stephnangue/vanguard/token"
)

// DefaultRole is granted to every new account
const DefaultRole = "user"

// dummyDigest is compared against when the account does not exist, so a
// login probe costs the same whether or not the email is registered.
const dummyDigest = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type sessionResponse struct {
	User   *storage.User `json:"user"`
	Tokens *token.Pair   `json:"tokens"`
}

func handleRegister(props *HandlerProperties) http.HandlerFunc {
	log := props.Logger.WithSubsystem("auth")

	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := decodeJSONBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, CodeValidation, "malformed request body")
			return
		}

		req.Email = strings.ToLower(strings.TrimSpace(req.Email))
		if req.Email == "" || !strings.Contains(req.Email, "@") {
			respondError(w, http.StatusBadRequest, CodeValidation, "a valid email is required")
			return
		}

		if strength := props.Credentials.Strength(req.Password); !strength.PassingPolicy {
			respondError(w, http.StatusBadRequest, CodeValidation,
				"password is too weak: "+strings.Join(strength.Reasons, "; "))
			return
		}

		hash, err := props.Credentials.Hash(req.Password)
		if err != nil {
			respondError(w, http.StatusBadRequest, CodeValidation, err.Error())
			return
		}

		user := &storage.User{
			Email:        req.Email,
			PasswordHash: hash,
			Roles:        []string{DefaultRole},
		}
		if err := props.Users.Create(r.Context(), user); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				respondError(w, http.StatusConflict, CodeConflict, "an account with this email already exists")
				return
			}
			log.Error("failed to create account", logger.Err(err))
			respondError(w, http.StatusInternalServerError, CodeInternal, "internal error")
			return
		}

		log.Info("account created",
			logger.String("user_id", user.ID),
			logger.String("email", user.Email),
		)
		respondOk(w, http.StatusCreated, user)
	}
}

func handleLogin(props *HandlerProperties) http.HandlerFunc {
	log := props.Logger.WithSubsystem("auth")

	return func(w http.ResponseWriter, r *http.Request) {
		// Login attempts are bucketed per client address before anything
		// else, so credential stuffing burns the attacker's quota, not a
		// victim account's.
		if decision := props.Limiter.CheckAndRecord("login:" + helper.RemoteIP(r)); !decision.Allowed {
			respondRateLimited(w, decision)
			return
		}

		var req loginRequest
		if err := decodeJSONBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, CodeValidation, "malformed request body")
			return
		}
		req.Email = strings.ToLower(strings.TrimSpace(req.Email))

		user, err := props.Users.FindByEmail(r.Context(), req.Email)
		if err != nil {
			// Burn a comparison anyway, then answer exactly like a
			// password mismatch
			props.Credentials.Verify(req.Password, dummyDigest)
			respondError(w, http.StatusUnauthorized, CodeUnauthenticated, "invalid email or password")
			return
		}

		if !props.Credentials.Verify(req.Password, user.PasswordHash) {
			respondError(w, http.StatusUnauthorized, CodeUnauthenticated, "invalid email or password")
			return
		}

		// Upgrade digests hashed under an older, weaker cost. Best effort;
		// the session proceeds either way.
		if props.Credentials.NeedsRehash(user.PasswordHash) {
			if hash, err := props.Credentials.Hash(req.Password); err == nil {
				if err := props.Users.UpdatePasswordHash(r.Context(), user.ID, hash); err != nil {
					log.Warn("failed to upgrade password hash",
						logger.String("user_id", user.ID),
						logger.Err(err),
					)
				}
			}
		}

		pair, err := props.Tokens.IssuePair(identityOf(user))
		if err != nil {
			log.Error("failed to issue tokens", logger.Err(err))
			respondError(w, http.StatusInternalServerError, CodeInternal, "internal error")
			return
		}

		log.Info("login succeeded", logger.String("user_id", user.ID))
		respondOk(w, http.StatusOK, &sessionResponse{User: user, Tokens: pair})
	}
}

func handleRefresh(props *HandlerProperties) http.HandlerFunc {
	log := props.Logger.WithSubsystem("auth")

	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if err := decodeJSONBody(r, &req); err != nil || req.RefreshToken == "" {
			respondError(w, http.StatusBadRequest, CodeValidation, "a refresh_token is required")
			return
		}

		claimed, err := props.Tokens.VerifyRefresh(req.RefreshToken)
		if err != nil {
			code := CodeUnauthenticated
			if errors.Is(err, token.ErrExpired) {
				code = CodeTokenExpired
			}
			respondError(w, http.StatusUnauthorized, code, "refresh token is not valid")
			return
		}

		// Roles are re-read from the store, so a refresh picks up role
		// changes made since the token was minted
		user, err := props.Users.FindByID(r.Context(), claimed.ID)
		if err != nil {
			respondError(w, http.StatusUnauthorized, CodeUnauthenticated, "account no longer exists")
			return
		}

		pair, err := props.Tokens.IssuePair(identityOf(user))
		if err != nil {
			log.Error("failed to issue tokens", logger.Err(err))
			respondError(w, http.StatusInternalServerError, CodeInternal, "internal error")
			return
		}

		respondOk(w, http.StatusOK, &sessionResponse{User: user, Tokens: pair})
	}
}

func handleWhoAmI(props *HandlerProperties) http.HandlerFunc {
	pol := &policy.RoutePolicy{Auth: policy.AuthRequired}

	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := props.Engine.Evaluate(r.Context(), r, pol)
		if err != nil {
			respondPolicyError(w, err)
			return
		}
		respondOk(w, http.StatusOK, identity)
	}
}

func identityOf(user *storage.User) *token.Identity {
	return &token.Identity{
		ID:          user.ID,
		Email:       user.Email,
		Roles:       user.Roles,
		Permissions: user.Permissions,
	}
}
