package api

import (
	"net/http"

	"ragbridge/internal/accounts"
	"ragbridge/internal/util"
)

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.fail(w, r, util.ErrMethodNotAllowed, "")
		return
	}
	if s.accounts == nil {
		s.fail(w, r, util.ErrAccountsDisabled, "")
		return
	}
	var req accounts.SignupRequest
	if err := decodeJSON(r, w, &req); err != nil {
		s.fail(w, r, err, "")
		return
	}
	if err := s.accounts.Signup(r.Context(), req); err != nil {
		s.fail(w, r, err, msgSignupFailed)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": msgSignupOK})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.fail(w, r, util.ErrMethodNotAllowed, "")
		return
	}
	if s.accounts == nil {
		s.fail(w, r, util.ErrAccountsDisabled, "")
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, w, &req); err != nil {
		s.fail(w, r, err, "")
		return
	}
	user, token, err := s.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(w, r, err, msgLoginFailed)
		return
	}
	body := map[string]any{
		"message": msgLoginOK,
		"user":    user.Public(),
	}
	if token != "" {
		body["token"] = token
	}
	writeJSON(w, http.StatusOK, body)
}
