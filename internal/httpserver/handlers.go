package httpserver

import (
	"errors"
	"io"
	"net/http"
	"strings"

	authdomain "marketplace/identity/internal/domain/auth"
	authusecase "marketplace/identity/internal/usecase/auth"
	userusecase "marketplace/identity/internal/usecase/user"
)

func (s *Server) registerRoutes() {
	limited := s.limiter.Wrap
	authenticated := s.authMiddleware
	admin := func(h http.HandlerFunc) http.Handler {
		return authenticated(requireRole(h, authdomain.RoleAdmin))
	}

	s.router.Handle("/health", http.HandlerFunc(s.handleHealth))
	s.router.Handle("/auth/register", limited(http.HandlerFunc(s.handleRegister)))
	s.router.Handle("/auth/customers/register", limited(http.HandlerFunc(s.handleRegisterCustomer)))
	s.router.Handle("/auth/login", limited(http.HandlerFunc(s.handleLogin)))
	s.router.Handle("/auth/refresh", http.HandlerFunc(s.handleRefresh))
	s.router.Handle("/auth/password/forgot", limited(http.HandlerFunc(s.handleForgotPassword)))
	s.router.Handle("/auth/password/reset", limited(http.HandlerFunc(s.handleResetPassword)))
	s.router.Handle("/auth/me", authenticated(http.HandlerFunc(s.handleMe)))
	s.router.Handle("/auth/logout", authenticated(http.HandlerFunc(s.handleLogout)))

	s.router.Handle("/users/me", authenticated(http.HandlerFunc(s.handleUpdateMe)))
	s.router.Handle("/users/me/password", authenticated(http.HandlerFunc(s.handleChangePassword)))

	s.router.Handle("/admin/users", admin(s.handleAdminUsers))
	s.router.Handle("/admin/users/{id}", admin(s.handleAdminUserByID))
	s.router.Handle("/admin/users/{id}/role", admin(s.handleAdminUserRole))
	s.router.Handle("/admin/users/{id}/logout-all", admin(s.handleAdminForceLogout))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerPayload struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func (p registerPayload) input() authusecase.RegisterInput {
	return authusecase.RegisterInput{
		Email:     p.Email,
		Password:  p.Password,
		FirstName: p.FirstName,
		LastName:  p.LastName,
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	var payload registerPayload
	if !decodeJSON(w, r, &payload) {
		return
	}

	bundle, err := s.authService.Register(r.Context(), payload.input())
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, bundle)
}

func (s *Server) handleRegisterCustomer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	var payload struct {
		registerPayload
		BirthYear int `json:"birthYear"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}

	bundle, err := s.authService.RegisterCustomer(r.Context(), authusecase.RegisterCustomerInput{
		RegisterInput: payload.input(),
		BirthYear:     payload.BirthYear,
	})
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, bundle)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	var payload struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		Audience  string `json:"audience"`
		BirthYear *int   `json:"birthYear"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}

	bundle, err := s.authService.Login(r.Context(), authusecase.LoginInput{
		Email:     payload.Email,
		Password:  payload.Password,
		Audience:  payload.Audience,
		BirthYear: payload.BirthYear,
	})
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	var payload struct {
		RefreshToken string `json:"refreshToken"`
		Role         string `json:"role"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	token := strings.TrimSpace(payload.RefreshToken)
	if token == "" {
		writeError(w, http.StatusBadRequest, "refreshToken is required")
		return
	}

	var requested authdomain.Role
	if strings.TrimSpace(payload.Role) != "" {
		role, ok := authdomain.ParseRole(payload.Role)
		if !ok {
			writeServiceError(w, s.logger, authdomain.ErrInvalidRole)
			return
		}
		requested = role
	}

	bundle, err := s.authService.Refresh(r.Context(), token, requested)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	caller, _ := currentUserFromContext(r.Context())

	var payload struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeOptionalJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	if err := s.authService.Logout(r.Context(), payload.RefreshToken, caller.ID); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	caller, _ := currentUserFromContext(r.Context())

	view, err := s.authService.Me(r.Context(), *caller)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": view})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	var payload struct {
		Email string `json:"email"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	writeJSON(w, http.StatusOK, s.authService.RequestPasswordReset(r.Context(), payload.Email))
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	var payload struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}

	if err := s.authService.ResetPassword(r.Context(), payload.Token, payload.Password); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch && r.Method != http.MethodPut {
		writeMethodNotAllowed(w, http.MethodPatch, http.MethodPut)
		return
	}
	caller, _ := currentUserFromContext(r.Context())

	var payload struct {
		FirstName *string `json:"firstName"`
		LastName  *string `json:"lastName"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}

	view, err := s.userService.UpdateProfile(r.Context(), *caller, userusecase.UpdateProfileInput{
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
	})
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": view})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	caller, _ := currentUserFromContext(r.Context())

	var payload struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	if payload.CurrentPassword == "" || payload.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "currentPassword and newPassword are required")
		return
	}

	bundle, err := s.authService.ChangePassword(r.Context(), *caller, payload.CurrentPassword, payload.NewPassword)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	users, err := s.userService.List(r.Context(), userusecase.Filter{
		Role: r.URL.Query().Get("role"),
	})
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *Server) handleAdminUserByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	user, err := s.userService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *Server) handleAdminUserRole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPatch {
		writeMethodNotAllowed(w, http.MethodPut, http.MethodPatch)
		return
	}
	var payload struct {
		Role string `json:"role"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	if strings.TrimSpace(payload.Role) == "" {
		writeError(w, http.StatusBadRequest, "role is required")
		return
	}
	caller, _ := currentUserFromContext(r.Context())

	user, err := s.userService.ChangeRole(r.Context(), caller.ID, r.PathValue("id"), payload.Role)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *Server) handleAdminForceLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	caller, _ := currentUserFromContext(r.Context())

	if err := s.userService.ForceLogout(r.Context(), caller.ID, r.PathValue("id")); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// decodeOptionalJSON decodes a body that may be empty.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if err := jsonDecoder(r).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
