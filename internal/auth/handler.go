package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/authgate/authgate/internal/platform/httpx"
)

// Handler wires the JSON endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	cookies   *CookieCodec
	limiter   *LoginLimiter
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, cookies *CookieCodec, limiter *LoginLimiter) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		cookies:   cookies,
		limiter:   limiter,
		validator: validator.New(),
	}
}

// MountRoutes registers auth routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/register", h.handleRegister)
	r.Post("/login", h.handleLogin)
	r.Post("/refresh", h.handleRefresh)
	r.Post("/forgot-password", h.handleForgotPassword)
	r.Post("/reset-password", h.handleResetPassword)

	r.Group(func(r chi.Router) {
		r.Use(h.Authenticate)
		r.Use(RequireAuth)
		r.Get("/me", h.handleMe)
		r.Patch("/me/picture", h.handleUpdatePicture)
		r.Post("/change-password", h.handleChangePassword)
		r.Post("/logout", h.handleLogout)
	})
}

type registerRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

type updatePictureRequest struct {
	ProfilePicURL string `json:"profile_pic_url" validate:"required,url,max=2048"`
}

type ackResponse struct {
	Message string `json:"message"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.service.Register(r.Context(), RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.logger.Info("user registered", slog.String("user_id", user.ID))
	httpx.JSON(w, http.StatusCreated, user)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.allow(w, r, "login", req.Email) {
		return
	}

	sess, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.cookies.SetSession(w, sess)
	httpx.JSON(w, http.StatusOK, ackResponse{Message: "Login successful"})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	refreshToken, _ := h.cookies.RefreshToken(r)

	sess, err := h.service.Refresh(r.Context(), refreshToken)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			h.cookies.Clear(w)
		}
		h.respondError(w, r, err)
		return
	}

	h.cookies.SetSession(w, sess)
	httpx.JSON(w, http.StatusOK, ackResponse{Message: "Session refreshed"})
}

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.allow(w, r, "forgot", req.Email) {
		return
	}

	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		h.respondError(w, r, err)
		return
	}
	// Identical body whether or not the email exists.
	httpx.JSON(w, http.StatusOK, ackResponse{Message: "If the email is registered, a reset link has been sent"})
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ackResponse{Message: "Password reset successfully"})
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	account := AccountFromContext(r.Context())
	sess, err := h.service.ChangePassword(r.Context(), account, req.CurrentPassword, req.NewPassword)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.cookies.SetSession(w, sess)
	httpx.JSON(w, http.StatusOK, ackResponse{Message: "Password changed successfully"})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := h.cookies.AccessToken(r)
	h.service.Logout(r.Context(), token)
	h.cookies.Clear(w)
	httpx.JSON(w, http.StatusOK, ackResponse{Message: "Logged out"})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	account := AccountFromContext(r.Context())
	user, err := h.service.UserView(r.Context(), account)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) handleUpdatePicture(w http.ResponseWriter, r *http.Request) {
	var req updatePictureRequest
	if !h.decode(w, r, &req) {
		return
	}

	account := AccountFromContext(r.Context())
	user, err := h.service.UpdateProfilePicture(r.Context(), account, req.ProfilePicURL)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

// decode parses and validates the JSON body, answering 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, r, http.StatusBadRequest, "Invalid Request", "Request body must be valid JSON.")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		detail := "Request validation failed."
		if errors.As(err, &verrs) && len(verrs) > 0 {
			detail = fmt.Sprintf("Field %q failed validation (%s).", verrs[0].Field(), verrs[0].Tag())
		}
		httpx.Problem(w, r, http.StatusBadRequest, "Invalid Request", detail)
		return false
	}
	return true
}

// allow applies the credential-endpoint rate limit.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, scope, ident string) bool {
	if h.limiter == nil {
		return true
	}
	ok, retryAfter := h.limiter.Allow(r.Context(), scope, ident, clientIP(r))
	if !ok {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())))
		httpx.Problem(w, r, http.StatusTooManyRequests, "Too Many Requests", "Try again later.")
		return false
	}
	return true
}

// respondError maps gateway errors to problem-details responses. Unmapped
// errors are logged and collapse to a generic 500.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		httpx.Problem(w, r, http.StatusBadRequest, "Invalid Request", err.Error())
	case errors.Is(err, ErrAlreadyExists):
		httpx.Problem(w, r, http.StatusConflict, "Registration Failed", "An account with this email address already exists.")
	case errors.Is(err, ErrInvalidCredentials):
		httpx.Problem(w, r, http.StatusUnauthorized, "Authentication Failed", "Invalid email or password.")
	case errors.Is(err, ErrUnauthenticated):
		httpx.Problem(w, r, http.StatusUnauthorized, "Authentication Failed", "A valid session is required.")
	case errors.Is(err, ErrInvalidResetToken):
		httpx.Problem(w, r, http.StatusUnauthorized, "Invalid or Expired Token", "The reset token is invalid or has expired.")
	case errors.Is(err, ErrRegistrationIncomplete):
		h.logger.Error("registration incomplete", slog.Any("error", err))
		httpx.Problem(w, r, http.StatusInternalServerError, "Registration Failed", "Registration could not be completed. Please try again later.")
	default:
		h.logger.Error("unexpected gateway error", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, r, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return r.RemoteAddr
	}
	return host
}
