// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"net/http"
	"time"

	"codeberg.org/oliverandrich/otpgate/internal/auth"
	"codeberg.org/oliverandrich/otpgate/internal/autherr"
	"codeberg.org/oliverandrich/otpgate/internal/i18n"
	"codeberg.org/oliverandrich/otpgate/internal/models"
	authsvc "codeberg.org/oliverandrich/otpgate/internal/services/auth"
	"codeberg.org/oliverandrich/otpgate/internal/services/federated"
	"github.com/labstack/echo/v4"
)

// RegisterRequest is the request body for starting registration.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// VerifyRegistrationRequest completes a registration.
type VerifyRegistrationRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// LoginRequest is the request body for password login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// VerifyLoginRequest completes a login with a passcode.
type VerifyLoginRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// EmailRequest asks for a passcode.
type EmailRequest struct {
	Email string `json:"email"`
}

// ChangePasswordRequest is the request body for changing the password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// GoogleLoginRequest carries the authorization code and the echoed state.
type GoogleLoginRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

// TokenResponse is returned by every completed login.
type TokenResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        *models.User `json:"user"`
}

func sessionResponse(s *authsvc.Session) TokenResponse {
	return TokenResponse{
		AccessToken: s.AccessToken,
		TokenType:   s.TokenType,
		ExpiresAt:   s.ExpiresAt,
		User:        s.User,
	}
}

func (h *Handlers) message(c echo.Context, status int, messageID string) error {
	return c.JSON(status, map[string]string{
		"message": i18n.T(c.Request().Context(), messageID),
	})
}

// Register validates the request and sends a registration passcode.
func (h *Handlers) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if req.Email == "" || req.Password == "" {
		return badRequest(c, "email and password are required")
	}

	err := h.auth.Register(c.Request().Context(), authsvc.RegisterParams{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		return RespondError(c, err)
	}
	return h.message(c, http.StatusCreated, "registration_code_sent")
}

// VerifyRegistration consumes the passcode, creates the account and logs in.
func (h *Handlers) VerifyRegistration(c echo.Context) error {
	var req VerifyRegistrationRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if req.Email == "" || req.OTP == "" || req.Password == "" {
		return badRequest(c, "email, otp and password are required")
	}

	session, err := h.auth.VerifyRegistration(c.Request().Context(), authsvc.VerifyRegistrationParams{
		Email:       req.Email,
		Code:        req.OTP,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, sessionResponse(session))
}

// Login checks the password and sends a login passcode.
func (h *Handlers) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if req.Email == "" || req.Password == "" {
		return badRequest(c, "email and password are required")
	}

	if err := h.auth.Login(c.Request().Context(), req.Email, req.Password); err != nil {
		return RespondError(c, err)
	}
	return h.message(c, http.StatusOK, "login_code_sent")
}

// VerifyLogin consumes a passcode and issues a token.
func (h *Handlers) VerifyLogin(c echo.Context) error {
	var req VerifyLoginRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if req.Email == "" || req.OTP == "" {
		return badRequest(c, "email and otp are required")
	}

	session, err := h.auth.VerifyLogin(c.Request().Context(), req.Email, req.OTP)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, sessionResponse(session))
}

// SendOTP issues a passcode for an email address. ResendOTP is routed here too.
func (h *Handlers) SendOTP(c echo.Context) error {
	var req EmailRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if req.Email == "" {
		return badRequest(c, "email is required")
	}

	if err := h.auth.SendOTP(c.Request().Context(), req.Email); err != nil {
		return RespondError(c, err)
	}
	return h.message(c, http.StatusOK, "code_sent")
}

// PasswordPolicy lists the password requirements in human-readable form.
func (h *Handlers) PasswordPolicy(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]string{
		"requirements": h.auth.PasswordValidator().GetHelpTexts(),
	})
}

// Me returns the user behind the bearer token.
func (h *Handlers) Me(c echo.Context) error {
	claims := auth.GetClaims(c.Request().Context())
	if claims == nil {
		return RespondError(c, autherr.ErrInvalidToken)
	}

	user, err := h.auth.GetUser(c.Request().Context(), claims.UserID)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, user)
}

// ChangePassword replaces the password of the authenticated user.
func (h *Handlers) ChangePassword(c echo.Context) error {
	claims := auth.GetClaims(c.Request().Context())
	if claims == nil {
		return RespondError(c, autherr.ErrInvalidToken)
	}

	var req ChangePasswordRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if req.NewPassword == "" {
		return badRequest(c, "new password is required")
	}

	err := h.auth.ChangePassword(c.Request().Context(), claims.UserID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		return RespondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GoogleURL returns the consent URL and sets the signed state cookie.
func (h *Handlers) GoogleURL(c echo.Context) error {
	if h.google == nil {
		return RespondError(c, autherr.ErrNotFound)
	}

	url, cookie, err := h.google.AuthCodeURL()
	if err != nil {
		return RespondError(c, err)
	}
	c.SetCookie(cookie)
	return c.JSON(http.StatusOK, map[string]string{"url": url})
}

// GoogleLogin exchanges the authorization code and logs the user in.
func (h *Handlers) GoogleLogin(c echo.Context) error {
	if h.google == nil {
		return RespondError(c, autherr.ErrNotFound)
	}

	var req GoogleLoginRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if req.Code == "" {
		return badRequest(c, "code is required")
	}

	var stateCookie string
	if cookie, err := c.Cookie(federated.StateCookieName); err == nil {
		stateCookie = cookie.Value
	}
	// The state is single use whatever the outcome.
	c.SetCookie(h.google.ClearStateCookie())

	if err := h.google.VerifyState(stateCookie, req.State); err != nil {
		return RespondError(c, err)
	}

	profile, err := h.google.Exchange(c.Request().Context(), req.Code)
	if err != nil {
		return RespondError(c, err)
	}

	session, err := h.auth.LoginFederated(c.Request().Context(), profile)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, sessionResponse(session))
}
