package api

import "time"

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RateLimitedResponse is returned with 429 Too Many Requests.
type RateLimitedResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

// CSRFTokenResponse is returned from GET /api/auth/csrf.
type CSRFTokenResponse struct {
	CSRFToken string `json:"csrfToken"`
}

// LoginRequest is the JSON body for POST /api/auth/login.
type LoginRequest struct {
	Password  string `json:"password" validate:"required,max=1024"`
	CSRFToken string `json:"csrfToken,omitempty"`
}

// SuccessResponse is returned from login and logout.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// SessionResponse is returned from GET /admin/api/session.
type SessionResponse struct {
	Subject   string    `json:"subject,omitempty"`
	IsAdmin   bool      `json:"isAdmin"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}
