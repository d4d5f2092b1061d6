package models

// LoginRequest carries credentials for the session login endpoint.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned on successful login. The session id is also set
// as a cookie.
type LoginResponse struct {
	SessionID string `json:"sessionId"`
}
