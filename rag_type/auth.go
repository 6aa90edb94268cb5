package rag_type

// AuthRefresh carries the credentials the auth collaborator hands back on every
// authenticated request. It is embedded in responses under "tokens".
type AuthRefresh struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       int64  `json:"user_id"`
}
