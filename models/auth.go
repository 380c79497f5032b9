package models

// Operator is the authenticated principal of the internal API.
type Operator struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

const RoleOperator = "operator"

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}
