package models

// User is the identity collaborator's view of an account, reduced to what
// contributor redaction needs.
type User struct {
	ID             string `json:"id"`
	DisplayName    string `json:"display_name"`
	PresencePublic bool   `json:"presence_public"`
}

// M2MTokenResponse is the token endpoint's reply for client-credential
// exchanges against the auth provider.
type M2MTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}
