package auth

// UserContext represents the authenticated context for a request
type UserContext struct {
	Subject   string   `json:"subject"`
	Role      string   `json:"role"`
	Scopes    []string `json:"scopes"`
	IsAPIKey  bool     `json:"is_api_key"`
	TokenType string   `json:"token_type"` // jwt or api_key

	// KeyID is the configured key id (if IsAPIKey)
	KeyID string `json:"key_id,omitempty"`
}

// HasScope reports whether the context carries the given scope
func (u *UserContext) HasScope(scope string) bool {
	for _, s := range u.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Scopes for authorization
const (
	ScopeResearchRead  = "research:read"  // stream events, read status
	ScopeResearchWrite = "research:write" // submit and cancel requests
	ScopeResearchAdmin = "research:admin" // hard abort running workflows
)

// Roles carried in JWT claims
const (
	RoleViewer = "viewer"
	RoleUser   = "user"
	RoleAdmin  = "admin"
)
