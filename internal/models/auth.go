package models

// Role is the resolved identity of a request, decided once per request by the
// canonical resolver rather than re-derived ad hoc in every handler.
type Role int

const (
	RoleUnauthenticated Role = iota
	RoleStoreOwner
	RoleCustomer
)

func (r Role) String() string {
	switch r {
	case RoleStoreOwner:
		return "store_owner"
	case RoleCustomer:
		return "customer"
	default:
		return "unauthenticated"
	}
}

// Session is the per-request identity: exactly one of Store or Customer is
// set for an authenticated user.
type Session struct {
	UserID   string    `json:"user_id"`
	Role     Role      `json:"role"`
	Store    *Store    `json:"store,omitempty"`
	Customer *Customer `json:"customer,omitempty"`
}

type M2MConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
}

type M2MTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}
