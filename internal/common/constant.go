package common

const (
	// AccessTokenCookieName and RefreshTokenCookieName are the cookies that
	// carry the session token pair.
	AccessTokenCookieName  = "accessToken"
	RefreshTokenCookieName = "refreshToken"

	// AuthorizationHeaderName carries "Bearer <access token>" for clients
	// that do not keep cookies.
	AuthorizationHeaderName = "Authorization"
	BearerPrefix            = "Bearer "
)
