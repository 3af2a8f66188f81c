package domain

// Session holds the credentials and identity of an authenticated user.
type Session struct {
	AccessToken  string
	RefreshToken string
	UserID       string
	Email        string
}
