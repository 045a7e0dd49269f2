package domain

// Site is a construction project or location with its own inventory. The
// registry of valid sites is supplied by the surrounding application.
type Site struct {
	ID   string
	Name string
}
