package schemas

import "time"

// Cookie is a browser cookie in a form that survives serialization independent
// of the browsing engine's own types.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"http_only"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"same_site,omitempty"`
}

// Session is a captured authentication artifact for one portal identity.
// It is always stored and replaced as a whole.
type Session struct {
	Key        string    `json:"key"`
	Cookies    []Cookie  `json:"cookies"`
	CapturedAt time.Time `json:"captured_at"`
}

// Empty reports whether the session carries no cookies.
func (s *Session) Empty() bool {
	return s == nil || len(s.Cookies) == 0
}
