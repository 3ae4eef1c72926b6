// internal/browser/cookies.go
package browser

import (
	"math"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
)

// fromNetworkCookies converts CDP cookies into their serializable form.
func fromNetworkCookies(in []*network.Cookie) []schemas.Cookie {
	out := make([]schemas.Cookie, 0, len(in))
	for _, c := range in {
		if c == nil {
			continue
		}
		out = append(out, schemas.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite.String(),
		})
	}
	return out
}

// toCookieParams converts stored cookies into parameters for Network.setCookies.
// Session cookies (no expiry) are installed without one.
func toCookieParams(in []schemas.Cookie) []*network.CookieParam {
	out := make([]*network.CookieParam, 0, len(in))
	for _, c := range in {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			exp := cdp.TimeSinceEpoch(epochToTime(c.Expires))
			p.Expires = &exp
		}
		switch network.CookieSameSite(c.SameSite) {
		case network.CookieSameSiteStrict, network.CookieSameSiteLax, network.CookieSameSiteNone:
			p.SameSite = network.CookieSameSite(c.SameSite)
		}
		out = append(out, p)
	}
	return out
}

func epochToTime(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*float64(time.Second)))
}
