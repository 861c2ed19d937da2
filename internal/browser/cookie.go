package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"

	"sipdmod/internal/logging"
)

// CookieCredential reads the bearer token from a cookie of the attached tab.
// It satisfies retrieval.CredentialSource.
type CookieCredential struct {
	Page *rod.Page
	Name string
	// URLs limits the CDP cookie lookup. Empty means the page's own URL.
	URLs []string
}

// Token returns the cookie value, or "" when the cookie is not set. The CDP
// cookie jar is consulted first so HttpOnly cookies are found; document.cookie
// is the fallback.
func (c *CookieCredential) Token(ctx context.Context) (string, error) {
	if c.Page == nil {
		return "", ErrNotConnected
	}
	page := c.Page.Context(ctx)

	cookies, err := page.Cookies(c.URLs)
	if err == nil {
		for _, ck := range cookies {
			if ck.Name == c.Name {
				return ck.Value, nil
			}
		}
		return "", nil
	}
	logging.BrowserDebug("CDP cookie lookup failed, reading document.cookie: %v", err)

	res, err := page.Eval(jsCookie, c.Name)
	if err != nil {
		return "", fmt.Errorf("read cookie %s: %w", c.Name, err)
	}
	return res.Value.Str(), nil
}
