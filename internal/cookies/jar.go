package cookies

import (
	"fmt"
	"sync"
	"time"

	"github.com/zsprackett/cursor-balance/internal/db"
)

// Store persists cookies. *db.DB implements it.
type Store interface {
	LoadCookies() ([]db.Cookie, error)
	UpsertCookie(c db.Cookie) error
	DeleteCookies(domains ...string) error
}

// Jar scopes a Store to one site and reports changes to listeners.
type Jar struct {
	store  Store
	domain string
	now    func() time.Time

	mu        sync.Mutex
	listeners []func()
}

func NewJar(store Store, domain string) *Jar {
	return &Jar{
		store:  store,
		domain: RegistrableDomain(domain),
		now:    time.Now,
	}
}

func (j *Jar) Domain() string { return j.domain }

// OnChange registers fn to run after cookies for the site are added or removed.
func (j *Jar) OnChange(fn func()) {
	j.mu.Lock()
	j.listeners = append(j.listeners, fn)
	j.mu.Unlock()
}

func (j *Jar) changed() {
	j.mu.Lock()
	fns := append([]func(){}, j.listeners...)
	j.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Header rebuilds the Cookie header for the site.
func (j *Jar) Header() (string, error) {
	all, err := j.store.LoadCookies()
	if err != nil {
		return "", fmt.Errorf("load cookies: %w", err)
	}
	return BuildHeader(all, j.domain, j.now()), nil
}

// Import stores the cookies that belong to the site and returns how many
// were kept.
func (j *Jar) Import(cookies []db.Cookie) (int, error) {
	n := 0
	for _, c := range cookies {
		if !MatchesDomain(c.Domain, j.domain) {
			continue
		}
		if err := j.store.UpsertCookie(c); err != nil {
			return n, fmt.Errorf("store cookie %s: %w", c.Name, err)
		}
		n++
	}
	if n > 0 {
		j.changed()
	}
	return n, nil
}

// SetSessionToken stores a session token pasted by the user.
func (j *Jar) SetSessionToken(token string) error {
	if token == "" {
		return fmt.Errorf("empty session token")
	}
	_, err := j.Import([]db.Cookie{{
		Domain:   j.domain,
		Path:     "/",
		Name:     SessionCookieName,
		Value:    token,
		Secure:   true,
		HTTPOnly: true,
	}})
	return err
}

// Clear deletes every stored cookie for the site and its subdomains.
func (j *Jar) Clear() error {
	all, err := j.store.LoadCookies()
	if err != nil {
		return fmt.Errorf("load cookies: %w", err)
	}
	seen := map[string]bool{}
	var domains []string
	for _, c := range all {
		if MatchesDomain(c.Domain, j.domain) && !seen[c.Domain] {
			seen[c.Domain] = true
			domains = append(domains, c.Domain)
		}
	}
	if len(domains) == 0 {
		return nil
	}
	if err := j.store.DeleteCookies(domains...); err != nil {
		return fmt.Errorf("delete cookies: %w", err)
	}
	j.changed()
	return nil
}
