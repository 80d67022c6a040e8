// Package cookies rebuilds the Cookie header for the monitored site from
// cookies the user imported from their browser.
package cookies

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/zsprackett/cursor-balance/internal/db"
)

// SessionCookieName is the cookie the service uses for the signed-in session.
const SessionCookieName = "WorkosCursorSessionToken"

// minHeaderLen is the shortest header that can carry a session. Anything
// shorter is treated as logged out.
const minHeaderLen = 10

const httpOnlyPrefix = "#HttpOnly_"

// ParseNetscape reads a cookies.txt export (the format curl and most
// browser extensions write).
func ParseNetscape(r io.Reader) ([]db.Cookie, error) {
	var out []db.Cookie
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		httpOnly := false
		if strings.HasPrefix(line, httpOnlyPrefix) {
			httpOnly = true
			line = strings.TrimPrefix(line, httpOnlyPrefix)
		}
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 7 {
			return nil, fmt.Errorf("line %d: expected 7 tab-separated fields, got %d", lineNo, len(fields))
		}
		c := db.Cookie{
			Domain:   fields[0],
			Path:     fields[2],
			Secure:   strings.EqualFold(fields[3], "TRUE"),
			Name:     fields[5],
			Value:    strings.Join(fields[6:], "\t"),
			HTTPOnly: httpOnly,
		}
		if exp, err := strconv.ParseInt(fields[4], 10, 64); err == nil && exp > 0 {
			c.Expires = time.Unix(exp, 0)
		}
		out = append(out, c)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	return out, nil
}

// ParseHeader splits a raw "a=b; c=d" Cookie header into session cookies
// for domain.
func ParseHeader(domain, header string) []db.Cookie {
	var out []db.Cookie
	for _, part := range strings.Split(header, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" {
			continue
		}
		out = append(out, db.Cookie{Domain: domain, Path: "/", Name: name, Value: value})
	}
	return out
}

// RegistrableDomain reduces a host (or URL host) to its registrable domain,
// e.g. www.cursor.com -> cursor.com.
func RegistrableDomain(host string) string {
	host = normalizeHost(host)
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return host
}

// MatchesDomain reports whether a cookie stored for cookieDomain is sent to
// target or one of its subdomains. Leading dots are ignored.
func MatchesDomain(cookieDomain, target string) bool {
	c := normalizeHost(cookieDomain)
	t := normalizeHost(target)
	if c == "" || t == "" {
		return false
	}
	return c == t || strings.HasSuffix(c, "."+t)
}

// BuildHeader joins every unexpired cookie matching target into a Cookie
// header value. When a name repeats, the last value wins but the name keeps
// the position of its first occurrence.
func BuildHeader(cookies []db.Cookie, target string, now time.Time) string {
	var order []string
	values := make(map[string]string)
	for _, c := range cookies {
		if !MatchesDomain(c.Domain, target) {
			continue
		}
		if !c.Expires.IsZero() && !c.Expires.After(now) {
			continue
		}
		if _, seen := values[c.Name]; !seen {
			order = append(order, c.Name)
		}
		values[c.Name] = c.Value
	}
	pairs := make([]string, 0, len(order))
	for _, name := range order {
		pairs = append(pairs, name+"="+values[name])
	}
	return strings.Join(pairs, "; ")
}

// IsLoggedOutHeader reports whether header is too short to carry a session.
func IsLoggedOutHeader(header string) bool {
	return len(header) < minHeaderLen
}

func normalizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if i := strings.Index(h, "://"); i >= 0 {
		h = h[i+3:]
	}
	if i := strings.IndexAny(h, "/:"); i >= 0 {
		h = h[:i]
	}
	return strings.TrimPrefix(h, ".")
}
