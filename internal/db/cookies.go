package db

import "time"

// UpsertCookie inserts or updates a cookie keyed by (domain, path, name).
// An existing cookie keeps its original position in LoadCookies order.
func (d *DB) UpsertCookie(c Cookie) error {
	_, err := d.sql.Exec(`
		INSERT INTO cookies (domain, path, name, value, expires, secure, http_only)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT (domain, path, name) DO UPDATE SET
			value = excluded.value,
			expires = excluded.expires,
			secure = excluded.secure,
			http_only = excluded.http_only`,
		c.Domain, cookiePath(c.Path), c.Name, c.Value, expiresToInt(c.Expires),
		boolToInt(c.Secure), boolToInt(c.HTTPOnly),
	)
	return err
}

// LoadCookies returns all stored cookies in insertion order.
func (d *DB) LoadCookies() ([]Cookie, error) {
	rows, err := d.sql.Query(`
		SELECT domain, path, name, value, expires, secure, http_only
		FROM cookies ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cookies []Cookie
	for rows.Next() {
		c, err := scanCookie(rows)
		if err != nil {
			return nil, err
		}
		cookies = append(cookies, c)
	}
	return cookies, rows.Err()
}

// DeleteCookies removes the cookies stored under any of the given domains.
func (d *DB) DeleteCookies(domains ...string) error {
	if len(domains) == 0 {
		return nil
	}
	args := make([]any, len(domains))
	for i, dom := range domains {
		args[i] = dom
	}
	_, err := d.sql.Exec("DELETE FROM cookies WHERE domain IN ("+placeholders(len(domains))+")", args...)
	return err
}

func scanCookie(row rowScanner) (Cookie, error) {
	var c Cookie
	var expires int64
	var secure, httpOnly int
	if err := row.Scan(&c.Domain, &c.Path, &c.Name, &c.Value, &expires, &secure, &httpOnly); err != nil {
		return Cookie{}, err
	}
	if expires > 0 {
		c.Expires = time.Unix(expires, 0)
	}
	c.Secure = secure == 1
	c.HTTPOnly = httpOnly == 1
	return c, nil
}

func cookiePath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

func expiresToInt(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
