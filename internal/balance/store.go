package balance

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// Keys of the storage bag. Each top-level Record field is stored on its own
// so that writers touching different fields do not overwrite each other.
const (
	KeyIsLoggedIn         = "isLoggedIn"
	KeyLastUpdate         = "lastUpdate"
	KeyUser               = "user"
	KeyUsage              = "usage"
	KeyTrial              = "trial"
	KeyDetailedUsage      = "detailedUsage"
	KeyLastDetailedUpdate = "lastDetailedUpdate"
)

var allKeys = []string{
	KeyIsLoggedIn, KeyLastUpdate, KeyUser, KeyUsage, KeyTrial,
	KeyDetailedUsage, KeyLastDetailedUpdate,
}

// Bag is an untyped key/value store. *db.DB implements it.
type Bag interface {
	SetMetaValues(values map[string]string) error
	GetMetaValues(keys ...string) (map[string]string, error)
	DeleteMeta(keys ...string) error
}

type Store struct {
	bag    Bag
	logger *slog.Logger
}

func NewStore(bag Bag, logger *slog.Logger) *Store {
	return &Store{bag: bag, logger: logger}
}

// Load reads the whole record. Missing or undecodable values are left at
// their zero value.
func (s *Store) Load() (Record, error) {
	vals, err := s.bag.GetMetaValues(allKeys...)
	if err != nil {
		return Record{}, fmt.Errorf("load record: %w", err)
	}
	var rec Record
	decode(s.logger, vals, KeyIsLoggedIn, &rec.IsLoggedIn)
	decode(s.logger, vals, KeyLastUpdate, &rec.LastUpdate)
	decode(s.logger, vals, KeyUser, &rec.User)
	decode(s.logger, vals, KeyUsage, &rec.Usage)
	decode(s.logger, vals, KeyTrial, &rec.Trial)
	decode(s.logger, vals, KeyDetailedUsage, &rec.DetailedUsage)
	decode(s.logger, vals, KeyLastDetailedUpdate, &rec.LastDetailedUpdate)
	return rec, nil
}

// decode fills dst only when the whole value decodes. json.Unmarshal can
// leave a partly filled struct behind on error.
func decode[T any](logger *slog.Logger, vals map[string]string, key string, dst *T) {
	raw, ok := vals[key]
	if !ok {
		return
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		logger.Debug("balance: undecodable stored value", "key", key, "err", err)
		return
	}
	*dst = v
}

// SaveFetched writes the fields produced by a poll. Detailed usage is left
// as stored.
func (s *Store) SaveFetched(rec Record) error {
	vals, err := encode(map[string]any{
		KeyIsLoggedIn: rec.IsLoggedIn,
		KeyLastUpdate: rec.LastUpdate,
		KeyUser:       rec.User,
		KeyUsage:      rec.Usage,
		KeyTrial:      rec.Trial,
	})
	if err != nil {
		return err
	}
	return s.bag.SetMetaValues(vals)
}

// SaveDetailed merges detailed usage into the stored record, keeping
// everything else. The last writer wins.
func (s *Store) SaveDetailed(d DetailedUsage, now time.Time) error {
	vals, err := encode(map[string]any{
		KeyDetailedUsage:      d,
		KeyLastDetailedUpdate: now.UnixMilli(),
	})
	if err != nil {
		return err
	}
	return s.bag.SetMetaValues(vals)
}

// SetLoggedOut marks the account as logged out and nulls every data block.
func (s *Store) SetLoggedOut() error {
	return s.bag.SetMetaValues(map[string]string{
		KeyIsLoggedIn:    "false",
		KeyUser:          "null",
		KeyUsage:         "null",
		KeyTrial:         "null",
		KeyDetailedUsage: "null",
	})
}

// Clear removes every stored key.
func (s *Store) Clear() error {
	return s.bag.DeleteMeta(allKeys...)
}

func encode(fields map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
		out[k] = string(b)
	}
	return out, nil
}

// ParseTimestamp reads unix milliseconds or an RFC 3339 time.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), true
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
