// Package messages routes the request/reply messages exchanged between the
// page scraper, the UI and the poller.
package messages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/zsprackett/cursor-balance/internal/balance"
	"github.com/zsprackett/cursor-balance/internal/scrape"
)

const (
	TypeBalanceData  = "BALANCE_DATA"
	TypePageSnapshot = "PAGE_SNAPSHOT"
	TypeGetBalance   = "GET_BALANCE"
	TypeLogout       = "LOGOUT"
	TypeRefresh      = "REFRESH"
)

type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// PageSnapshot is the payload of PAGE_SNAPSHOT.
type PageSnapshot struct {
	URL  string `json:"url"`
	HTML string `json:"html"`
}

// Reply is either an acknowledgement, an error, or the stored record. A
// record reply is encoded as the bare record.
type Reply struct {
	Success *bool
	Record  *balance.Record
	Error   string
}

func (r Reply) MarshalJSON() ([]byte, error) {
	if r.Record != nil {
		return json.Marshal(r.Record)
	}
	return json.Marshal(struct {
		Success *bool  `json:"success,omitempty"`
		Error   string `json:"error,omitempty"`
	}{r.Success, r.Error})
}

func Ack(ok bool) Reply { return Reply{Success: &ok} }

func Failure(err error) Reply {
	f := false
	return Reply{Success: &f, Error: err.Error()}
}

// Poller is the part of usagepoller.Poller that messages drive.
type Poller interface {
	Fetch(ctx context.Context) bool
	Logout(ctx context.Context) bool
	SaveDetailed(ctx context.Context, d balance.DetailedUsage) error
}

type Loader interface {
	Load() (balance.Record, error)
}

type Dispatcher struct {
	poller Poller
	store  Loader
	logger *slog.Logger
}

func NewDispatcher(poller Poller, store Loader, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{poller: poller, store: store, logger: logger}
}

func (d *Dispatcher) Handle(ctx context.Context, m Message) Reply {
	switch m.Type {
	case TypeBalanceData:
		var sums scrape.Sums
		if err := decode(m.Data, &sums); err != nil {
			return Failure(err)
		}
		return d.saveSums(ctx, sums)

	case TypePageSnapshot:
		var snap PageSnapshot
		if err := decode(m.Data, &snap); err != nil {
			return Failure(err)
		}
		sums, err := scrape.ScrapeSnapshot(snap.URL, snap.HTML)
		if err != nil {
			return Failure(err)
		}
		if sums == nil {
			d.logger.Debug("page snapshot ignored", "url", snap.URL)
			return Ack(false)
		}
		return d.saveSums(ctx, *sums)

	case TypeGetBalance:
		rec, err := d.store.Load()
		if err != nil {
			return Failure(err)
		}
		return Reply{Record: &rec}

	case TypeLogout:
		return Ack(d.poller.Logout(ctx))

	case TypeRefresh:
		return Ack(d.poller.Fetch(ctx))

	default:
		return Failure(fmt.Errorf("unknown message type %q", m.Type))
	}
}

func (d *Dispatcher) saveSums(ctx context.Context, s scrape.Sums) Reply {
	err := d.poller.SaveDetailed(ctx, balance.DetailedUsage{
		Total:  s.Total,
		Auto:   s.Auto,
		Others: s.Others,
		Source: balance.SourcePage,
	})
	if err != nil {
		d.logger.Warn("save detailed usage failed", "err", err)
		return Failure(err)
	}
	return Ack(true)
}

func decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing data")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
