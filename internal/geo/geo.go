// Package geo resolves client IP addresses to a coarse location and records
// it on the session profile.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/szaher/minime/internal/events"
	"github.com/szaher/minime/internal/store"
)

// DefaultBaseURL is the ip-api.com endpoint.
const DefaultBaseURL = "http://ip-api.com"

// Location is the result of a lookup.
type Location struct {
	Country    string `json:"country"`
	City       string `json:"city"`
	PostalCode string `json:"zip"`
	TimeZone   string `json:"timezone"`
}

// Locator looks up an IP address.
type Locator interface {
	Lookup(ctx context.Context, ip string) (*Location, error)
}

// IPAPI is a Locator backed by ip-api.com's JSON endpoint.
type IPAPI struct {
	client  *http.Client
	baseURL string
}

// NewIPAPI creates a locator. An empty baseURL uses DefaultBaseURL.
func NewIPAPI(baseURL string) *IPAPI {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &IPAPI{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Lookup queries the location of ip.
func (a *IPAPI) Lookup(ctx context.Context, ip string) (*Location, error) {
	endpoint := fmt.Sprintf("%s/json/%s?fields=status,country,city,zip,timezone", a.baseURL, url.PathEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ip-api request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ip-api request: status %d", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
		Location
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding ip-api response: %w", err)
	}
	if body.Status != "success" {
		return nil, fmt.Errorf("ip-api lookup failed for %s: status %q", ip, body.Status)
	}
	return &body.Location, nil
}

// Enricher stores the client location on ConversationStarted.
type Enricher struct {
	locator Locator
	store   store.Store
	logger  *slog.Logger
}

// NewEnricher creates the handler.
func NewEnricher(locator Locator, st store.Store, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{locator: locator, store: st, logger: logger}
}

// Handle merges the location into the session profile. When the lookup
// fails only the IP is stored.
func (e *Enricher) Handle(ctx context.Context, ev events.Event) error {
	if ev.SessionID == "" || ev.IP == "" {
		return nil
	}
	info := store.UserInfo{IP: store.Ptr(ev.IP)}

	loc, err := e.locator.Lookup(ctx, ev.IP)
	if err != nil {
		e.logger.Warn("ip geolocation failed", "session_id", ev.SessionID, "error", err)
	} else {
		info.Country = nonEmpty(loc.Country)
		info.City = nonEmpty(loc.City)
		info.PostalCode = nonEmpty(loc.PostalCode)
		info.TimeZone = nonEmpty(loc.TimeZone)
	}

	if err := e.store.SaveUserInfo(ctx, ev.SessionID, info); err != nil {
		return fmt.Errorf("saving location: %w", err)
	}
	return nil
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return store.Ptr(s)
}
