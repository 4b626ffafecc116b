package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/noah-isme/toko-rates/internal/shipping"
	"github.com/noah-isme/toko-rates/internal/tax"
	"github.com/noah-isme/toko-rates/internal/zone"
)

// ErrUnavailable is returned when no snapshot has ever been loaded successfully.
var ErrUnavailable = errors.New("rate snapshot unavailable")

// Entities is the raw configuration maintained by the admin screens.
type Entities struct {
	Zones    []zone.Zone        `json:"zones"`
	Services []shipping.Service `json:"services"`
	TaxRates []tax.Rate         `json:"taxRates"`
	// TaxSettings overrides the process defaults when present.
	TaxSettings *tax.Settings `json:"taxSettings,omitempty"`
}

// Snapshot is an immutable, indexed view of Entities. It is shared by concurrent quotes.
type Snapshot struct {
	Version  uint64
	// Digest identifies the entity contents. Unlike Version it is stable across processes.
	Digest   string
	LoadedAt time.Time
	Zones    *zone.Resolver
	Taxes    *tax.Matcher
	Settings *tax.Settings

	services []shipping.Service
	byCode   map[string]int
}

// Build validates entities and prepares the lookup structures. Every validation problem is
// returned at once.
func Build(version uint64, e Entities) (*Snapshot, error) {
	var errs []error

	resolver, err := zone.NewResolver(e.Zones)
	if err != nil {
		errs = append(errs, fmt.Errorf("zones: %w", err))
	}
	matcher, err := tax.NewMatcher(e.TaxRates)
	if err != nil {
		errs = append(errs, fmt.Errorf("tax rates: %w", err))
	}

	s := &Snapshot{
		Version:  version,
		LoadedAt: time.Now().UTC(),
		Zones:    resolver,
		Taxes:    matcher,
		byCode:   make(map[string]int, len(e.Services)),
	}
	for _, svc := range e.Services {
		svc.Tiers = append([]shipping.RateTier(nil), svc.Tiers...)
		if err := svc.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("services: %w", err))
			continue
		}
		if _, dup := s.byCode[svc.Code]; dup {
			errs = append(errs, fmt.Errorf("services: duplicate code %s", svc.Code))
			continue
		}
		s.byCode[svc.Code] = len(s.services)
		s.services = append(s.services, svc)
	}
	if e.TaxSettings != nil {
		settings := *e.TaxSettings
		if err := settings.Validate(); err != nil {
			errs = append(errs, err)
		}
		s.Settings = &settings
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	digest, err := Digest(e)
	if err != nil {
		return nil, err
	}
	s.Digest = digest

	sort.SliceStable(s.services, func(i, j int) bool {
		if s.services[i].SortOrder != s.services[j].SortOrder {
			return s.services[i].SortOrder < s.services[j].SortOrder
		}
		return s.services[i].Code < s.services[j].Code
	})
	for i, svc := range s.services {
		s.byCode[svc.Code] = i
	}
	return s, nil
}

// Digest hashes the canonical JSON form of e.
func Digest(e Entities) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("digest entities: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16]), nil
}

// Services returns every configured service ordered by sort order then code. Callers must not
// modify the result.
func (s *Snapshot) Services() []shipping.Service {
	return s.services
}

// Service looks up a service by code, including inactive ones.
func (s *Snapshot) Service(code string) (shipping.Service, bool) {
	i, ok := s.byCode[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return shipping.Service{}, false
	}
	return s.services[i], true
}

// Summary reports entity counts for readiness probes and logs.
type Summary struct {
	Version  uint64    `json:"version"`
	Digest   string    `json:"digest"`
	LoadedAt time.Time `json:"loadedAt"`
	Services int       `json:"services"`
}

// Summary describes the snapshot.
func (s *Snapshot) Summary() Summary {
	return Summary{Version: s.Version, Digest: s.Digest, LoadedAt: s.LoadedAt, Services: len(s.services)}
}
