package risk

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	strs "trustcore/pkg/platform/strings"
)

// ReferenceData holds every list and threshold the rules read. It is
// immutable once published through a ReferenceHolder.
type ReferenceData struct {
	Transaction TransactionReference `yaml:"transaction"`
	Screening   ScreeningReference   `yaml:"screening"`
	Login       LoginReference       `yaml:"login"`

	// parsed from Transaction on Prepare
	defaultThreshold *big.Rat
	thresholds       map[string]*big.Rat
	crypto           map[string]struct{}
	jurisdictions    map[string]struct{}
	entries          []screeningEntry
}

type TransactionReference struct {
	DefaultThreshold      string            `yaml:"default_threshold"`
	Thresholds            map[string]string `yaml:"thresholds"`
	CryptoCurrencies      []string          `yaml:"crypto_currencies"`
	HighRiskJurisdictions []string          `yaml:"high_risk_jurisdictions"`
	HighFrequencyCount    int               `yaml:"high_frequency_count"`
}

type ScreeningReference struct {
	BlockThreshold  float64         `yaml:"block_threshold"`
	ReviewThreshold float64         `yaml:"review_threshold"`
	Lists           []ReferenceList `yaml:"lists"`
}

type ReferenceList struct {
	Name    string      `yaml:"name"`
	Entries []ListEntry `yaml:"entries"`
}

type ListEntry struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
	Country string   `yaml:"country"`
}

type LoginReference struct {
	// HourTolerance is how many hours a login may sit away from the
	// nearest usual hour before unusual_hour fires.
	HourTolerance int `yaml:"hour_tolerance"`
}

type screeningEntry struct {
	list       string
	normalized string
	country    string
}

// DefaultReferenceData returns the built-in thresholds. It carries no
// screening lists; screening reports reference data unavailable until a
// reference file is loaded.
func DefaultReferenceData() *ReferenceData {
	ref := &ReferenceData{
		Transaction: TransactionReference{
			DefaultThreshold: "10000",
			Thresholds: map[string]string{
				"USD": "10000",
				"EUR": "10000",
				"GBP": "8000",
				"BTC": "0.25",
				"ETH": "4",
			},
			CryptoCurrencies:      []string{"BTC", "ETH", "USDT", "USDC", "XMR"},
			HighRiskJurisdictions: []string{"KP", "IR", "MM"},
			HighFrequencyCount:    10,
		},
		Screening: ScreeningReference{
			BlockThreshold:  0.98,
			ReviewThreshold: 0.85,
		},
		Login: LoginReference{HourTolerance: 2},
	}
	if err := ref.Prepare(); err != nil {
		panic(err)
	}
	return ref
}

// LoadReferenceFile reads YAML reference data. Fields absent from the file
// keep their built-in defaults.
func LoadReferenceFile(path string) (*ReferenceData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reference file: %w", err)
	}
	return ParseReferenceData(raw)
}

func ParseReferenceData(raw []byte) (*ReferenceData, error) {
	ref := DefaultReferenceData()
	if err := yaml.Unmarshal(raw, ref); err != nil {
		return nil, fmt.Errorf("parse reference data: %w", err)
	}
	if err := ref.Prepare(); err != nil {
		return nil, err
	}
	return ref, nil
}

// Prepare validates the raw fields and builds lookup tables.
func (r *ReferenceData) Prepare() error {
	var errs []error

	t := r.Transaction
	def, ok := new(big.Rat).SetString(t.DefaultThreshold)
	if !ok || def.Sign() <= 0 {
		errs = append(errs, errors.New("transaction.default_threshold must be a positive decimal"))
	}
	r.defaultThreshold = def
	r.thresholds = make(map[string]*big.Rat, len(t.Thresholds))
	for cur, raw := range t.Thresholds {
		v, ok := new(big.Rat).SetString(raw)
		if !ok || v.Sign() <= 0 {
			errs = append(errs, fmt.Errorf("transaction.thresholds.%s must be a positive decimal", cur))
			continue
		}
		r.thresholds[strings.ToUpper(cur)] = v
	}
	r.crypto = upperSet(t.CryptoCurrencies)
	r.jurisdictions = upperSet(t.HighRiskJurisdictions)
	if t.HighFrequencyCount <= 0 {
		errs = append(errs, errors.New("transaction.high_frequency_count must be positive"))
	}

	s := r.Screening
	if s.ReviewThreshold <= 0 || s.BlockThreshold > 1 || s.ReviewThreshold >= s.BlockThreshold {
		errs = append(errs, errors.New("screening thresholds must satisfy 0 < review < block <= 1"))
	}
	r.entries = r.entries[:0]
	for _, list := range s.Lists {
		for _, e := range list.Entries {
			for _, name := range append([]string{e.Name}, e.Aliases...) {
				if n := normalizeName(name); n != "" {
					r.entries = append(r.entries, screeningEntry{
						list:       list.Name,
						normalized: n,
						country:    strings.ToUpper(strings.TrimSpace(e.Country)),
					})
				}
			}
		}
	}

	if r.Login.HourTolerance < 0 || r.Login.HourTolerance > 12 {
		errs = append(errs, errors.New("login.hour_tolerance must be between 0 and 12"))
	}
	return errors.Join(errs...)
}

func (r *ReferenceData) thresholdFor(currency string) *big.Rat {
	if t, ok := r.thresholds[currency]; ok {
		return t
	}
	return r.defaultThreshold
}

// EntryCount is the number of screenable names, aliases included.
func (r *ReferenceData) EntryCount() int {
	return len(r.entries)
}

func upperSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range strs.DedupeAndTrimUpper(values) {
		set[v] = struct{}{}
	}
	return set
}

// ReferenceHolder publishes reference data to concurrent readers. Reload
// swaps the whole snapshot, so one evaluation never sees a mix.
type ReferenceHolder struct {
	p atomic.Pointer[ReferenceData]
}

func NewReferenceHolder(ref *ReferenceData) *ReferenceHolder {
	h := &ReferenceHolder{}
	if ref != nil {
		h.p.Store(ref)
	}
	return h
}

// Load returns the current snapshot, or nil when none is loaded.
func (h *ReferenceHolder) Load() *ReferenceData {
	return h.p.Load()
}

func (h *ReferenceHolder) Store(ref *ReferenceData) {
	h.p.Store(ref)
}
