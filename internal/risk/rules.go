package risk

import (
	"net/netip"
	"slices"
)

// Rule is one weighted risk factor over input T.
type Rule[T any] struct {
	Name   string
	Weight int
	Match  func(in T, ref *ReferenceData) bool
}

// apply sums the weights of matching rules, clamped to 0-100, and returns
// the sorted, de-duplicated names of the rules that fired.
func apply[T any](rules []Rule[T], in T, ref *ReferenceData) (int, []string) {
	score := 0
	flags := make([]string, 0, len(rules))
	for _, r := range rules {
		if r.Match(in, ref) {
			score += r.Weight
			flags = append(flags, r.Name)
		}
	}
	return clamp(score), normalizeFlags(flags)
}

func clamp(score int) int {
	return min(max(score, 0), 100)
}

func normalizeFlags(flags []string) []string {
	slices.Sort(flags)
	return slices.Compact(flags)
}

var transactionRules = []Rule[*TransactionContext]{
	{
		Name:   FlagLargeAmount,
		Weight: 40,
		Match: func(t *TransactionContext, ref *ReferenceData) bool {
			amount, ok := parseAmount(t.Amount)
			return ok && amount.Cmp(ref.thresholdFor(upperCode(t.Currency))) >= 0
		},
	},
	{
		Name:   FlagHighRiskCurrency,
		Weight: 30,
		Match: func(t *TransactionContext, ref *ReferenceData) bool {
			_, ok := ref.crypto[upperCode(t.Currency)]
			return ok
		},
	},
	{
		Name:   FlagHighRiskJurisdiction,
		Weight: 35,
		Match: func(t *TransactionContext, ref *ReferenceData) bool {
			_, ok := ref.jurisdictions[upperCode(t.CounterpartJurisdiction)]
			return ok
		},
	},
	{
		Name:   FlagHighFrequency,
		Weight: 25,
		Match: func(t *TransactionContext, ref *ReferenceData) bool {
			return t.RecentCount >= ref.Transaction.HighFrequencyCount
		},
	},
}

var loginRules = []Rule[*LoginContext]{
	{
		Name:   FlagNewIP,
		Weight: 15,
		Match: func(l *LoginContext, _ *ReferenceData) bool {
			return !slices.Contains(l.Baseline.KnownIPs, l.IP)
		},
	},
	{
		Name:   FlagNewNetwork,
		Weight: 20,
		Match: func(l *LoginContext, _ *ReferenceData) bool {
			network, ok := networkOf(l.IP)
			if !ok {
				return true
			}
			for _, known := range l.Baseline.KnownIPs {
				if n, ok := networkOf(known); ok && n == network {
					return false
				}
			}
			return true
		},
	},
	{
		Name:   FlagNewDevice,
		Weight: 30,
		Match: func(l *LoginContext, _ *ReferenceData) bool {
			return l.DeviceFingerprint == "" || !slices.Contains(l.Baseline.KnownDevices, l.DeviceFingerprint)
		},
	},
	{
		Name:   FlagUnusualHour,
		Weight: 25,
		Match: func(l *LoginContext, ref *ReferenceData) bool {
			if len(l.Baseline.UsualHours) == 0 {
				return false
			}
			hour := l.At.UTC().Hour()
			nearest := 24
			for _, h := range l.Baseline.UsualHours {
				nearest = min(nearest, hourDistance(hour, h))
			}
			return nearest > ref.Login.HourTolerance
		},
	},
}

// hourDistance is the distance between two hours on a 24h clock.
func hourDistance(a, b int) int {
	d := (a - b + 24) % 24
	return min(d, 24-d)
}

// networkOf returns the /24 (IPv4) or /48 (IPv6) containing ip.
func networkOf(ip string) (netip.Prefix, bool) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return netip.Prefix{}, false
	}
	addr = addr.Unmap()
	bits := 48
	if addr.Is4() {
		bits = 24
	}
	p, err := addr.Prefix(bits)
	return p, err == nil
}
