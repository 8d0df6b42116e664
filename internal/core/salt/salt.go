package salt

import "github.com/cespare/xxhash/v2"

// DefaultDivisor is used when no divisor is configured.
const DefaultDivisor = 1000

// MaxDivisor keeps salts representable in the two-byte row key prefix.
const MaxDivisor = 1 << 16

// For returns the salt bucket for an entity within a profile.
// The result is in [0, divisor) and depends only on its inputs, so the
// writer and the read path always agree on it.
func For(profile, entity string, divisor int) int {
	if divisor <= 0 {
		divisor = DefaultDivisor
	}
	d := xxhash.New()
	_, _ = d.WriteString(entity)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(profile)
	return int(d.Sum64() % uint64(divisor))
}
