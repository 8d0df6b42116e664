package storage

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/aevon-lab/aevon-profiler/internal/core/profile"
	"github.com/aevon-lab/aevon-profiler/internal/core/salt"
)

// RowKeyBuilder lays out row keys as
//
//	salt (2 bytes, big endian) | profile | 0x00 | entity | 0x00 | period id (8 bytes, big endian)
//
// The salt leads so writes for adjacent periods spread across the key space.
type RowKeyBuilder struct {
	SaltDivisor int
}

// Build returns the row key for one profile/entity/period.
func (b RowKeyBuilder) Build(profileName, entity string, periodID int64) []byte {
	var buf bytes.Buffer
	buf.Grow(2 + len(profileName) + 1 + len(entity) + 1 + 8)

	var s [2]byte
	binary.BigEndian.PutUint16(s[:], uint16(salt.For(profileName, entity, b.SaltDivisor)))
	buf.Write(s[:])
	buf.WriteString(profileName)
	buf.WriteByte(0)
	buf.WriteString(entity)
	buf.WriteByte(0)

	var p [8]byte
	binary.BigEndian.PutUint64(p[:], uint64(periodID))
	buf.Write(p[:])
	return buf.Bytes()
}

// Range returns the row keys of every period intersecting [start, end).
func (b RowKeyBuilder) Range(profileName, entity string, period time.Duration, start, end time.Time) [][]byte {
	if !start.Before(end) {
		return nil
	}
	first := profile.PeriodID(start, period)
	last := profile.PeriodID(end.Add(-time.Nanosecond), period)
	keys := make([][]byte, 0, last-first+1)
	for id := first; id <= last; id++ {
		keys = append(keys, b.Build(profileName, entity, id))
	}
	return keys
}

// PeriodIDOf extracts the period id from a key built by Build.
func PeriodIDOf(rowKey []byte) (int64, bool) {
	if len(rowKey) < 2+1+1+8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(rowKey[len(rowKey)-8:])), true
}
