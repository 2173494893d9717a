package stats

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/subzone/server/internal/world"
)

// Persisted blob format for one (scope, interval) bucket, little-endian: a
// uint32 byte length followed by that many bytes of records {code int16,
// kind byte, value}. Narrow kinds carry 4 value bytes, wide kinds 8.
// Zero-valued entries are skipped on encode; a record with an unknown kind
// ends the decode since its width is unknown.

type kind uint8

const (
	kindI32 kind = iota
	kindU32
	kindZig32 // zigzag-mapped signed, favors small magnitudes
	kindFix32 // raw unsigned bits
	kindI64
	kindU64
	kindZig64
	kindFix64
	kindTimestamp // seconds since the Unix epoch
	kindDuration  // accumulated play time, milliseconds
)

func (k kind) wide() bool { return k >= kindI64 }

func (k kind) valid() bool { return k <= kindDuration }

func (k kind) signed() bool {
	switch k {
	case kindI32, kindZig32, kindI64, kindZig64, kindTimestamp, kindDuration:
		return true
	}
	return false
}

// zigzag folds sign into the low bit so small negatives stay small.
func zigzag(v int64) uint64   { return uint64((v << 1) ^ (v >> 63)) }
func unzigzag(u uint64) int64 { return int64(u>>1) ^ -int64(u&1) }

type entry struct {
	k     kind
	value int64
}

func (e *entry) add(amount int64) {
	e.value += amount
	e.promote()
}

func (e *entry) set(v int64) {
	e.value = v
	e.promote()
}

// promote widens the on-disk kind once the value outgrows 4 bytes. Values
// never narrow back.
func (e *entry) promote() {
	switch e.k {
	case kindI32:
		if e.value > math.MaxInt32 || e.value < math.MinInt32 {
			e.k = kindI64
		}
	case kindZig32:
		if e.value > math.MaxInt32 || e.value < math.MinInt32 {
			e.k = kindZig64
		}
	case kindU32:
		if e.value > math.MaxUint32 || e.value < 0 {
			e.k = kindU64
		}
	case kindFix32:
		if e.value > math.MaxUint32 || e.value < 0 {
			e.k = kindFix64
		}
	}
}

// defaultKind picks the storage kind for a stat's first write.
func defaultKind(code world.StatCode) kind {
	switch code {
	case world.StatFlagCarryTime, world.StatBallCarryTime,
		world.StatArenaTotalTime, world.StatArenaSpecTime:
		return kindDuration
	case world.StatLastSeen:
		return kindTimestamp
	case world.StatKillPoints, world.StatFlagPoints, world.StatSpeedPersonalBest:
		return kindI32 // point totals may go negative
	default:
		return kindU32
	}
}

func (k kind) encodeValue(v int64) uint64 {
	switch k {
	case kindZig32, kindZig64:
		return zigzag(v)
	default:
		return uint64(v)
	}
}

func (k kind) decodeValue(raw uint64) int64 {
	switch k {
	case kindZig32, kindZig64:
		return unzigzag(raw)
	default:
		return int64(raw)
	}
}

func encodeBucket(m map[world.StatCode]*entry) []byte {
	if len(m) == 0 {
		return nil
	}
	codes := make([]world.StatCode, 0, len(m))
	for c, e := range m {
		if e.value != 0 {
			codes = append(codes, c)
		}
	}
	if len(codes) == 0 {
		return nil
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

	buf := make([]byte, 4, 4+len(codes)*11)
	for _, c := range codes {
		e := m[c]
		raw := e.k.encodeValue(e.value)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(c))
		buf = append(buf, byte(e.k))
		if e.k.wide() {
			buf = binary.LittleEndian.AppendUint64(buf, raw)
		} else {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(raw))
		}
	}
	binary.LittleEndian.PutUint32(buf, uint32(len(buf)-4))
	return buf
}

func decodeBucket(data []byte) map[world.StatCode]*entry {
	m := make(map[world.StatCode]*entry)
	if len(data) < 4 {
		return m
	}
	n := int(binary.LittleEndian.Uint32(data))
	data = data[4:]
	if n < len(data) {
		data = data[:n]
	}
	for len(data) >= 3 {
		code := world.StatCode(binary.LittleEndian.Uint16(data))
		k := kind(data[2])
		data = data[3:]
		if !k.valid() {
			break
		}
		var v int64
		if k.wide() {
			if len(data) < 8 {
				break
			}
			v = k.decodeValue(binary.LittleEndian.Uint64(data))
			data = data[8:]
		} else {
			if len(data) < 4 {
				break
			}
			raw := binary.LittleEndian.Uint32(data)
			data = data[4:]
			switch {
			case k == kindZig32:
				v = unzigzag(uint64(raw))
			case k.signed():
				v = int64(int32(raw))
			default:
				v = int64(raw)
			}
		}
		m[code] = &entry{k: promoteLegacy(code, k), value: v}
	}
	return m
}

// promoteLegacy re-kinds blobs written before kill and flag points went
// signed: their unsigned entries read back as the signed equivalent so
// later negative awards apply cleanly.
func promoteLegacy(code world.StatCode, k kind) kind {
	if code != world.StatKillPoints && code != world.StatFlagPoints {
		return k
	}
	switch k {
	case kindU32:
		return kindI32
	case kindU64:
		return kindI64
	}
	return k
}
