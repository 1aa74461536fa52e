package metadata

import (
	"encoding/binary"
	"hash/fnv"

	"golang.org/x/exp/constraints"
)

func GetAligned[T constraints.Unsigned](operand, granularity T) T {
	if granularity == 0 {
		return operand
	}
	return ((operand + (granularity - 1)) / granularity) * granularity
}

func IsAligned[T constraints.Unsigned](operand, granularity T) bool {
	if granularity == 0 {
		return true
	}
	return operand%granularity == 0
}

func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// StateHash is a FNV-1a hash of a single bound slot state.
func StateHash(kind ResourceKind, point, handle uint32, offset, size uint64) uint64 {
	var buf [1 + 4 + 4 + 8 + 8]byte
	buf[0] = byte(kind)
	binary.LittleEndian.PutUint32(buf[1:], point)
	binary.LittleEndian.PutUint32(buf[5:], handle)
	binary.LittleEndian.PutUint64(buf[9:], offset)
	binary.LittleEndian.PutUint64(buf[17:], size)
	hasher := fnv.New64a()
	hasher.Write(buf[:])
	return hasher.Sum64()
}
