// Package latencycodec implements the latency encoder/decoder (C9):
// stamping and reading one of three reserved fields depending on
// message class, per spec.md §4.7.
package latencycodec

// FieldID identifies one of the three reserved latency-timestamp fields.
type FieldID int

const (
	// TimTrk1 carries latency stamps for update messages.
	TimTrk1 FieldID = 1
	// TimTrk2 carries latency stamps for post messages.
	TimTrk2 FieldID = 2
	// TimTrk3 carries latency stamps for generic messages.
	TimTrk3 FieldID = 3
)

// MessageClass selects which reserved field a stamp belongs to.
type MessageClass int

const (
	ClassUpdate MessageClass = iota
	ClassPost
	ClassGeneric
)

// FieldFor returns the reserved field used by a given message class.
func FieldFor(class MessageClass) FieldID {
	switch class {
	case ClassUpdate:
		return TimTrk1
	case ClassPost:
		return TimTrk2
	case ClassGeneric:
		return TimTrk3
	default:
		return TimTrk1
	}
}

// Stamp is a placed-or-absent latency value: zero means "no stamp for
// this message" per spec.md §4.7 ("if start_time_or_zero > 0, write...").
type Stamp struct {
	Field FieldID
	Value uint64 // 0 means absent
}

// Encode builds the Stamp for an outbound message of the given class.
// If startTime is <= 0 no stamp is produced (Value remains 0), matching
// the "blank placeholder" behavior consumers rely on to locate the field
// by schema without every message actually carrying a value.
func Encode(class MessageClass, startTime int64) Stamp {
	s := Stamp{Field: FieldFor(class)}
	if startTime > 0 {
		s.Value = uint64(startTime)
	}
	return s
}

// RefreshPlaceholders returns the three blank placeholder stamps a
// refresh message always includes so consumers can locate the fields by
// schema even though a refresh never itself carries a measured latency.
func RefreshPlaceholders() [3]Stamp {
	return [3]Stamp{
		{Field: TimTrk1},
		{Field: TimTrk2},
		{Field: TimTrk3},
	}
}

// NanosToMicros divides a nanosecond-mode stamp by 1000 for aggregation,
// per spec.md §4.7's nanosecond-mode handling.
func NanosToMicros(nanos int64) int64 {
	return nanos / 1000
}

// Decode reads the matching field for an inbound message of the given
// class. ok is false if the field was absent or zero (no latency
// sample to record); nowMicros is the receiver's current monotonic
// microsecond clock reading.
func Decode(class MessageClass, fieldValue uint64, nowMicros int64) (latencyUsec int64, ok bool) {
	if fieldValue == 0 {
		return 0, false
	}
	return nowMicros - int64(fieldValue), true
}
