package keys

import (
	"bytes"
	"fmt"

	"github.com/arthur-debert/lifestore/types"
)

// Bound is one end of a value range
type Bound struct {
	Value     any
	Inclusive bool
}

// Range is a contiguous range of scalar values of a single kind.
// A nil bound is open on that side but never leaves the kind of the other
// bound, so "amount >= 10" does not reach string values.
type Range struct {
	Lower *Bound
	Upper *Bound
}

// Exact is the range holding exactly v
func Exact(v any) Range {
	return Range{
		Lower: &Bound{Value: v, Inclusive: true},
		Upper: &Bound{Value: v, Inclusive: true},
	}
}

// AtLeast is the range [v, +inf) within v's kind
func AtLeast(v any, inclusive bool) Range {
	return Range{Lower: &Bound{Value: v, Inclusive: inclusive}}
}

// AtMost is the range (-inf, v] within v's kind
func AtMost(v any, inclusive bool) Range {
	return Range{Upper: &Bound{Value: v, Inclusive: inclusive}}
}

// Between is the inclusive range [lo, hi]
func Between(lo, hi any) Range {
	return Range{
		Lower: &Bound{Value: lo, Inclusive: true},
		Upper: &Bound{Value: hi, Inclusive: true},
	}
}

// Bytes converts the range into the [start, end) key interval below prefix.
// Empty reports a range that cannot hold any value (mixed kinds or
// inverted bounds).
func (r Range) Bytes(prefix []byte) (start, end []byte, empty bool, err error) {
	if r.Lower == nil && r.Upper == nil {
		return nil, nil, false, fmt.Errorf("range needs at least one bound")
	}

	var lowEnc, highEnc []byte
	var lowTag, highTag byte
	if r.Lower != nil {
		if lowEnc, err = Encode(r.Lower.Value); err != nil {
			return nil, nil, false, err
		}
		lowTag = kindTag(lowEnc[0])
	}
	if r.Upper != nil {
		if highEnc, err = Encode(r.Upper.Value); err != nil {
			return nil, nil, false, err
		}
		highTag = kindTag(highEnc[0])
	}
	if r.Lower != nil && r.Upper != nil && lowTag != highTag {
		return nil, nil, true, nil
	}

	if r.Lower != nil {
		start = append(clone(prefix), lowEnc...)
		if !r.Lower.Inclusive {
			start = append(start, suffixMax)
		}
	} else {
		start = append(clone(prefix), highTag)
	}

	if r.Upper != nil {
		end = append(clone(prefix), highEnc...)
		if r.Upper.Inclusive {
			end = append(end, suffixMax)
		}
	} else {
		end = append(clone(prefix), kindEnd(lowTag))
	}

	if bytes.Compare(start, end) >= 0 {
		return nil, nil, true, nil
	}
	return start, end, false, nil
}

// kindTag folds true into false so booleans form one kind
func kindTag(tag byte) byte {
	if tag == tagTrue {
		return tagFalse
	}
	return tag
}

func kindEnd(tag byte) byte {
	switch tag {
	case tagNull:
		return tagFalse
	case tagFalse, tagTrue:
		return tagNumber
	case tagNumber:
		return tagString
	default:
		return tagEnd
	}
}

// KindOf names the kind of a scalar for error messages
func KindOf(v any) string {
	switch types.NormalizeValue(v).(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case float64:
		return "number"
	case string:
		return "string"
	default:
		return fmt.Sprintf("%T", v)
	}
}
