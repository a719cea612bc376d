package metrics

import "strings"

// labelSeq is an immutable, hash-precomputed sequence of strings. It backs
// both LabelNames and LabelValues. Equality is structural and ordinal
// (byte-exact), matching the comparisons the teacher library performs on
// label combinations in label.go.
type labelSeq struct {
	items []string
	sum   uint64
}

func newLabelSeq(items []string) labelSeq {
	cp := make([]string, len(items))
	copy(cp, items)
	return labelSeq{items: cp, sum: hashStrings(cp)}
}

// hashStrings computes a stable FNV-1a hash over a sequence of strings,
// separated so that {"ab","c"} and {"a","bc"} never collide.
func hashStrings(items []string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for _, s := range items {
		for i := 0; i < len(s); i++ {
			h ^= uint64(s[i])
			h *= prime64
		}
		h ^= 0xff // separator between items
		h *= prime64
	}
	return h
}

func (s labelSeq) Len() int { return len(s.items) }

func (s labelSeq) Get(i int) string { return s.items[i] }

func (s labelSeq) Contains(v string) bool {
	for _, x := range s.items {
		if x == v {
			return true
		}
	}
	return false
}

func (s labelSeq) Equal(o labelSeq) bool {
	if s.sum != o.sum || len(s.items) != len(o.items) {
		return false
	}
	for i := range s.items {
		if s.items[i] != o.items[i] {
			return false
		}
	}
	return true
}

func (s labelSeq) concat(o labelSeq) labelSeq {
	if s.Len() == 0 {
		return o
	}
	if o.Len() == 0 {
		return s
	}
	combined := make([]string, 0, s.Len()+o.Len())
	combined = append(combined, s.items...)
	combined = append(combined, o.items...)
	return newLabelSeq(combined)
}

func (s labelSeq) String() string { return "[" + strings.Join(s.items, ",") + "]" }

// combineSeqHash folds a second sequence's hash into the first, for callers
// that need a single cache key covering a names+values pair.
func combineSeqHash(a, b uint64) uint64 {
	const prime64 = 1099511628211
	return (a ^ b) * prime64
}

// reservedSpace estimates the worst-case serialized byte length of this
// sequence as label names, used by the serializer to size its pre-write
// capacity check. It is a heuristic, not a hard bound: values are
// user-controlled and may run longer, in which case append simply grows
// the buffer as it would for any other byte slice.
func (s labelSeq) reservedSpace() int {
	total := 2
	for _, item := range s.items {
		total += len(item) + 96
	}
	return total
}

// LabelNames is an ordered, immutable set of label names.
type LabelNames struct{ labelSeq }

// NewLabelNames builds an immutable label-name sequence.
func NewLabelNames(names ...string) LabelNames { return LabelNames{newLabelSeq(names)} }

// Concat returns the names of n followed by the names of o.
func (n LabelNames) Concat(o LabelNames) LabelNames { return LabelNames{n.labelSeq.concat(o.labelSeq)} }

// Equal reports structural, ordinal equality.
func (n LabelNames) Equal(o LabelNames) bool { return n.labelSeq.Equal(o.labelSeq) }

// HasDuplicates reports whether any name in n occurs more than once.
func (n LabelNames) HasDuplicates() bool {
	for i := 1; i < n.Len(); i++ {
		for j := 0; j < i; j++ {
			if n.Get(i) == n.Get(j) {
				return true
			}
		}
	}
	return false
}

// LabelValues is an ordered, immutable sequence of label values, positionally
// aligned with a LabelNames sequence of the same length.
type LabelValues struct{ labelSeq }

// NewLabelValues builds an immutable label-value sequence.
func NewLabelValues(values ...string) LabelValues { return LabelValues{newLabelSeq(values)} }

// Concat returns the values of v followed by the values of o.
func (v LabelValues) Concat(o LabelValues) LabelValues {
	return LabelValues{v.labelSeq.concat(o.labelSeq)}
}

// Equal reports structural, ordinal equality.
func (v LabelValues) Equal(o LabelValues) bool { return v.labelSeq.Equal(o.labelSeq) }

// Strings returns a fresh copy of the underlying values, for callers that
// need to pass a label-value sequence on to a variadic-string API.
func (v LabelValues) Strings() []string { return append([]string(nil), v.items...) }

var emptyLabelNames = NewLabelNames()
var emptyLabelValues = NewLabelValues()

// reservedLabelPrefix marks names reserved for internal/system use.
const reservedLabelPrefix = "__"

func isReservedLabelName(name string) bool {
	return strings.HasPrefix(name, reservedLabelPrefix)
}
