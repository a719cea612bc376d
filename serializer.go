package metrics

import (
	"context"
	"io"
	"math"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// labelCacheSize bounds the per-serializer memo of rendered label segments.
// A serializer, and so its cache, lives for one CollectAndExport call; a
// scrape rarely touches more distinct label combinations than this, and
// beyond it the cache just evicts the coldest entry instead of growing
// without bound.
const labelCacheSize = 1024

// Format selects one of the two wire formats this registry can emit.
type Format uint8

const (
	FormatPrometheusText Format = iota + 1
	FormatOpenMetricsText
)

// ContentType returns the HTTP content type an external transport
// collaborator should set for this format.
func (f Format) ContentType() string {
	switch f {
	case FormatOpenMetricsText:
		return "application/openmetrics-text; version=1.0.0; charset=utf-8"
	default:
		return "text/plain; version=0.0.4; charset=utf-8"
	}
}

// maxNumericText bounds the byte length of any rendered number, per §4.G's
// "buffer sizes for numeric formatting must be bounded (≤32 chars)".
const maxNumericText = 32

// serializer streams family/collector/child state onto a buffered byte
// slice, flushing to the underlying writer only when the next line might
// not fit, following the teacher's capacity-checked append-then-flush
// pattern in text.go's WriteText/sample methods.
type serializer struct {
	w          io.Writer
	format     Format
	buf        []byte
	labelCache *lru.Cache[uint64, []byte]
}

func newSerializer(w io.Writer, format Format) *serializer {
	cache, _ := lru.New[uint64, []byte](labelCacheSize)
	return &serializer{w: w, format: format, buf: make([]byte, 0, 4096), labelCache: cache}
}

func (s *serializer) ensure(n int) error {
	if cap(s.buf)-len(s.buf) < n {
		if err := s.flush(); err != nil {
			return err
		}
	}
	return nil
}

func (s *serializer) flush() error {
	if len(s.buf) == 0 {
		return nil
	}
	_, err := s.w.Write(s.buf)
	s.buf = s.buf[:0]
	return err
}

// renderValue appends a sample or exemplar value. OpenMetrics requires
// every rendered float to visibly look like a float, so an integer-looking
// result gets ".0" appended; Prometheus classic text has no such rule.
func renderValue(buf []byte, v float64, format Format) []byte {
	switch {
	case math.IsNaN(v):
		return append(buf, "NaN"...)
	case math.IsInf(v, 1):
		return append(buf, "+Inf"...)
	case math.IsInf(v, -1):
		return append(buf, "-Inf"...)
	}
	start := len(buf)
	buf = strconv.AppendFloat(buf, v, 'g', -1, 64)
	if format == FormatOpenMetricsText && !looksLikeFloat(buf[start:]) {
		buf = append(buf, '.', '0')
	}
	return buf
}

func looksLikeFloat(b []byte) bool {
	for _, c := range b {
		if c == '.' || c == 'e' || c == 'E' {
			return true
		}
	}
	return false
}

// renderCount appends an integer sample value (a _count or cumulative
// bucket count). OpenMetrics still requires the decimal point.
func renderCount(buf []byte, n uint64, format Format) []byte {
	buf = strconv.AppendUint(buf, n, 10)
	if format == FormatOpenMetricsText {
		buf = append(buf, '.', '0')
	}
	return buf
}

// appendEscapedLabelValue escapes backslash, newline and quote, the
// inverse of the unescape step the spec's round-trip law requires.
func appendEscapedLabelValue(buf []byte, v string) []byte {
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case '\\':
			buf = append(buf, '\\', '\\')
		case '\n':
			buf = append(buf, '\\', 'n')
		case '"':
			buf = append(buf, '\\', '"')
		default:
			buf = append(buf, v[i])
		}
	}
	return buf
}

// appendLabelSet writes the brace-enclosed, comma-joined label list:
// flattened instance+static labels, plus an optional canonical label (le
// or quantile) whose value is a formatted number rather than escaped text.
// The common case (no canonical label — counters, gauges, the _sum/_count
// lines) is memoized in s.labelCache, keyed by the combined names/values
// hash, so a child whose segment is written more than once in the same pass
// (a histogram's or summary's _sum and _count lines) is escaped only once.
// The cache is not kept between passes: each CollectAndExport call escapes
// every segment afresh.
func (s *serializer) appendLabelSet(buf []byte, names LabelNames, values LabelValues, canonicalName string, canonicalValue float64, hasCanonical bool) []byte {
	if names.Len() == 0 && !hasCanonical {
		return buf
	}
	if !hasCanonical && s.labelCache != nil {
		key := combineSeqHash(names.sum, values.sum)
		if cached, ok := s.labelCache.Get(key); ok {
			return append(buf, cached...)
		}
		segment := append(appendLabelSetOpen(nil, names, values), '}')
		s.labelCache.Add(key, segment)
		return append(buf, segment...)
	}

	buf = appendLabelSetOpen(buf, names, values)
	if hasCanonical {
		if names.Len() > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, canonicalName...)
		buf = append(buf, '=', '"')
		buf = renderValue(buf, canonicalValue, s.format)
		buf = append(buf, '"')
	}
	buf = append(buf, '}')
	return buf
}

// appendLabelSetOpen appends the opening brace and the comma-joined,
// escaped name="value" pairs, leaving the closing brace to the caller.
func appendLabelSetOpen(buf []byte, names LabelNames, values LabelValues) []byte {
	buf = append(buf, '{')
	for i := 0; i < names.Len(); i++ {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, names.Get(i)...)
		buf = append(buf, '=', '"')
		buf = appendEscapedLabelValue(buf, values.Get(i))
		buf = append(buf, '"')
	}
	return buf
}

func (s *serializer) appendExemplar(buf []byte, ex *Exemplar) []byte {
	buf = append(buf, " # {"...)
	for i, l := range ex.Labels {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, l.Name...)
		buf = append(buf, '=', '"')
		buf = appendEscapedLabelValue(buf, l.Value)
		buf = append(buf, '"')
	}
	buf = append(buf, '}', ' ')
	buf = renderValue(buf, ex.Value, s.format)
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, ex.Timestamp, 10)
	return buf
}

// familyHeaderName and familyTypeWord implement OpenMetrics's counter
// renaming rule: a name ending in "_total" drops the suffix in the HELP
// and TYPE lines (but keeps it on every point), and a counter NOT ending
// in "_total" is declared type "unknown" instead of "counter".
func (s *serializer) familyHeaderName(f *family) string {
	if s.format == FormatOpenMetricsText && f.kind == kindCounter && strings.HasSuffix(f.name, "_total") {
		return strings.TrimSuffix(f.name, "_total")
	}
	return f.name
}

func (s *serializer) familyTypeWord(f *family) string {
	if s.format == FormatOpenMetricsText && f.kind == kindCounter && !strings.HasSuffix(f.name, "_total") {
		return "unknown"
	}
	return f.kind.String()
}

func (s *serializer) writeFamily(f *family) error {
	headerName := s.familyHeaderName(f)
	typeWord := s.familyTypeWord(f)

	header := "# HELP " + headerName + " " + f.help + "\n# TYPE " + headerName + " " + typeWord + "\n"
	if err := s.ensure(len(header)); err != nil {
		return err
	}
	s.buf = append(s.buf, header...)

	for _, c := range f.snapshot() {
		if err := s.writeCollector(f, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *serializer) writeCollector(f *family, c *collector) error {
	for _, child := range c.snapshot() {
		if !child.IsPublished() {
			continue
		}
		var err error
		switch ch := child.(type) {
		case *Counter:
			err = s.writeCounterPoint(f.name, c.identity, ch)
		case *Gauge:
			err = s.writeGaugePoint(f.name, c.identity, ch)
		case *Histogram:
			err = s.writeHistogramPoint(f.name, c.identity, ch)
		case *Summary:
			err = s.writeSummaryPoint(f.name, c.identity, ch)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func flattenedLabels(id collectorIdentity, instanceValues LabelValues) (LabelNames, LabelValues) {
	return id.instanceNames.Concat(id.staticNames), instanceValues.Concat(id.staticValues)
}

func (s *serializer) writeCounterPoint(name string, id collectorIdentity, ch *Counter) error {
	names, values := flattenedLabels(id, ch.Values())

	if err := s.ensure(len(name) + names.reservedSpace() + maxNumericText + 8); err != nil {
		return err
	}
	s.buf = append(s.buf, name...)
	s.buf = s.appendLabelSet(s.buf, names, values, "", 0, false)
	s.buf = append(s.buf, ' ')
	s.buf = renderValue(s.buf, ch.Get(), s.format)

	if s.format == FormatOpenMetricsText {
		if ex := ch.borrowExemplar(); ex != nil {
			s.buf = s.appendExemplar(s.buf, ex)
			ch.returnExemplar(ex)
		}
	}
	s.buf = append(s.buf, '\n')
	return nil
}

func (s *serializer) writeGaugePoint(name string, id collectorIdentity, ch *Gauge) error {
	names, values := flattenedLabels(id, ch.Values())

	if err := s.ensure(len(name) + names.reservedSpace() + maxNumericText + 8); err != nil {
		return err
	}
	s.buf = append(s.buf, name...)
	s.buf = s.appendLabelSet(s.buf, names, values, "", 0, false)
	s.buf = append(s.buf, ' ')
	s.buf = renderValue(s.buf, ch.Get(), s.format)
	s.buf = append(s.buf, '\n')
	return nil
}

func (s *serializer) writeHistogramPoint(name string, id collectorIdentity, h *Histogram) error {
	names, values := flattenedLabels(id, h.Values())
	bounds := h.Bounds()

	var cumulative uint64
	for i, bound := range bounds {
		cumulative += h.bucketLocalCount(i)
		if err := s.ensure(len(name) + 7 + names.reservedSpace() + maxNumericText + 8); err != nil {
			return err
		}
		s.buf = append(s.buf, name...)
		s.buf = append(s.buf, "_bucket"...)
		s.buf = s.appendLabelSet(s.buf, names, values, "le", bound, true)
		s.buf = append(s.buf, ' ')
		s.buf = renderCount(s.buf, cumulative, s.format)
		if s.format == FormatOpenMetricsText {
			if ex := h.borrowBucketExemplar(i); ex != nil {
				s.buf = s.appendExemplar(s.buf, ex)
				h.returnBucketExemplar(i, ex)
			}
		}
		s.buf = append(s.buf, '\n')
	}

	if err := s.ensure(len(name) + 4 + names.reservedSpace() + maxNumericText + 8); err != nil {
		return err
	}
	s.buf = append(s.buf, name...)
	s.buf = append(s.buf, "_sum"...)
	s.buf = s.appendLabelSet(s.buf, names, values, "", 0, false)
	s.buf = append(s.buf, ' ')
	s.buf = renderValue(s.buf, h.Sum(), s.format)
	s.buf = append(s.buf, '\n')

	if err := s.ensure(len(name) + 6 + names.reservedSpace() + maxNumericText + 8); err != nil {
		return err
	}
	s.buf = append(s.buf, name...)
	s.buf = append(s.buf, "_count"...)
	s.buf = s.appendLabelSet(s.buf, names, values, "", 0, false)
	s.buf = append(s.buf, ' ')
	s.buf = renderCount(s.buf, h.Count(), s.format)
	s.buf = append(s.buf, '\n')

	return nil
}

func (s *serializer) writeSummaryPoint(name string, id collectorIdentity, sm *Summary) error {
	names, values := flattenedLabels(id, sm.Values())
	snap := sm.Snapshot()

	if err := s.ensure(len(name) + 4 + names.reservedSpace() + maxNumericText + 8); err != nil {
		return err
	}
	s.buf = append(s.buf, name...)
	s.buf = append(s.buf, "_sum"...)
	s.buf = s.appendLabelSet(s.buf, names, values, "", 0, false)
	s.buf = append(s.buf, ' ')
	s.buf = renderValue(s.buf, snap.Sum, s.format)
	s.buf = append(s.buf, '\n')

	if err := s.ensure(len(name) + 6 + names.reservedSpace() + maxNumericText + 8); err != nil {
		return err
	}
	s.buf = append(s.buf, name...)
	s.buf = append(s.buf, "_count"...)
	s.buf = s.appendLabelSet(s.buf, names, values, "", 0, false)
	s.buf = append(s.buf, ' ')
	s.buf = renderCount(s.buf, snap.Count, s.format)
	s.buf = append(s.buf, '\n')

	for _, pt := range snap.Points {
		if err := s.ensure(len(name) + 9 + names.reservedSpace() + maxNumericText + 8); err != nil {
			return err
		}
		s.buf = append(s.buf, name...)
		s.buf = s.appendLabelSet(s.buf, names, values, "quantile", pt.Quantile, true)
		s.buf = append(s.buf, ' ')
		s.buf = renderValue(s.buf, pt.Value, s.format)
		s.buf = append(s.buf, '\n')
	}

	return nil
}

// CollectAndExport runs every before-collect hook, then snapshots and
// serializes every family in registration order, terminating with the
// OpenMetrics end marker when applicable, per §4.I. A ScrapeFailed hook
// error aborts before anything is written; any other hook errors are
// returned, combined, after the output has been written and flushed.
func (r *Registry) CollectAndExport(ctx context.Context, w io.Writer, format Format) error {
	hookErr := r.runBeforeCollect(ctx)
	if IsScrapeFailed(hookErr) {
		return hookErr
	}

	s := newSerializer(w, format)
	for _, f := range r.snapshotFamilies() {
		if err := s.writeFamily(f); err != nil {
			return err
		}
	}

	if format == FormatOpenMetricsText {
		if err := s.ensure(6); err != nil {
			return err
		}
		s.buf = append(s.buf, "# EOF\n"...)
	}

	if err := s.flush(); err != nil {
		return err
	}
	return hookErr
}
