// Package payment reads the payments stored on requests. Older records were written
// in several shapes; Normalize turns any of them into entity.PaymentRecord once, when
// they enter the system, and Attachments reads file references from whatever is stored.
package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/xpensure/internal/domain/entity"
)

// attachmentKeys are the record keys that have carried attachment references.
var attachmentKeys = []string{
	"attachments",
	"attachment",
	"attachment_urls",
	"attachment_url",
	"payment_attachments",
	"files",
	"file",
	"receipts",
	"receipt",
	"proof",
}

var referenceKeys = []string{"reference", "transaction_id", "ref"}

var noteKeys = []string{"note", "notes", "remarks"}

var paidAtKeys = []string{"paid_at", "payment_date", "date"}

// Extractor reads payment payloads
type Extractor struct {
	logger *zap.Logger
}

// NewExtractor creates a new extractor
func NewExtractor(logger *zap.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Attachments returns every attachment reference in raw, deduplicated in first-seen
// order. It never fails: entries it cannot read are logged and skipped.
func (x *Extractor) Attachments(raw json.RawMessage) []string {
	records, err := x.decodeRecords(raw)
	if err != nil {
		x.logger.Warn("Unreadable payments payload, no attachments extracted", zap.Error(err))
		return []string{}
	}

	seen := make(map[string]bool)
	out := []string{}
	for i, rec := range records {
		for _, ref := range x.recordAttachments(i, rec) {
			if !seen[ref] {
				seen[ref] = true
				out = append(out, ref)
			}
		}
	}
	return out
}

// FromRecords returns the attachments of canonical records with the same ordering
// and deduplication as Attachments.
func FromRecords(records []entity.PaymentRecord) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, r := range records {
		for _, ref := range r.Attachments {
			ref = strings.TrimSpace(ref)
			if ref != "" && !seen[ref] {
				seen[ref] = true
				out = append(out, ref)
			}
		}
	}
	return out
}

// MergeRefs concatenates reference lists, keeping the first occurrence of each.
func MergeRefs(lists ...[]string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, refs := range lists {
		for _, ref := range refs {
			if !seen[ref] {
				seen[ref] = true
				out = append(out, ref)
			}
		}
	}
	return out
}

// Normalize converts a payments payload in any known shape into canonical records.
// Entries that are not records are skipped. A payload that is not JSON at all, or a
// record with an unreadable or negative amount, is a validation error.
func (x *Extractor) Normalize(raw json.RawMessage) ([]entity.PaymentRecord, error) {
	records, err := x.decodeRecords(raw)
	if err != nil {
		return nil, entity.NewValidationError("payments", err.Error())
	}

	out := make([]entity.PaymentRecord, 0, len(records))
	for i, rec := range records {
		switch v := rec.(type) {
		case map[string]interface{}:
			pr, err := x.normalizeRecord(i, v)
			if err != nil {
				return nil, err
			}
			out = append(out, pr)
		case string:
			// A bare reference in the list is a payment proof without amount.
			refs := x.stringRefs(i, "", v)
			if len(refs) > 0 {
				out = append(out, entity.PaymentRecord{Amount: decimal.Zero, Attachments: refs})
			}
		default:
			x.logger.Warn("Skipping payment entry of unexpected type",
				zap.Int("index", i),
				zap.String("type", fmt.Sprintf("%T", rec)))
		}
	}
	return out, nil
}

func (x *Extractor) normalizeRecord(i int, rec map[string]interface{}) (entity.PaymentRecord, error) {
	pr := entity.PaymentRecord{Amount: decimal.Zero}

	if v, ok := rec["amount"]; ok && v != nil {
		amount, err := toDecimal(v)
		if err != nil {
			return pr, entity.NewValidationError(fmt.Sprintf("payments[%d].amount", i), err.Error())
		}
		if amount.IsNegative() {
			return pr, entity.NewValidationError(fmt.Sprintf("payments[%d].amount", i), "must not be negative")
		}
		pr.Amount = amount
	}

	pr.Reference = firstString(rec, referenceKeys)
	pr.Note = firstString(rec, noteKeys)
	if s := firstString(rec, paidAtKeys); s != "" {
		if t, ok := parseTime(s); ok {
			pr.PaidAt = &t
		} else {
			x.logger.Warn("Ignoring unparseable payment date", zap.Int("index", i), zap.String("value", s))
		}
	}
	pr.Attachments = x.recordAttachments(i, rec)
	return pr, nil
}

// decodeRecords accepts a list of records, a single record, or either of them
// encoded as a JSON string.
func (x *Extractor) decodeRecords(raw json.RawMessage) ([]interface{}, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid payments JSON: %w", err)
	}

	if s, ok := v.(string); ok {
		inner, embedded, err := decodeEmbedded(s)
		if err != nil {
			return nil, fmt.Errorf("invalid embedded payments JSON: %w", err)
		}
		if !embedded {
			return []interface{}{s}, nil
		}
		v = inner
	}

	switch t := v.(type) {
	case []interface{}:
		return t, nil
	case map[string]interface{}:
		return []interface{}{t}, nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("payments must be a list or an object, got %T", v)
}

func (x *Extractor) recordAttachments(i int, rec interface{}) []string {
	switch v := rec.(type) {
	case string:
		return x.stringRefs(i, "", v)
	case map[string]interface{}:
		var refs []string
		for _, key := range attachmentKeys {
			val, ok := v[key]
			if !ok || val == nil {
				continue
			}
			refs = append(refs, x.valueRefs(i, key, val)...)
		}
		return refs
	}
	x.logger.Warn("Skipping payment entry of unexpected type",
		zap.Int("index", i),
		zap.String("type", fmt.Sprintf("%T", rec)))
	return nil
}

func (x *Extractor) valueRefs(i int, key string, val interface{}) []string {
	switch v := val.(type) {
	case string:
		return x.stringRefs(i, key, v)
	case []interface{}:
		var refs []string
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				x.logger.Warn("Skipping non-string attachment reference",
					zap.Int("index", i),
					zap.String("key", key),
					zap.String("type", fmt.Sprintf("%T", item)))
				continue
			}
			if s = strings.TrimSpace(s); s != "" {
				refs = append(refs, s)
			}
		}
		return refs
	}
	x.logger.Warn("Skipping attachment value of unexpected type",
		zap.Int("index", i),
		zap.String("key", key),
		zap.String("type", fmt.Sprintf("%T", val)))
	return nil
}

// stringRefs reads a string that is either a single reference or a JSON-encoded list.
func (x *Extractor) stringRefs(i int, key, s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	inner, embedded, err := decodeEmbedded(s)
	if err != nil {
		x.logger.Warn("Skipping malformed embedded attachment list",
			zap.Int("index", i),
			zap.String("key", key),
			zap.Error(err))
		return nil
	}
	if embedded {
		return x.valueRefs(i, key, inner)
	}
	return []string{s}
}

// decodeEmbedded decodes s when it looks like JSON text. embedded reports whether s
// starts like a JSON list or object; err is set when such text does not decode.
func decodeEmbedded(s string) (v interface{}, embedded bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" || (s[0] != '[' && s[0] != '{') {
		return nil, false, nil
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, true, err
	}
	return v, true, nil
}

func toDecimal(v interface{}) (decimal.Decimal, error) {
	switch t := v.(type) {
	case json.Number:
		return decimal.NewFromString(t.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(t))
	case float64:
		return decimal.NewFromFloat(t), nil
	}
	return decimal.Zero, fmt.Errorf("unsupported amount type %T", v)
}

func firstString(rec map[string]interface{}, keys []string) string {
	for _, k := range keys {
		if s, ok := rec[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
