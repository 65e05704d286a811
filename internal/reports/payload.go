package reports

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
	"github.com/klauspost/compress/gzip"

	"github.com/merchbaseco/bidbeacon-sub001/internal/periods"
	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

// ParseResult is everything one payload parse produced: the transformed rows,
// the diverted records, and the counters persisted onto the dataset period.
type ParseResult struct {
	TargetRows  []types.TargetPerformanceRow
	ProductRows []types.ProductPerformanceRow
	Failures    []types.ParseFailure
	Counts      types.RecordCounts
}

// PayloadParser streams a gzipped JSON export payload into typed performance
// rows. Structural problems (bad gzip, truncated JSON, records that do not
// match the export schema) fail the whole payload; records that decode but
// cannot be resolved to a bucket or an entity are diverted to the failure
// side channel and never abort the parse.
type PayloadParser struct {
	validate *validator.Validate
}

// NewPayloadParser creates a parser with a fresh validator instance.
func NewPayloadParser() *PayloadParser {
	return &PayloadParser{validate: validator.New()}
}

// Parse decodes one export payload for the given dataset period. The reader
// must yield the gzipped JSON array exactly as downloaded; Parse does not
// close it.
func (p *PayloadParser) Parse(r io.Reader, key types.DatasetKey, reportID string) (*ParseResult, error) {
	variant, err := VariantFor(key.Aggregation, key.EntityType)
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeValidationPayloadDecode,
			"payload is not valid gzip",
			err,
		)
	}
	defer gz.Close()

	dec := json.NewDecoder(gz)

	tok, err := dec.Token()
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeValidationPayloadDecode,
			"payload is empty or not JSON",
			err,
		)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, types.NewAppError(
			types.ErrCodeValidationPayloadDecode,
			fmt.Sprintf("payload is not a JSON array (got %v)", tok),
			nil,
		)
	}

	loc := periods.Location(key.CountryCode)
	res := &ParseResult{}

	for index := 0; dec.More(); index++ {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, types.NewAppError(
				types.ErrCodeValidationPayloadDecode,
				fmt.Sprintf("payload truncated or corrupt at record %d", index),
				err,
			)
		}

		res.Counts.Total++

		out, fail, err := variant.decode(p, recordInput{
			raw:   raw,
			index: index,
			key:   key,
			loc:   loc,
		})
		if err != nil {
			return nil, err
		}
		if fail != nil {
			res.Failures = append(res.Failures, types.ParseFailure{
				AccountID:   key.AccountID,
				CountryCode: key.CountryCode,
				PeriodStart: key.PeriodStart,
				Aggregation: key.Aggregation,
				EntityType:  key.EntityType,
				ReportID:    reportID,
				RecordIndex: index,
				Reason:      fail.reason,
				Raw:         raw,
			})
			res.Counts.Error++
			continue
		}

		if out.target != nil {
			res.TargetRows = append(res.TargetRows, *out.target)
		}
		if out.product != nil {
			res.ProductRows = append(res.ProductRows, *out.product)
		}
		res.Counts.Success++
	}

	if _, err := dec.Token(); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeValidationPayloadDecode,
			"payload array not terminated",
			err,
		)
	}

	return res, nil
}

// decodeRecord strictly decodes one raw record into the variant's typed shape
// and runs struct validation. Any miss here is a schema failure: the vendor
// sent a payload we do not understand, and partial ingestion would be worse
// than none.
func (p *PayloadParser) decodeRecord(raw json.RawMessage, index int, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return types.NewAppError(
			types.ErrCodeValidationPayloadSchema,
			fmt.Sprintf("record %d does not match the export schema", index),
			err,
		)
	}
	if err := p.validate.Struct(v); err != nil {
		return types.NewAppError(
			types.ErrCodeValidationPayloadSchema,
			fmt.Sprintf("record %d failed schema validation", index),
			err,
		)
	}
	return nil
}
