package classifier

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire schema (protobuf wire format, hand-encoded with protowire):
//
//	PeakBatch    { repeated PeakSample samples = 1; }
//	PeakSample   { string peak_id = 1; int64 timestamp_ms = 2; double power = 3; }
//
//	ClassifyResponse   { repeated PeakClassification results = 1; }
//	PeakClassification { string peak_id = 1; repeated DeviceCandidate candidates = 2; }
//	DeviceCandidate    { string label = 1; double confidence = 2; }

const (
	fieldBatchSamples = 1

	fieldSamplePeakID    = 1
	fieldSampleTimestamp = 2
	fieldSamplePower     = 3

	fieldResponseResults = 1

	fieldResultPeakID     = 1
	fieldResultCandidates = 2

	fieldCandidateLabel      = 1
	fieldCandidateConfidence = 2
)

// EncodeBatch serializes a batch of peak samples into the compact binary
// request message.
func EncodeBatch(samples []PeakSample) []byte {
	var buf []byte
	for _, sample := range samples {
		buf = protowire.AppendTag(buf, fieldBatchSamples, protowire.BytesType)
		buf = protowire.AppendBytes(buf, encodeSample(sample))
	}
	return buf
}

func encodeSample(sample PeakSample) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldSamplePeakID, protowire.BytesType)
	buf = protowire.AppendString(buf, sample.PeakID)
	buf = protowire.AppendTag(buf, fieldSampleTimestamp, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(sample.Timestamp.UnixMilli()))
	buf = protowire.AppendTag(buf, fieldSamplePower, protowire.Fixed64Type)
	buf = protowire.AppendFixed64(buf, math.Float64bits(sample.Power))
	return buf
}

// DecodeResponse parses the binary response message. Unknown fields are
// skipped so newer service versions stay readable.
func DecodeResponse(data []byte) (*ClassificationResponse, error) {
	response := &ClassificationResponse{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("invalid field tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if num == fieldResponseResults && typ == protowire.BytesType {
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("invalid result message: %w", protowire.ParseError(n))
			}
			data = data[n:]

			result, err := decodeResult(raw)
			if err != nil {
				return nil, err
			}
			response.Results = append(response.Results, result)
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, fmt.Errorf("invalid field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]
	}
	return response, nil
}

func decodeResult(data []byte) (PeakClassification, error) {
	var result PeakClassification
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return result, fmt.Errorf("invalid field tag in result: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldResultPeakID && typ == protowire.BytesType:
			id, n := protowire.ConsumeString(data)
			if n < 0 {
				return result, fmt.Errorf("invalid peak id: %w", protowire.ParseError(n))
			}
			data = data[n:]
			result.PeakID = id
		case num == fieldResultCandidates && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return result, fmt.Errorf("invalid candidate message: %w", protowire.ParseError(n))
			}
			data = data[n:]

			candidate, err := decodeCandidate(raw)
			if err != nil {
				return result, err
			}
			result.Candidates = append(result.Candidates, candidate)
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return result, fmt.Errorf("invalid field %d in result: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return result, nil
}

func decodeCandidate(data []byte) (DeviceCandidate, error) {
	var candidate DeviceCandidate
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return candidate, fmt.Errorf("invalid field tag in candidate: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldCandidateLabel && typ == protowire.BytesType:
			label, n := protowire.ConsumeString(data)
			if n < 0 {
				return candidate, fmt.Errorf("invalid label: %w", protowire.ParseError(n))
			}
			data = data[n:]
			candidate.Label = label
		case num == fieldCandidateConfidence && typ == protowire.Fixed64Type:
			bits, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return candidate, fmt.Errorf("invalid confidence: %w", protowire.ParseError(n))
			}
			data = data[n:]
			candidate.Confidence = math.Float64frombits(bits)
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return candidate, fmt.Errorf("invalid field %d in candidate: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return candidate, nil
}

// EncodeResponse serializes a response message. The service side owns this
// format in production; the encoder exists for tests and local fakes.
func EncodeResponse(response *ClassificationResponse) []byte {
	var buf []byte
	for _, result := range response.Results {
		var res []byte
		res = protowire.AppendTag(res, fieldResultPeakID, protowire.BytesType)
		res = protowire.AppendString(res, result.PeakID)
		for _, candidate := range result.Candidates {
			var cand []byte
			cand = protowire.AppendTag(cand, fieldCandidateLabel, protowire.BytesType)
			cand = protowire.AppendString(cand, candidate.Label)
			cand = protowire.AppendTag(cand, fieldCandidateConfidence, protowire.Fixed64Type)
			cand = protowire.AppendFixed64(cand, math.Float64bits(candidate.Confidence))
			res = protowire.AppendTag(res, fieldResultCandidates, protowire.BytesType)
			res = protowire.AppendBytes(res, cand)
		}
		buf = protowire.AppendTag(buf, fieldResponseResults, protowire.BytesType)
		buf = protowire.AppendBytes(buf, res)
	}
	return buf
}

// DecodeBatch parses a binary batch request. Exists for tests and local
// fakes of the classification service.
func DecodeBatch(data []byte) ([]PeakSample, error) {
	var samples []PeakSample
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("invalid field tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if num == fieldBatchSamples && typ == protowire.BytesType {
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("invalid sample message: %w", protowire.ParseError(n))
			}
			data = data[n:]

			sample, err := decodeSample(raw)
			if err != nil {
				return nil, err
			}
			samples = append(samples, sample)
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, fmt.Errorf("invalid field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]
	}
	return samples, nil
}

func decodeSample(data []byte) (PeakSample, error) {
	var sample PeakSample
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return sample, fmt.Errorf("invalid field tag in sample: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldSamplePeakID && typ == protowire.BytesType:
			id, n := protowire.ConsumeString(data)
			if n < 0 {
				return sample, fmt.Errorf("invalid peak id: %w", protowire.ParseError(n))
			}
			data = data[n:]
			sample.PeakID = id
		case num == fieldSampleTimestamp && typ == protowire.VarintType:
			ms, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return sample, fmt.Errorf("invalid timestamp: %w", protowire.ParseError(n))
			}
			data = data[n:]
			sample.Timestamp = time.UnixMilli(int64(ms)).UTC()
		case num == fieldSamplePower && typ == protowire.Fixed64Type:
			bits, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return sample, fmt.Errorf("invalid power: %w", protowire.ParseError(n))
			}
			data = data[n:]
			sample.Power = math.Float64frombits(bits)
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return sample, fmt.Errorf("invalid field %d in sample: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return sample, nil
}
