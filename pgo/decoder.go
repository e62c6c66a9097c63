package pgo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// BatchPayload is the wire form of a Batch shared by the JSON and CBOR codecs.
type BatchPayload struct {
	Constraints []Constraint `json:"constraints" cbor:"constraints"`
	Values      []ValueEntry `json:"values" cbor:"values"`
	Force       bool         `json:"force,omitempty" cbor:"force,omitempty"`
}

// ToBatch converts the payload into a Batch.
func (p BatchPayload) ToBatch() Batch {
	return Batch{
		Constraints: Graph(p.Constraints),
		Values:      NewValues(p.Values...),
		Force:       p.Force,
	}
}

// PayloadFromBatch converts a Batch into its wire form.
func PayloadFromBatch(b Batch) BatchPayload {
	return BatchPayload{
		Constraints: []Constraint(b.Constraints),
		Values:      b.Values.Entries(),
		Force:       b.Force,
	}
}

// maxBatchBytes bounds a batch payload, before and after decompression.
const maxBatchBytes = 50 << 20

// ErrBatchTooLarge is returned when a payload inflates past maxBatchBytes.
var ErrBatchTooLarge = errors.New("batch exceeds size limit")

// zstdMagic starts every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// cborEnc uses Core Deterministic Encoding so equal batches encode to equal bytes.
// The zstd encoder and decoder are shared; both are safe for concurrent
// EncodeAll/DecodeAll calls.
var (
	cborEnc     cbor.EncMode
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("pgo: CBOR encoder initialization failed: " + err.Error())
	}
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("pgo: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxBatchBytes))
	if err != nil {
		panic("pgo: zstd decoder initialization failed: " + err.Error())
	}
}

// DecodeBatch decodes a batch payload from various formats:
// - Raw JSON object
// - CBOR map
// - Zlib- or zstd-compressed JSON or CBOR
func DecodeBatch(data []byte) (Batch, error) {
	data = bytes.TrimLeft(data, " \t\r\n")
	if len(data) == 0 {
		return Batch{}, fmt.Errorf("empty data")
	}
	if len(data) > maxBatchBytes {
		return Batch{}, ErrBatchTooLarge
	}

	var payload BatchPayload
	switch {
	case data[0] == '{':
		if err := json.Unmarshal(data, &payload); err != nil {
			return Batch{}, fmt.Errorf("parsing JSON batch: %w", err)
		}
	case isCBORMap(data):
		if err := cbor.Unmarshal(data, &payload); err != nil {
			return Batch{}, fmt.Errorf("parsing CBOR batch: %w", err)
		}
	default:
		var inflated []byte
		var err error
		if bytes.HasPrefix(data, zstdMagic) {
			inflated, err = zstdDecoder.DecodeAll(data, nil)
			if errors.Is(err, zstd.ErrDecoderSizeExceeded) {
				return Batch{}, fmt.Errorf("decompressing zstd data: %w", ErrBatchTooLarge)
			}
			if err != nil {
				return Batch{}, fmt.Errorf("decompressing zstd data: %w", err)
			}
			if len(inflated) > maxBatchBytes {
				return Batch{}, fmt.Errorf("decompressing zstd data: %w", ErrBatchTooLarge)
			}
		} else if inflated, err = inflateZlib(data); errors.Is(err, ErrBatchTooLarge) {
			return Batch{}, fmt.Errorf("decompressing zlib data: %w", err)
		} else if err != nil {
			return Batch{}, fmt.Errorf("unknown format: not JSON, CBOR, zlib or zstd")
		}
		if len(inflated) > 0 && (inflated[0] == '{' || isCBORMap(inflated)) {
			return DecodeBatch(inflated)
		}
		return Batch{}, fmt.Errorf("decompressed payload is neither JSON nor CBOR")
	}

	return payload.ToBatch(), nil
}

// EncodeBatchJSON encodes a batch as JSON.
func EncodeBatchJSON(b Batch) ([]byte, error) {
	return json.Marshal(PayloadFromBatch(b))
}

// EncodeBatchCBOR encodes a batch as deterministic CBOR.
func EncodeBatchCBOR(b Batch) ([]byte, error) {
	return cborEnc.Marshal(PayloadFromBatch(b))
}

// CompressZstd wraps an encoded batch in a zstd frame.
func CompressZstd(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, nil)
}

// isCBORMap reports whether data starts with a CBOR map header (major type 5).
func isCBORMap(data []byte) bool {
	return len(data) > 0 && data[0]>>5 == 5
}

// inflateZlib decompresses zlib-compressed data, up to maxBatchBytes.
func inflateZlib(data []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating zlib reader: %w", err)
	}
	defer reader.Close()

	decompressed, err := io.ReadAll(io.LimitReader(reader, maxBatchBytes+1))
	if err != nil {
		return nil, fmt.Errorf("decompressing zlib data: %w", err)
	}
	if len(decompressed) > maxBatchBytes {
		return nil, ErrBatchTooLarge
	}
	return decompressed, nil
}
