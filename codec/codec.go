// Package codec converts arbitrary Go values to and from the wire envelope.
//
// The envelope is a JSON object {"data": <base64url>, "type": <tag>} where the
// type tag lets the receiving side restore the original value's shape. The
// envelope is always produced before any encryption is applied, so sealing
// operates on an opaque text blob.
package codec

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Type tags understood by both sides of a connection.
const (
	TypeString = "string"
	TypeBytes  = "bytes"
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeBool   = "bool"
	TypeNil    = "nil"
	TypeJSON   = "json"
)

var (
	// ErrUnsupportedValue signals a value the codec cannot represent.
	ErrUnsupportedValue = errors.New("codec: unsupported value")
	// ErrMalformedEnvelope signals an envelope that cannot be parsed back into a value.
	ErrMalformedEnvelope = errors.New("codec: malformed envelope")
)

// Envelope is the logical unit handed to the frame codec.
type Envelope struct {
	Data string `json:"data"`
	Type string `json:"type"`
}

// Encode converts a value into its envelope form.
//
// Scalars and byte slices keep a dedicated tag so they round trip without
// JSON's number coercion; everything else must be JSON-marshalable and
// travels under the "json" tag.
func Encode(v any) (Envelope, error) {
	switch x := v.(type) {
	case nil:
		return Envelope{Type: TypeNil}, nil
	case string:
		return Envelope{Data: encodeData([]byte(x)), Type: TypeString}, nil
	case []byte:
		return Envelope{Data: encodeData(x), Type: TypeBytes}, nil
	case int:
		return Envelope{Data: encodeData(strconv.AppendInt(nil, int64(x), 10)), Type: TypeInt}, nil
	case int32:
		return Envelope{Data: encodeData(strconv.AppendInt(nil, int64(x), 10)), Type: TypeInt}, nil
	case int64:
		return Envelope{Data: encodeData(strconv.AppendInt(nil, x, 10)), Type: TypeInt}, nil
	case float32:
		return Envelope{Data: encodeData(formatFloat(float64(x))), Type: TypeFloat}, nil
	case float64:
		return Envelope{Data: encodeData(formatFloat(x)), Type: TypeFloat}, nil
	case bool:
		return Envelope{Data: encodeData(strconv.AppendBool(nil, x)), Type: TypeBool}, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
		}
		return Envelope{Data: encodeData(b), Type: TypeJSON}, nil
	}
}

// Decode restores the original value from an envelope.
//
// Values sent under the "json" tag come back as the generic JSON shapes
// (map[string]any, []any, float64, string, bool, nil).
func Decode(env Envelope) (any, error) {
	if env.Type == TypeNil {
		return nil, nil
	}
	raw, err := decodeData(env.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	switch env.Type {
	case TypeString:
		return string(raw), nil
	case TypeBytes:
		return raw, nil
	case TypeInt:
		n, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		return n, nil
	case TypeFloat:
		f, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		return f, nil
	case TypeBool:
		b, err := strconv.ParseBool(string(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		return b, nil
	case TypeJSON:
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: unknown type tag %q", ErrMalformedEnvelope, env.Type)
	}
}

// Marshal encodes a value directly to envelope JSON bytes.
func Marshal(v any) ([]byte, error) {
	env, err := Encode(v)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}
	return b, nil
}

// Unmarshal parses envelope JSON bytes and restores the original value.
func Unmarshal(b []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return Decode(env)
}

// formatFloat uses strconv rather than JSON so that Inf and NaN survive.
func formatFloat(f float64) []byte {
	return []byte(strconv.FormatFloat(f, 'g', -1, 64))
}

func encodeData(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeData(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}
