package codec

import (
	"bytes"
	"testing"
)

func TestRoundTripScalars(t *testing.T) {
	cases := []any{
		"hello",
		"",
		int64(42),
		int64(-7),
		3.25,
		true,
		false,
		nil,
	}
	for _, in := range cases {
		b, err := Marshal(in)
		if err != nil {
			t.Fatalf("Marshal(%v) failed: %v", in, err)
		}
		out, err := Unmarshal(b)
		if err != nil {
			t.Fatalf("Unmarshal(%v) failed: %v", in, err)
		}
		if out != in {
			t.Fatalf("round trip changed value: got %v (%T), want %v (%T)", out, out, in, in)
		}
	}
}

func TestRoundTripIntWidths(t *testing.T) {
	for _, in := range []any{int(5), int32(6), int64(7)} {
		b, err := Marshal(in)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		out, err := Unmarshal(b)
		if err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		if _, ok := out.(int64); !ok {
			t.Fatalf("integers should come back as int64, got %T", out)
		}
	}
}

func TestRoundTripBytes(t *testing.T) {
	in := []byte{0x00, 0xff, 0x10, 0x7f}
	b, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	out, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !bytes.Equal(out.([]byte), in) {
		t.Fatalf("bytes changed in round trip: %x != %x", out, in)
	}
}

func TestRoundTripJSONShapes(t *testing.T) {
	in := map[string]any{
		"name":  "pi",
		"value": 3.14,
		"tags":  []any{"a", "b"},
	}
	b, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	out, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", out)
	}
	if m["name"] != "pi" || m["value"] != 3.14 {
		t.Fatalf("map fields changed: %v", m)
	}
	if tags, ok := m["tags"].([]any); !ok || len(tags) != 2 {
		t.Fatalf("tags changed: %v", m["tags"])
	}
}

func TestUnsupportedValue(t *testing.T) {
	if _, err := Marshal(make(chan int)); err == nil {
		t.Fatalf("expected error for channel value")
	}
}

func TestMalformedEnvelope(t *testing.T) {
	if _, err := Unmarshal([]byte("not json")); err == nil {
		t.Fatalf("expected error for malformed envelope")
	}
	if _, err := Decode(Envelope{Data: "aGk", Type: "mystery"}); err == nil {
		t.Fatalf("expected error for unknown type tag")
	}
	if _, err := Decode(Envelope{Data: "!!!", Type: TypeString}); err == nil {
		t.Fatalf("expected error for bad base64 data")
	}
}
