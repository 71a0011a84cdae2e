package utils

import "testing"

type fixture struct {
	Name string `json:"name"`
}

func TestEncodeDecodePayloadRoundTrip(t *testing.T) {
	data, err := EncodePayload(fixture{Name: "a"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodePayload[fixture](data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "a" {
		t.Fatalf("got %+v, want Name=a", got)
	}
}

func TestDecodePayloadEmptyFails(t *testing.T) {
	if _, err := DecodePayload[fixture](nil); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}
