package jsoncodec

import (
	"bytes"
	"strings"
	"testing"
)

func TestValid(t *testing.T) {
	cases := map[string]bool{
		`{"a":1}`: true,
		`[1,2]`:   true,
		`{"a":`:   false,
		``:        false,
	}
	for input, want := range cases {
		if got := Valid([]byte(input)); got != want {
			t.Fatalf("Valid(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestEncodeDecodeStream(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, map[string]string{"to": "conductor"}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Fatalf("expected newline-terminated output, got %q", buf.String())
	}
	var out map[string]string
	if err := Decode(&buf, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["to"] != "conductor" {
		t.Fatalf("unexpected decode result %v", out)
	}
}
