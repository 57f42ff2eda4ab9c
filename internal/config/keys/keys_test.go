package keys

import "testing"

func TestTableAndDottedKeysAreEquivalent(t *testing.T) {
	cases := []string{
		`[server]
max-frame-bytes = 4096
`,
		`server.max-frame-bytes = 4096
`,
	}
	for _, input := range cases {
		store, err := DecodeTOML([]byte(input))
		if err != nil {
			t.Fatalf("decode toml: %v", err)
		}
		value, ok := store.Get("server.max-frame-bytes")
		if !ok {
			t.Fatalf("expected server.max-frame-bytes value")
		}
		parsed, err := Int(value)
		if err != nil || parsed != 4096 {
			t.Fatalf("expected 4096, got %d (%v)", parsed, err)
		}
	}
}

func TestNormalizationHandlesUnderscoresAndCase(t *testing.T) {
	input := `[Server]
MAX_PORT_ATTEMPTS = 3
`
	store, err := DecodeTOML([]byte(input))
	if err != nil {
		t.Fatalf("decode toml: %v", err)
	}
	if _, ok := store.Get("server.max-port-attempts"); !ok {
		t.Fatalf("expected normalized key to resolve, got %v", store.Keys())
	}
}

func TestYAMLMatchesTOML(t *testing.T) {
	yamlDoc := `server:
  port: 9000
  allowed-origins:
    - ui.example
    - localhost
log:
  level: debug
`
	store, err := Decode("orchestra.yaml", []byte(yamlDoc))
	if err != nil {
		t.Fatalf("decode yaml: %v", err)
	}
	port, _ := store.Get("server.port")
	if parsed, err := Int(port); err != nil || parsed != 9000 {
		t.Fatalf("expected port 9000, got %v (%v)", port, err)
	}
	origins, _ := store.Get("server.allowed-origins")
	list, err := Strings(origins)
	if err != nil || len(list) != 2 || list[0] != "ui.example" {
		t.Fatalf("unexpected origins %v (%v)", list, err)
	}
	level, _ := store.Get("log.level")
	if text, err := String(level); err != nil || text != "debug" {
		t.Fatalf("expected debug, got %q (%v)", text, err)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	if _, err := Decode("orchestra.toml", []byte("server = [")); err == nil {
		t.Fatalf("expected toml error")
	}
	if _, err := Decode("orchestra.yml", []byte("server: [unclosed")); err == nil {
		t.Fatalf("expected yaml error")
	}
}

func TestConversions(t *testing.T) {
	if value, err := Int("42"); err != nil || value != 42 {
		t.Fatalf("expected 42, got %d (%v)", value, err)
	}
	if _, err := Int("forty"); err == nil {
		t.Fatalf("expected integer error")
	}
	if value, err := Float("2.5"); err != nil || value != 2.5 {
		t.Fatalf("expected 2.5, got %v (%v)", value, err)
	}
	if value, err := Float(int64(3)); err != nil || value != 3 {
		t.Fatalf("expected 3, got %v (%v)", value, err)
	}
	if value, err := Bool("true"); err != nil || !value {
		t.Fatalf("expected true, got %v (%v)", value, err)
	}
	list, err := Strings("a, b,,c")
	if err != nil || len(list) != 3 {
		t.Fatalf("expected three entries, got %v (%v)", list, err)
	}
}

func TestEnvName(t *testing.T) {
	if got := EnvName("ORCHESTRA_", "server.max-frame-bytes"); got != "ORCHESTRA_SERVER_MAX_FRAME_BYTES" {
		t.Fatalf("unexpected env name %q", got)
	}
}
