package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileIsNoop(t *testing.T) {
	if err := Load(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("Load missing file error: %v", err)
	}
}

func TestLoadFileValuesAndPrecedence(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	content := "" +
		"# comment\n" +
		"FROM_FILE=loaded\n" +
		"QUOTED=\"hello world\"\n" +
		"SINGLE='one'\n" +
		"export EXPORTED=ok\n" +
		"=no_key\n" +
		"EXISTING=from_file\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("EXISTING", "already_set")

	if err := LoadFile(envPath); err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}

	want := map[string]string{
		"FROM_FILE": "loaded",
		"QUOTED":    "hello world",
		"SINGLE":    "one",
		"EXPORTED":  "ok",
		"EXISTING":  "already_set",
	}
	for key, expected := range want {
		if got := os.Getenv(key); got != expected {
			t.Errorf("%s=%q, want %q", key, got, expected)
		}
	}
}

func TestParseLine(t *testing.T) {
	cases := []struct {
		in       string
		key, val string
		ok       bool
	}{
		{"KEY=value", "KEY", "value", true},
		{"  KEY = value ", "KEY", "value", true},
		{"export KEY=value", "KEY", "value", true},
		{`KEY="a b"`, "KEY", "a b", true},
		{"# KEY=value", "", "", false},
		{"", "", "", false},
		{"no_equals", "", "", false},
		{"=value", "", "", false},
	}
	for _, tc := range cases {
		key, val, ok := parseLine(tc.in)
		if key != tc.key || val != tc.val || ok != tc.ok {
			t.Errorf("parseLine(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.in, key, val, ok, tc.key, tc.val, tc.ok)
		}
	}
}
