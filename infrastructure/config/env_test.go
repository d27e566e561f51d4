package config

import (
	"errors"
	"os"
	"testing"

	domainconfig "github.com/felixgeelhaar/asynctrain/domain/config"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("TRAIN_OUTDIR", "/data/run")
	t.Setenv("TRAIN_EMPTY", "")
	os.Unsetenv("TRAIN_UNSET")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "bracket syntax", input: "${TRAIN_OUTDIR}", want: "/data/run"},
		{name: "dollar syntax", input: "$TRAIN_OUTDIR", want: "/data/run"},
		{name: "embedded", input: "outdir: ${TRAIN_OUTDIR}/ckpt", want: "outdir: /data/run/ckpt"},
		{name: "unset with default", input: "${TRAIN_UNSET:-results}", want: "results"},
		{name: "empty with default", input: "${TRAIN_EMPTY:-results}", want: "results"},
		{name: "set ignores default", input: "${TRAIN_OUTDIR:-results}", want: "/data/run"},
		{name: "unset is empty", input: "${TRAIN_UNSET}", want: ""},
		{name: "escaped dollar", input: "cost: $$5", want: "cost: $5"},
		{name: "plain text", input: "steps: 100", want: "steps: 100"},
		{name: "invalid syntax", input: "${incomplete", want: "${incomplete"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandEnv(tt.input); got != tt.want {
				t.Errorf("ExpandEnv(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExpandEnvStrict(t *testing.T) {
	os.Unsetenv("TRAIN_MISSING")

	tests := []struct {
		name  string
		input string
	}{
		{name: "required", input: "${TRAIN_MISSING:?outdir is required}"},
		{name: "bracket", input: "${TRAIN_MISSING}"},
		{name: "simple", input: "$TRAIN_MISSING"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExpandEnvStrict(tt.input)
			if !errors.Is(err, domainconfig.ErrMissingEnvVar) {
				t.Errorf("ExpandEnvStrict(%q) error = %v, want ErrMissingEnvVar", tt.input, err)
			}
		})
	}
}

func TestExpandEnv_RequiredSet(t *testing.T) {
	t.Setenv("TRAIN_STEPS", "500")

	got, err := ExpandEnvStrict("steps: ${TRAIN_STEPS:?steps required}")
	if err != nil {
		t.Fatalf("ExpandEnvStrict() error = %v", err)
	}
	if got != "steps: 500" {
		t.Errorf("ExpandEnvStrict() = %q", got)
	}
}
