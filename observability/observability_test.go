package observability

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNopTracer(t *testing.T) {
	tracer := NopTracer()
	ctx := context.Background()
	ctx2, span := tracer.StartSpan(ctx, "test")
	if ctx2 != ctx {
		t.Fatalf("nop tracer should return same context")
	}
	span.SetTag("key", "value")
	span.SetError(nil)
	span.Finish()
}

func TestFieldConstructors(t *testing.T) {
	err := errors.New("boom")
	cases := []struct {
		f    Field
		key  string
		want interface{}
	}{
		{String("s", "v"), "s", "v"},
		{Int("i", 3), "i", 3},
		{Int64("i64", 4), "i64", int64(4)},
		{Float64("f", 0.5), "f", 0.5},
		{Bool("b", true), "b", true},
		{Error("err", err), "err", err},
	}
	for _, tc := range cases {
		if tc.f.Key() != tc.key || tc.f.Value() != tc.want {
			t.Fatalf("field %s = %v, want %v", tc.f.Key(), tc.f.Value(), tc.want)
		}
	}
}

func TestLogrusLevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogrus(LogrusOptions{Level: "WARN", Output: &buf})

	log.Info("hidden")
	log.With(String("tool", "compress")).Warn("visible", Int("page", 2))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info message should be filtered at WARN: %q", out)
	}
	for _, want := range []string{"visible", "tool=compress", "page=2", "app=KytePDF"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"DEBUG":   logrus.DebugLevel,
		"info":    logrus.InfoLevel,
		"Warn":    logrus.WarnLevel,
		"ERROR":   logrus.ErrorLevel,
		"unknown": logrus.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
