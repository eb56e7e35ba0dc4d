package sysutil

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetLogLevel(t *testing.T) {
	orig := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(orig) })

	for in, want := range map[string]zerolog.Level{
		" Debug ": zerolog.DebugLevel,
		"":        zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"ERROR":   zerolog.ErrorLevel,
		"fatal":   zerolog.FatalLevel,
		"panic":   zerolog.PanicLevel,
		"trace":   zerolog.InfoLevel,
	} {
		SetLogLevel(in)
		if got := zerolog.GlobalLevel(); got != want {
			t.Fatalf("SetLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLogger_JSONAndPretty(t *testing.T) {
	var buf bytes.Buffer
	lg := NewLogger(&buf, false)
	lg.Info().Str("store_id", "s-1").Msg("hello")
	out := buf.String()
	if !strings.Contains(out, `"store_id":"s-1"`) || !strings.Contains(out, `"time":`) {
		t.Fatalf("json line missing fields: %s", out)
	}

	buf.Reset()
	lg = NewLogger(&buf, true)
	lg.Info().Str("store_id", "s-1").Msg("hello")
	out = buf.String()
	if strings.HasPrefix(out, "{") || !strings.Contains(out, "store_id=s-1") {
		t.Fatalf("expected console format, got: %s", out)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{" ", "\t"}, ""},
		{[]string{"", " staff-1 ", "staff-2"}, " staff-1 "},
		{[]string{"/?view=chat", "/"}, "/?view=chat"},
	}
	for _, tc := range cases {
		if got := FirstNonEmpty(tc.in...); got != tc.want {
			t.Fatalf("FirstNonEmpty(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
