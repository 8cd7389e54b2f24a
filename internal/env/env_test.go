package env_test

import (
	"testing"
	"time"

	"github.com/dispatchrun/dispatch-runtime/internal/env"
)

func TestGet(t *testing.T) {
	environ := []string{"A=1", "B=", "C=x=y", "A=2", "NOEQUALS"}

	for _, test := range []struct {
		name string
		want string
	}{
		{"A", "2"},
		{"B", ""},
		{"C", "x=y"},
		{"D", ""},
		{"NOEQUALS", ""},
	} {
		if got := env.Get(environ, test.name); got != test.want {
			t.Errorf("Get(%q) = %q, want %q", test.name, got, test.want)
		}
	}
}

func TestInt(t *testing.T) {
	for _, test := range []struct {
		env   []string
		want  int
		error bool
	}{
		{nil, 7, false},
		{[]string{"N="}, 7, false},
		{[]string{"N=3"}, 3, false},
		{[]string{"N=-3"}, -3, false},
		{[]string{"N=three"}, 7, true},
	} {
		got, err := env.Int(test.env, "N", 7)
		if (err != nil) != test.error {
			t.Errorf("Int(%v): unexpected error: %v", test.env, err)
		}
		if got != test.want {
			t.Errorf("Int(%v) = %d, want %d", test.env, got, test.want)
		}
	}
}

func TestDuration(t *testing.T) {
	for _, test := range []struct {
		env   []string
		want  time.Duration
		error bool
	}{
		{nil, time.Minute, false},
		{[]string{"D=250ms"}, 250 * time.Millisecond, false},
		{[]string{"D=1h30m"}, 90 * time.Minute, false},
		{[]string{"D=10"}, time.Minute, true},
	} {
		got, err := env.Duration(test.env, "D", time.Minute)
		if (err != nil) != test.error {
			t.Errorf("Duration(%v): unexpected error: %v", test.env, err)
		}
		if got != test.want {
			t.Errorf("Duration(%v) = %v, want %v", test.env, got, test.want)
		}
	}
}
