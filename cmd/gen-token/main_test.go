package main

import "testing"

func TestUserIDFor(t *testing.T) {
	cases := []struct {
		name  string
		i     int
		count int
		args  []string
		want  string
	}{
		{name: "explicit", count: 1, args: []string{"alice"}, want: "alice"},
		{name: "single", count: 1, want: "perf-user"},
		{name: "numbered", i: 2, count: 5, want: "perf-user-3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := userIDFor(tc.i, tc.count, "perf-user", 1, tc.args); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}
