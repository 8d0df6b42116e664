package salt

import (
	"strconv"
	"testing"
)

func TestFor_Determinism(t *testing.T) {
	// Same input must always produce the same salt.
	s := For("http-bytes", "10.0.0.1", 10)
	for i := 0; i < 100; i++ {
		if got := For("http-bytes", "10.0.0.1", 10); got != s {
			t.Fatalf("For(\"http-bytes\", \"10.0.0.1\") = %d on iteration %d, want %d", got, i, s)
		}
	}
}

func TestFor_Range(t *testing.T) {
	inputs := []string{"", "a", "10.0.0.1", "10.0.0.2", "very-long-entity-id-that-should-still-hash-correctly"}
	for _, divisor := range []int{1, 10, 1000} {
		for _, s := range inputs {
			p := For("profile", s, divisor)
			if p < 0 || p >= divisor {
				t.Errorf("For(%q, %d) = %d, want [0, %d)", s, divisor, p, divisor)
			}
		}
	}
}

func TestFor_DefaultDivisor(t *testing.T) {
	if got, want := For("p", "e", 0), For("p", "e", DefaultDivisor); got != want {
		t.Fatalf("For with zero divisor = %d, want %d", got, want)
	}
}

func TestFor_ProfileAffectsSalt(t *testing.T) {
	// Two profiles over the same entities must not share every salt.
	differ := 0
	for i := 0; i < 100; i++ {
		e := "host-" + strconv.Itoa(i)
		if For("profile-a", e, 1000) != For("profile-b", e, 1000) {
			differ++
		}
	}
	if differ == 0 {
		t.Fatal("profile name never changed the salt")
	}
}

func TestFor_Distribution(t *testing.T) {
	// 1000 entities over 256 buckets should land in well over 100 of them.
	seen := make(map[int]struct{})
	for i := 0; i < 1000; i++ {
		seen[For("profile", "entity-"+strconv.Itoa(i), 256)] = struct{}{}
	}
	if len(seen) < 100 {
		t.Errorf("only %d distinct salts from 1000 inputs, want >= 100", len(seen))
	}
}
