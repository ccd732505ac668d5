package httpkit

import (
	"testing"
)

func BenchmarkUserDataSetGet(b *testing.B) {
	keys := []string{"request-id", "auth", "route", "deadline"}
	b.RunParallel(func(pb *testing.PB) {
		var u userData
		for pb.Next() {
			for i, k := range keys {
				u.Set(k, i)
			}
			for _, k := range keys {
				if u.Get(k) == nil {
					b.Errorf("missing value for key %q", k)
				}
			}
			u.Reset()
		}
	})
}

func BenchmarkUserDataMapBaseline(b *testing.B) {
	// What a plain map costs for the same access pattern.
	keys := []string{"request-id", "auth", "route", "deadline"}
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			u := make(map[string]interface{})
			for i, k := range keys {
				u[k] = i
			}
			for _, k := range keys {
				if u[k] == nil {
					b.Errorf("missing value for key %q", k)
				}
			}
		}
	})
}
