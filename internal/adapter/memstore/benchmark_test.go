package memstore

import (
	"fmt"
	"testing"

	"chromamcp/internal/port"
)

func seededCollection(b *testing.B, n int) port.Collection {
	b.Helper()
	s := NewMemoryStore(nil)
	coll, err := s.GetCollection("bench")
	if err != nil {
		b.Fatal(err)
	}

	contents := make([]string, n)
	ids := make([]string, n)
	for i := range contents {
		contents[i] = fmt.Sprintf("document %d about topic %d with some filler words %d", i, i%17, i*31)
		ids[i] = fmt.Sprintf("id-%d", i)
	}
	if err := coll.Add(port.AddRequest{Contents: contents, IDs: ids}); err != nil {
		b.Fatal(err)
	}
	return coll
}

func BenchmarkQuery(b *testing.B) {
	for _, size := range []int{100, 1000, 10000} {
		b.Run(fmt.Sprintf("docs=%d", size), func(b *testing.B) {
			coll := seededCollection(b, size)
			req := port.QueryRequest{QueryTexts: []string{"topic 5 filler"}, NResults: 10}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := coll.Query(req); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkAdd(b *testing.B) {
	s := NewMemoryStore(nil)
	coll, _ := s.GetCollection("bench")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		err := coll.Add(port.AddRequest{
			Contents: []string{"a short document body"},
			IDs:      []string{fmt.Sprintf("id-%d", i)},
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}
