package verifierdeps

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
)

func TestFileRecorderRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	r := NewFileRecorder(&buf)
	r.RecordAssignability("Ljava/util/ArrayList;", "Ljava/util/List;")
	r.RecordAssignability("Lcom/example/Dog;", "Lcom/example/Animal;")
	if err := r.Err(); err != nil {
		t.Fatalf("Err() = %v, want nil", err)
	}

	s := rlp.NewStream(&buf, 0)
	var got []Entry
	for {
		var e Entry
		if err := s.Decode(&e); err != nil {
			break
		}
		got = append(got, e)
	}
	if len(got) != 2 {
		t.Fatalf("decoded %d entries, want 2", len(got))
	}
	if got[0].LHSDescriptor != "Ljava/util/ArrayList;" || got[0].RHSDescriptor != "Ljava/util/List;" {
		t.Fatalf("entry 0 = %+v", got[0])
	}
	if got[1].LHSDescriptor != "Lcom/example/Dog;" || got[1].RHSDescriptor != "Lcom/example/Animal;" {
		t.Fatalf("entry 1 = %+v", got[1])
	}
}

func TestMemoryRecorderAccumulates(t *testing.T) {
	r := NewMemoryRecorder()
	r.RecordAssignability("La;", "Lb;")
	r.RecordAssignability("Lc;", "Ld;")
	entries := r.Entries()
	if len(entries) != 2 {
		t.Fatalf("Entries() len = %d, want 2", len(entries))
	}
	if entries[0].LHSDescriptor != "La;" || entries[1].RHSDescriptor != "Ld;" {
		t.Fatalf("entries = %+v", entries)
	}
}
