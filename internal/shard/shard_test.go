package shard

import (
	"fmt"
	"strings"
	"testing"
)

func TestCollectionPK_SingleShard(t *testing.T) {
	// With numShards=1, all documents should go to shard "00"
	tests := []struct {
		collection string
		id         string
		expected   string
	}{
		{"users", "u1", "users#00"},
		{"users", "u2", "users#00"},
		{"orders", "o1", "orders#00"},
		{"users/u1/posts", "p1", "users/u1/posts#00"},
	}

	for _, tt := range tests {
		result := CollectionPK(tt.collection, tt.id, 1)
		if result != tt.expected {
			t.Errorf("CollectionPK(%q, %q, 1) = %q, want %q",
				tt.collection, tt.id, result, tt.expected)
		}
	}
}

func TestCollectionPK_ZeroShards(t *testing.T) {
	// Zero or negative shards should be treated as 1
	result := CollectionPK("users", "u1", 0)
	if result != "users#00" {
		t.Errorf("expected 'users#00', got %q", result)
	}

	result = CollectionPK("users", "u1", -1)
	if result != "users#00" {
		t.Errorf("expected 'users#00', got %q", result)
	}
}

func TestCollectionPK_MultipleShards(t *testing.T) {
	// With numShards=256, different ids should produce different shards
	collection := "users"
	numShards := 256

	shardCounts := make(map[string]int)
	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("doc-%d", i)
		pk := CollectionPK(collection, id, numShards)

		// Verify format: collection#XX (where XX is hex)
		if !strings.HasPrefix(pk, collection+"#") {
			t.Errorf("expected prefix %q#, got %q", collection, pk)
		}

		shard := pk[len(collection)+1:]
		shardCounts[shard]++
	}

	// Should have distribution across multiple shards (not all in one)
	if len(shardCounts) < 10 {
		t.Errorf("expected distribution across multiple shards, got only %d unique shards", len(shardCounts))
	}
}

func TestCollectionPK_Deterministic(t *testing.T) {
	// Same inputs should always produce same output
	first := CollectionPK("users", "u1", 256)
	for i := 0; i < 100; i++ {
		result := CollectionPK("users", "u1", 256)
		if result != first {
			t.Errorf("expected deterministic result %q, got %q on iteration %d", first, result, i)
		}
	}
}

func TestCollectionPK_HexFormat(t *testing.T) {
	// Shard suffix must be two lowercase hex digits
	for i := 0; i < 100; i++ {
		pk := CollectionPK("users", fmt.Sprintf("id-%d", i), 16)
		suffix := pk[strings.LastIndexByte(pk, '#')+1:]
		if len(suffix) != 2 {
			t.Fatalf("expected 2-char shard suffix, got %q in %q", suffix, pk)
		}
		for _, c := range suffix {
			if !strings.ContainsRune("0123456789abcdef", c) {
				t.Errorf("expected hex shard suffix, got %q in %q", suffix, pk)
			}
		}
	}
}

func TestCollectionPK_ShardWithinRange(t *testing.T) {
	numShards := 16
	for i := 0; i < 500; i++ {
		pk := CollectionPK("users", fmt.Sprintf("id-%d", i), numShards)
		var shard int
		if _, err := fmt.Sscanf(pk[strings.LastIndexByte(pk, '#')+1:], "%02x", &shard); err != nil {
			t.Fatalf("unparseable shard suffix in %q: %v", pk, err)
		}
		if shard < 0 || shard >= numShards {
			t.Errorf("shard %d out of range [0,%d) for %q", shard, numShards, pk)
		}
	}
}

func TestAllPKs_SingleShard(t *testing.T) {
	pks := AllPKs("users", 1)
	if len(pks) != 1 || pks[0] != "users#00" {
		t.Errorf("expected [users#00], got %v", pks)
	}
}

func TestAllPKs_ZeroShards(t *testing.T) {
	pks := AllPKs("users", 0)
	if len(pks) != 1 || pks[0] != "users#00" {
		t.Errorf("expected [users#00], got %v", pks)
	}
}

func TestAllPKs_MultipleShards(t *testing.T) {
	pks := AllPKs("users", 16)
	if len(pks) != 16 {
		t.Fatalf("expected 16 pks, got %d", len(pks))
	}
	if pks[0] != "users#00" {
		t.Errorf("expected first pk 'users#00', got %q", pks[0])
	}
	if pks[15] != "users#0f" {
		t.Errorf("expected last pk 'users#0f', got %q", pks[15])
	}

	seen := make(map[string]bool)
	for _, pk := range pks {
		if seen[pk] {
			t.Errorf("duplicate pk %q", pk)
		}
		seen[pk] = true
	}
}

func TestAllPKs_CoverEveryDocumentPK(t *testing.T) {
	// Every CollectionPK result must appear in AllPKs
	numShards := 8
	all := make(map[string]bool)
	for _, pk := range AllPKs("users", numShards) {
		all[pk] = true
	}
	for i := 0; i < 200; i++ {
		pk := CollectionPK("users", fmt.Sprintf("id-%d", i), numShards)
		if !all[pk] {
			t.Errorf("CollectionPK produced %q, not covered by AllPKs", pk)
		}
	}
}

func TestCollection_RoundTrip(t *testing.T) {
	tests := []struct {
		collection string
		id         string
		numShards  int
	}{
		{"users", "u1", 1},
		{"users", "u1", 16},
		{"users/u1/posts", "p1", 1},
		{"users/u1/posts", "p1", 256},
	}

	for _, tt := range tests {
		pk := CollectionPK(tt.collection, tt.id, tt.numShards)
		got := Collection(pk)
		if got != tt.collection {
			t.Errorf("Collection(%q) = %q, want %q", pk, got, tt.collection)
		}
	}
}

func TestCollection_NoSuffix(t *testing.T) {
	// A pk without a shard suffix comes back unchanged
	if got := Collection("users"); got != "users" {
		t.Errorf("expected 'users', got %q", got)
	}
}

func TestCollectionPK_SameIDDifferentCollection(t *testing.T) {
	a := CollectionPK("users", "x1", 16)
	b := CollectionPK("orders", "x1", 16)
	if Collection(a) == Collection(b) {
		t.Error("different collections must produce different partition key prefixes")
	}
	// Shard selection depends only on the id, so suffixes match
	if a[strings.LastIndexByte(a, '#'):] != b[strings.LastIndexByte(b, '#'):] {
		t.Error("same id should hash to the same shard regardless of collection")
	}
}

func TestCollectionPK_Unicode(t *testing.T) {
	pk := CollectionPK("users", "ユーザー-1", 16)
	if !strings.HasPrefix(pk, "users#") {
		t.Errorf("unexpected pk %q", pk)
	}
	if Collection(pk) != "users" {
		t.Errorf("round trip failed for %q", pk)
	}
}

func TestCollectionPK_ShardDistribution_16Shards(t *testing.T) {
	// With enough documents every shard should see traffic
	numShards := 16
	counts := make(map[string]int)
	for i := 0; i < 2000; i++ {
		pk := CollectionPK("users", fmt.Sprintf("doc-%d", i), numShards)
		counts[pk[strings.LastIndexByte(pk, '#')+1:]]++
	}
	if len(counts) != numShards {
		t.Errorf("expected all %d shards used, got %d", numShards, len(counts))
	}
}
