// Package shard provides partition key generation for the single-table
// DynamoDB layout.
package shard

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// CollectionPK computes the sharded partition key for a document of the
// collection. With numShards=1, every document goes to shard "00".
// With numShards>1, documents are distributed across shards based on id hash.
func CollectionPK(collection, id string, numShards int) string {
	if numShards <= 1 {
		return fmt.Sprintf("%s#00", collection)
	}
	h := fnv.New32a()
	h.Write([]byte(id))
	shard := h.Sum32() % uint32(numShards)
	return fmt.Sprintf("%s#%02x", collection, shard)
}

// AllPKs returns every partition key the collection's documents can live
// under, in shard order. Whole-collection reads fan out across these.
func AllPKs(collection string, numShards int) []string {
	if numShards <= 1 {
		return []string{fmt.Sprintf("%s#00", collection)}
	}
	pks := make([]string, numShards)
	for i := 0; i < numShards; i++ {
		pks[i] = fmt.Sprintf("%s#%02x", collection, i)
	}
	return pks
}

// Collection recovers the collection path from a sharded partition key by
// stripping the "#xx" shard suffix.
func Collection(pk string) string {
	i := strings.LastIndexByte(pk, '#')
	if i < 0 {
		return pk
	}
	return pk[:i]
}
