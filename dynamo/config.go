package dynamo

import "time"

// Config holds configuration for the DynamoDB driver.
type Config struct {
	// Table is the name of the single table all documents live in.
	// Default: "prism_documents"
	Table string

	// NumShards is the number of partition key shards per collection.
	// Higher values increase write throughput but require more parallel
	// queries per collection read.
	// Default: 1 (no sharding, single query)
	// Max: 256
	//
	// Per-shard limits:
	//   - Writes: 1,000/sec
	//   - Reads: 3,000/sec
	NumShards int

	// PollInterval is how often live listeners re-read their document or
	// query to detect changes. DynamoDB has no push listener primitive, so
	// watches poll.
	// Default: 250ms
	PollInterval time.Duration

	// TxAttempts is how many times a transaction callback is re-run when
	// the commit is cancelled by a conflicting concurrent write.
	// Default: 5
	TxAttempts int
}

// DefaultConfig returns sensible defaults for small datasets.
func DefaultConfig() Config {
	return Config{
		Table:        "prism_documents",
		NumShards:    1,
		PollInterval: 250 * time.Millisecond,
		TxAttempts:   5,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Table == "" {
		c.Table = "prism_documents"
	}
	if c.NumShards < 1 {
		c.NumShards = 1
	}
	if c.NumShards > 256 {
		c.NumShards = 256
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.TxAttempts < 1 {
		c.TxAttempts = 5
	}
}
