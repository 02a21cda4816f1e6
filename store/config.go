package store

// MaxTransactItems is DynamoDB's limit on items in a single TransactWriteItems call.
const MaxTransactItems = 100

// Config holds configuration for the Store.
type Config struct {
	// TablePrefix is prepended to a collection name to form its table name.
	// Default: "" (collection name is the table name)
	TablePrefix string

	// OrderIndex is the GSI used for ordered listing.
	// Hash key "_list", range key "_order".
	// Default: "order-index"
	OrderIndex string

	// FieldIndexes maps "collection.field" to a GSI whose hash key is that field.
	// Fields without an index are matched with a filtered scan.
	//
	// Example:
	//   - "challenges.avatar": "avatar-index"
	//   - "challenges.category_id": "category-index"
	FieldIndexes map[string]string

	// BatchLimit is the maximum number of updates in one atomic batch.
	// Default: 100
	// Max: 100 (DynamoDB transaction limit)
	BatchLimit int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		OrderIndex: "order-index",
		BatchLimit: MaxTransactItems,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.OrderIndex == "" {
		c.OrderIndex = "order-index"
	}
	if c.BatchLimit < 1 {
		c.BatchLimit = MaxTransactItems
	}
	if c.BatchLimit > MaxTransactItems {
		c.BatchLimit = MaxTransactItems
	}
	if c.FieldIndexes == nil {
		c.FieldIndexes = map[string]string{}
	}
}

// TableName returns the table backing a collection.
func (c Config) TableName(collection string) string {
	return c.TablePrefix + collection
}

// fieldIndex returns the GSI configured for a collection field, if any.
func (c Config) fieldIndex(collection, field string) (string, bool) {
	idx, ok := c.FieldIndexes[collection+"."+field]
	return idx, ok && idx != ""
}
