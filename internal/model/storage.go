package model

// StoredValue is one row of the durable key/value mirror.
type StoredValue struct {
	Key       string `db:"key" json:"key"`
	Value     string `db:"value" json:"value"`
	UpdatedAt int64  `db:"updated_at" json:"updatedAt"`
}
