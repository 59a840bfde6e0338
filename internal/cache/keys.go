package cache

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
)

// TagTasks covers every cached read of the task collection.
const TagTasks = "tasks"

// TaskTag is the per-task tag.
func TaskTag(id string) string {
	return "task." + id
}

// IndexKey derives the listing key from the query parameters. Empty values are
// dropped and keys sorted so equivalent queries share an entry.
func IndexKey(params url.Values) string {
	clean := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			if v != "" {
				clean.Add(k, v)
			}
		}
	}
	sum := md5.Sum([]byte(clean.Encode()))
	return "tasks.index." + hex.EncodeToString(sum[:])
}

// ShowKey is the key for a single task read.
func ShowKey(id string) string {
	return "tasks.show." + id
}
