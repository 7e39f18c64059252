package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyKeepsIdentitiesApart(t *testing.T) {
	identities := []string{"a:b", "a_b", "a%3Ab", "::1", "__1", "%3A%3A1", "user-2", "203.0.113.7"}
	seen := map[string]string{}
	for _, id := range identities {
		key := Key(ClassAuth, id)
		if other, ok := seen[key]; ok {
			t.Fatalf("%q and %q share window key %q", id, other, key)
		}
		seen[key] = id
	}

	assert.Equal(t, "rl:auth:user-2", Key(ClassAuth, "user-2"))
	assert.Equal(t, "rl:auth:%3A%3A1", Key(ClassAuth, "::1"))
	assert.Equal(t, "rl:auth:%253A", Key(ClassAuth, "%3A"))
}
