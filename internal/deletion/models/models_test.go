package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestItemProven(t *testing.T) {
	tests := []struct {
		name string
		item Item
		want bool
	}{
		{"distinct hashes", Item{Status: ItemErased, PassHashes: [3]string{"a", "b", "c"}}, true},
		{"repeated hash", Item{Status: ItemErased, PassHashes: [3]string{"a", "b", "a"}}, false},
		{"blank hashes without empty marker", Item{Status: ItemErased}, false},
		{"empty item without hashes", Item{Status: ItemErased, Empty: true}, true},
		{"empty item carrying hashes", Item{Status: ItemErased, Empty: true, PassHashes: [3]string{"a", "b", "c"}}, false},
		{"pending", Item{Status: ItemPending, PassHashes: [3]string{"a", "b", "c"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.item.Proven())
		})
	}
}

func TestSucceeded(t *testing.T) {
	job := &DeletionJob{}
	assert.True(t, job.Succeeded())

	job.Items = []Item{
		{Status: ItemErased, PassHashes: [3]string{"a", "b", "c"}},
		{Status: ItemErased, Empty: true},
	}
	assert.True(t, job.Succeeded())

	job.Items = append(job.Items, Item{Status: ItemErased})
	assert.False(t, job.Succeeded())
}
