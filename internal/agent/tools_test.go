package agent

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTools_AllSentinel(t *testing.T) {
	for _, in := range [][]string{nil, {AllTools}} {
		allow, deny, err := ResolveTools(in)
		require.NoError(t, err)
		assert.Empty(t, allow)
		assert.Empty(t, deny)
	}
}

func TestResolveTools_EmptyDeniesEverything(t *testing.T) {
	allow, deny, err := ResolveTools([]string{})
	require.NoError(t, err)
	assert.Empty(t, allow)
	assert.Equal(t, Catalog(), deny)
}

func TestResolveTools_UnknownTool(t *testing.T) {
	_, _, err := ResolveTools([]string{"Read", "Teleport", "Bash(git:*)", "Fly(x)"})
	require.Error(t, err)

	var unknown *UnknownToolError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, []string{"Bash(git:*)", "Fly(x)", "Teleport"}, unknown.Names)
	assert.Contains(t, err.Error(), CatalogVersion)
}

func TestResolveTools_ScopedEntryRejected(t *testing.T) {
	allow, deny, err := ResolveTools([]string{"Bash(git:*)", "Read"})
	require.Error(t, err)
	assert.Nil(t, allow)
	assert.Nil(t, deny)

	var unknown *UnknownToolError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, []string{"Bash(git:*)"}, unknown.Names)
}

func TestResolveTools_UnionIsCatalog(t *testing.T) {
	allow, deny, err := ResolveTools([]string{"Bash", " Read ", "Bash"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Bash", "Read"}, allow)

	union := append(append([]string{}, allow...), deny...)
	assert.ElementsMatch(t, Catalog(), union)
}

func TestResolveTools_Partition(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	cat := Catalog()

	for i := 0; i < 200; i++ {
		var subset []string
		for _, name := range cat {
			if rng.Intn(2) == 0 {
				subset = append(subset, name)
			}
		}
		if len(subset) == 0 {
			continue
		}
		// duplicates must not break the partition
		subset = append(subset, subset[0])

		allow, deny, err := ResolveTools(subset)
		require.NoError(t, err)

		seen := make(map[string]int)
		for _, n := range allow {
			seen[n]++
		}
		for _, n := range deny {
			seen[n]++
		}
		assert.Len(t, seen, len(cat), "union must equal the catalog")
		for name, count := range seen {
			assert.Equal(t, 1, count, "%s appears in both lists", name)
		}
	}
}

func TestCatalog_ReturnsCopy(t *testing.T) {
	c := Catalog()
	c[0] = "Mutated"
	assert.Equal(t, "Bash", Catalog()[0])
}
