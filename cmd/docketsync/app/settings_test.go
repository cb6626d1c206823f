package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testArtifactPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "docket-cache.json")
}

func TestHintsRoundTrip(t *testing.T) {
	t.Parallel()

	artifact := testArtifactPath(t)
	assert.Nil(t, loadHints(artifact))

	saveHints(artifact, []string{"col-a", "col-b"})
	assert.Equal(t, []string{"col-a", "col-b"}, loadHints(artifact))
}

func TestUpdateHintsDiscoveryReplaces(t *testing.T) {
	t.Parallel()

	artifact := testArtifactPath(t)
	saveHints(artifact, []string{"col-a", "col-gone"})

	// A full scan is authoritative: collections it no longer finds
	// dockets in are dropped.
	updateHints(artifact, []string{"col-a", "col-new"}, true)
	assert.Equal(t, []string{"col-a", "col-new"}, loadHints(artifact))
}

func TestUpdateHintsPartialRunNeverShrinks(t *testing.T) {
	t.Parallel()

	artifact := testArtifactPath(t)
	saveHints(artifact, []string{"col-a", "col-b"})

	// A smart or incremental run only reports collections that returned
	// dockets this time; a known collection whose fetch failed or that
	// had no recent changes must survive in the hints.
	updateHints(artifact, []string{"col-a"}, false)
	assert.Equal(t, []string{"col-a", "col-b"}, loadHints(artifact))

	// New collections discovered mid-run are added.
	updateHints(artifact, []string{"col-c"}, false)
	assert.Equal(t, []string{"col-a", "col-b", "col-c"}, loadHints(artifact))

	// An empty partial result writes nothing.
	fresh := testArtifactPath(t)
	updateHints(fresh, nil, false)
	assert.Nil(t, loadHints(fresh))
}

func TestUnionIDs(t *testing.T) {
	t.Parallel()

	out := unionIDs([]string{"b", "a", ""}, []string{"a", "c"})
	require.Equal(t, []string{"a", "b", "c"}, out)

	assert.Nil(t, unionIDs(nil, nil))
}
