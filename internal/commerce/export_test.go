package commerce

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	shopdomain "github.com/brandseal/brandseal/internal/shop/domain"
)

func TestNormalizeOperationID(t *testing.T) {
	assert.Equal(t, "12345", NormalizeOperationID("gid://commerce/BulkOperation/12345"))
	assert.Equal(t, "12345", NormalizeOperationID("12345"))
	assert.Equal(t, "12345", NormalizeOperationID("  gid://commerce/BulkOperation/12345  "))
}

func TestDenormalizeOperationID(t *testing.T) {
	assert.Equal(t, "gid://commerce/BulkOperation/12345", DenormalizeOperationID("12345"))
	assert.Equal(t, "gid://commerce/BulkOperation/12345", DenormalizeOperationID("gid://commerce/BulkOperation/12345"))
}

func TestBuildExportQuery_FeaturedOnly(t *testing.T) {
	q := BuildExportQuery(shopdomain.ActiveConfig{FeaturedOnly: true})
	assert.Contains(t, q, "featuredMedia")
	assert.NotContains(t, q, "mediaContentType")
}

func TestBuildExportQuery_AllMedia(t *testing.T) {
	q := BuildExportQuery(shopdomain.ActiveConfig{})
	assert.Contains(t, q, "mediaContentType")
	assert.Contains(t, q, "MediaImage")
}

func TestBuildExportQuery_ProductSelection(t *testing.T) {
	q := BuildExportQuery(shopdomain.ActiveConfig{
		Selection:  shopdomain.SelectionProducts,
		ProductIDs: []string{"1", "2"},
	})
	assert.Contains(t, q, `"id:1 OR id:2"`)
}

func TestBuildExportQuery_CollectionSelection(t *testing.T) {
	q := BuildExportQuery(shopdomain.ActiveConfig{
		Selection:     shopdomain.SelectionCollections,
		CollectionIDs: []string{"7"},
	})
	assert.Contains(t, q, `"collection_id:7"`)
}

func TestBuildExportQuery_EmptySelectionListsFallBackToAll(t *testing.T) {
	q := BuildExportQuery(shopdomain.ActiveConfig{Selection: shopdomain.SelectionProducts})
	assert.False(t, strings.Contains(q, "query:"))
}
