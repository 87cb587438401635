package commerce

import (
	"fmt"
	"strings"

	shopdomain "github.com/brandseal/brandseal/internal/shop/domain"
)

const bulkOperationIDPrefix = "gid://commerce/BulkOperation/"

// NormalizeOperationID strips the platform's gid prefix so stored ids match
// the ids delivered in webhook payloads.
func NormalizeOperationID(id string) string {
	return strings.TrimPrefix(strings.TrimSpace(id), bulkOperationIDPrefix)
}

// DenormalizeOperationID restores the gid form expected by node lookups.
func DenormalizeOperationID(id string) string {
	if strings.HasPrefix(id, bulkOperationIDPrefix) {
		return id
	}
	return bulkOperationIDPrefix + id
}

// BuildExportQuery renders the bulk query covering the configured selection.
// The shape of the streamed records depends on featuredOnly: featured-only
// runs export products with their featured media, full runs export every
// media child under each product.
func BuildExportQuery(cfg shopdomain.ActiveConfig) string {
	filter := selectionFilter(cfg)

	if cfg.FeaturedOnly {
		return fmt.Sprintf(`{
  products%s {
    edges {
      node {
        id
        featuredMedia {
          id
          alt
          preview { image { src } }
        }
      }
    }
  }
}`, filter)
	}

	return fmt.Sprintf(`{
  products%s {
    edges {
      node {
        id
        media {
          edges {
            node {
              ... on MediaImage {
                id
                alt
                mediaContentType
                preview { image { src } }
              }
            }
          }
        }
      }
    }
  }
}`, filter)
}

func selectionFilter(cfg shopdomain.ActiveConfig) string {
	switch cfg.Selection {
	case shopdomain.SelectionProducts:
		if len(cfg.ProductIDs) == 0 {
			return ""
		}
		terms := make([]string, 0, len(cfg.ProductIDs))
		for _, id := range cfg.ProductIDs {
			terms = append(terms, "id:"+id)
		}
		return fmt.Sprintf("(query: %q)", strings.Join(terms, " OR "))
	case shopdomain.SelectionCollections:
		if len(cfg.CollectionIDs) == 0 {
			return ""
		}
		terms := make([]string, 0, len(cfg.CollectionIDs))
		for _, id := range cfg.CollectionIDs {
			terms = append(terms, "collection_id:"+id)
		}
		return fmt.Sprintf("(query: %q)", strings.Join(terms, " OR "))
	default:
		return ""
	}
}
