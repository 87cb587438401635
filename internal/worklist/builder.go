// Package worklist turns a streamed bulk-export into the bounded list of
// media items handed to the processing pipeline.
package worklist

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// Item is one processable media entry extracted from the export.
type Item struct {
	MediaURL string `json:"mediaUrl"`
	ParentID string `json:"parentId"`
	MediaID  string `json:"mediaId"`
	AltText  string `json:"altText,omitempty"`
}

// Policy selects which export records become worklist items.
type Policy struct {
	// FeaturedOnly keeps only each product's featured media; otherwise every
	// image record is kept and its parent read from the export backlink.
	FeaturedOnly bool
}

// Cap bounds the worklist size. The bound is a hard resource limit: once it is
// reached the remaining export stream is not consumed.
type Cap struct {
	n         int
	unlimited bool
}

func Limit(n int) Cap { return Cap{n: n} }
func Unbounded() Cap  { return Cap{unlimited: true} }

func (c Cap) reached(have int) bool {
	return !c.unlimited && have >= c.n
}

// exportRecord covers both record shapes found in a bulk export: parent
// product records and standalone media records.
type exportRecord struct {
	ID               string `json:"id"`
	MediaContentType string `json:"mediaContentType"`
	Alt              string `json:"alt"`
	ParentID         string `json:"__parentId"`
	Preview          struct {
		Image struct {
			Src string `json:"src"`
		} `json:"image"`
	} `json:"preview"`
	FeaturedMedia struct {
		ID      string `json:"id"`
		Alt     string `json:"alt"`
		Preview struct {
			Image struct {
				Src string `json:"src"`
			} `json:"image"`
		} `json:"preview"`
	} `json:"featuredMedia"`
}

const productIDPrefix = "gid://commerce/Product/"

// maxLineBytes bounds a single export line.
const maxLineBytes = 1 << 20

// Build streams newline-delimited JSON export records and returns at most
// bound items matching the policy. Malformed lines are skipped, never fatal.
// An empty result means nothing matched; the caller distinguishes that from
// an allowance denial.
func Build(r io.Reader, policy Policy, bound Cap) ([]Item, error) {
	items := make([]Item, 0, 64)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if bound.reached(len(items)) {
			return items, nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var record exportRecord
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			continue
		}

		if item, ok := extract(record, policy); ok {
			items = append(items, item)
		}
	}
	if err := scanner.Err(); err != nil {
		return items, err
	}
	return items, nil
}

func extract(record exportRecord, policy Policy) (Item, bool) {
	if policy.FeaturedOnly {
		if !strings.HasPrefix(record.ID, productIDPrefix) {
			return Item{}, false
		}
		src := record.FeaturedMedia.Preview.Image.Src
		if src == "" {
			return Item{}, false
		}
		return Item{
			MediaURL: src,
			ParentID: record.ID,
			MediaID:  record.FeaturedMedia.ID,
			AltText:  record.FeaturedMedia.Alt,
		}, true
	}

	if !strings.EqualFold(record.MediaContentType, "IMAGE") {
		return Item{}, false
	}
	src := record.Preview.Image.Src
	if src == "" {
		return Item{}, false
	}
	return Item{
		MediaURL: src,
		ParentID: record.ParentID,
		MediaID:  record.ID,
		AltText:  record.Alt,
	}, true
}
