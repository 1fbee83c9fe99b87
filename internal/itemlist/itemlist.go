// Package itemlist loads the item-list XML file (C7): the set of item
// descriptors a consumer or non-interactive provider will traffic. No
// third-party XML library appears anywhere in the retrieved example
// corpus (every XML consumer there uses encoding/xml directly); this
// package follows the same stdlib-only convention rather than inventing
// a dependency the corpus never reaches for.
package itemlist

import (
	"encoding/xml"
	"fmt"
	"io"
)

// Domain identifies the market-data domain of an item.
type Domain string

const (
	DomainMarketPrice   Domain = "MarketPrice"
	DomainMarketByOrder Domain = "MarketByOrder"
)

// Item is one immutable item descriptor loaded from the item list.
type Item struct {
	Name     string
	Domain   Domain
	IsPost   bool
	IsGeneric bool
	IsSnapshot bool
}

type xmlItemList struct {
	XMLName xml.Name  `xml:"itemList"`
	Items   []xmlItem `xml:"item"`
}

type xmlItem struct {
	Domain   string `xml:"domain,attr"`
	Name     string `xml:"name,attr"`
	Post     string `xml:"post,attr"`
	Generic  string `xml:"generic,attr"`
	Snapshot string `xml:"snapshot,attr"`
}

// Load parses the item-list XML document from r and validates each item
// per spec.md §6.2: name length <= 255, domain in {MarketPrice,
// MarketByOrder}, and the post/snapshot and generic/snapshot exclusions.
func Load(r io.Reader) ([]Item, error) {
	var doc xmlItemList
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("itemlist: parse: %w", err)
	}

	items := make([]Item, 0, len(doc.Items))
	for i, raw := range doc.Items {
		if len(raw.Name) > 255 {
			return nil, fmt.Errorf("itemlist: item %d: name exceeds 255 characters", i)
		}
		var domain Domain
		switch raw.Domain {
		case string(DomainMarketPrice):
			domain = DomainMarketPrice
		case string(DomainMarketByOrder):
			domain = DomainMarketByOrder
		default:
			return nil, fmt.Errorf("itemlist: item %d: unknown domain %q", i, raw.Domain)
		}

		item := Item{
			Name:       raw.Name,
			Domain:     domain,
			IsPost:     raw.Post == "true",
			IsGeneric:  raw.Generic == "true",
			IsSnapshot: raw.Snapshot == "true",
		}
		if item.IsPost && item.IsSnapshot {
			return nil, fmt.Errorf("itemlist: item %d (%s): post and snapshot are mutually exclusive", i, item.Name)
		}
		if item.IsGeneric && item.IsSnapshot {
			return nil, fmt.Errorf("itemlist: item %d (%s): generic and snapshot are mutually exclusive", i, item.Name)
		}
		items = append(items, item)
	}
	return items, nil
}

// ErrTooFewItems is returned by RequireCount when the loaded list is
// shorter than the configured item count (spec.md §4.13: "Item file
// containing fewer items than requested -> startup FAILED").
type ErrTooFewItems struct {
	Have, Want int
}

func (e *ErrTooFewItems) Error() string {
	return fmt.Sprintf("itemlist: have %d items, need %d", e.Have, e.Want)
}

// RequireCount validates that items contains at least want entries.
func RequireCount(items []Item, want int) error {
	if len(items) < want {
		return &ErrTooFewItems{Have: len(items), Want: want}
	}
	return nil
}
