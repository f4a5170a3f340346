// Package feed assembles a channel's recent posts into an RSS document,
// merging grouped media posts into single items.
package feed

import (
	"encoding/xml"
	"fmt"
	"time"
)

// RSS is the top-level RSS 2.0 document.
type RSS struct {
	XMLName xml.Name `xml:"rss"`
	Version string   `xml:"version,attr"`
	Channel Channel  `xml:"channel"`
}

// Channel carries feed-level metadata and the item list.
type Channel struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	Items       []Item `xml:"item"`
}

// Item is one feed entry. Description carries rendered HTML inside CDATA.
type Item struct {
	Title       string       `xml:"title"`
	Link        string       `xml:"link"`
	GUID        string       `xml:"guid"`
	PubDate     string       `xml:"pubDate"`
	Description CDATAWrapper `xml:"description"`
}

// CDATAWrapper marshals its text as a CDATA section.
type CDATAWrapper struct {
	Text string `xml:",cdata"`
}

// Encode serializes the document with the XML header.
func (r *RSS) Encode() ([]byte, error) {
	body, err := xml.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode rss: %w", err)
	}

	return append([]byte(xml.Header), body...), nil
}

func formatPubDate(unixtime int64) string {
	return time.Unix(unixtime, 0).UTC().Format(time.RFC1123Z)
}
