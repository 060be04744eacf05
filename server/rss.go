package server

import (
	"encoding/xml"
	"net/http"

	"github.com/epressworld/epress-sub000/protocol"
	"github.com/epressworld/epress-sub000/store"
)

const rssItemLimit = 50

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	GUID        string `xml:"guid"`
	PubDate     string `xml:"pubDate"`
}

// handleRSS serves an RSS 2.0 feed of the node's own publications, newest
// first. Operators can switch the feed off entirely.
func (h *APIHandler) handleRSS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	enabled, err := h.store.BoolSetting(ctx, store.SettingEnableRSS, true)
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	if !enabled {
		writeAPIError(w, h.log, protocol.Errorf(protocol.CodeNotFound, "rss feed is disabled"))
		return
	}

	self, err := h.store.Self(ctx)
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}

	pubs, total, err := h.store.ListPublications(ctx, store.PublicationFilter{
		AuthorAddress: self.Address,
		Limit:         rssItemLimit,
		Page:          1,
	})
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}

	// The store pages oldest first; the feed wants the latest items. When
	// the final page runs short, top it up from the tail of the page before
	// it so the feed always carries the newest rssItemLimit publications.
	if pages := (total + rssItemLimit - 1) / rssItemLimit; pages > 1 {
		last, _, err := h.store.ListPublications(ctx, store.PublicationFilter{
			AuthorAddress: self.Address,
			Limit:         rssItemLimit,
			Page:          pages,
		})
		if err != nil {
			writeAPIError(w, h.log, err)
			return
		}
		pubs = last
		if short := rssItemLimit - len(last); short > 0 {
			prev, _, err := h.store.ListPublications(ctx, store.PublicationFilter{
				AuthorAddress: self.Address,
				Limit:         rssItemLimit,
				Page:          pages - 1,
			})
			if err != nil {
				writeAPIError(w, h.log, err)
				return
			}
			pubs = append(prev[len(prev)-short:], last...)
		}
	}

	items := make([]rssItem, 0, len(pubs))
	for i := len(pubs) - 1; i >= 0; i-- {
		pub := pubs[i]
		title := pub.Description
		if title == "" {
			title = pub.ContentHash
		}
		items = append(items, rssItem{
			Title:       title,
			Link:        self.URL + "/publications/" + pub.ID,
			Description: pub.Description,
			GUID:        pub.ID,
			PubDate:     pub.CreatedAt.UTC().Format(http.TimeFormat),
		})
	}

	feed := rssFeed{
		Version: "2.0",
		Channel: rssChannel{
			Title:       self.Title,
			Link:        self.URL,
			Description: self.Description,
			Items:       items,
		},
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(feed)
}
