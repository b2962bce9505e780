package main

import (
	"fmt"
	"log"
	"sort"
	"sync"
)

// ItemRef identifies one posted item on the messaging surface.
type ItemRef struct {
	ChannelID string
	ItemID    string
}

// Item is a posted item as fetched back from the surface.
type Item struct {
	Ref     ItemRef
	Author  string
	Content string
}

// ReactionEvent is a decision marker added to a posted item by a reviewer.
type ReactionEvent struct {
	UserID    string
	GuildID   string
	ChannelID string
	ItemID    string
	Marker    string
}

// MessageEvent is a plain text message typed on the surface.
type MessageEvent struct {
	UserID    string
	GuildID   string
	ChannelID string
	ItemID    string
	Author    string
	Content   string
}

// Surface is the chat-platform capability the review pipeline depends on:
// post text, attach a decision marker, fetch and delete posted items. The
// platform adapter owns login, channel resolution and event dispatch, and
// delivers ReactionEvent/MessageEvent values to the whitelist handlers.
type Surface interface {
	// Identity returns the surface's own user ID, used to ignore
	// self-generated events.
	Identity() string

	Send(channelID, content string) (ItemRef, error)
	React(ref ItemRef, marker string) error
	Fetch(ref ItemRef) (Item, error)
	Delete(ref ItemRef) error
}

// ConsoleSurface is an in-memory Surface backing the server console. Posted
// items are kept per channel and echoed to the log; the console's review
// commands synthesize reaction events against them. It keeps the pipeline
// operable without a chat-platform adapter attached.
type ConsoleSurface struct {
	mu      sync.Mutex
	botID   string
	nextID  int
	items   map[ItemRef]Item
	order   map[string][]string // ChannelID -> posted item IDs, oldest first
	markers map[ItemRef][]string
}

func NewConsoleSurface(botID string) *ConsoleSurface {
	return &ConsoleSurface{
		botID:   botID,
		items:   make(map[ItemRef]Item),
		order:   make(map[string][]string),
		markers: make(map[ItemRef][]string),
	}
}

func (cs *ConsoleSurface) Identity() string {
	return cs.botID
}

func (cs *ConsoleSurface) Send(channelID, content string) (ItemRef, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.nextID++
	ref := ItemRef{ChannelID: channelID, ItemID: fmt.Sprintf("%d", cs.nextID)}
	cs.items[ref] = Item{Ref: ref, Author: cs.botID, Content: content}
	cs.order[channelID] = append(cs.order[channelID], ref.ItemID)

	log.Printf("[Surface] (#%s) item %s:\n%s", channelID, ref.ItemID, content)
	return ref, nil
}

func (cs *ConsoleSurface) React(ref ItemRef, marker string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, ok := cs.items[ref]; !ok {
		return fmt.Errorf("item %s not found in channel %s", ref.ItemID, ref.ChannelID)
	}
	cs.markers[ref] = append(cs.markers[ref], marker)
	return nil
}

func (cs *ConsoleSurface) Fetch(ref ItemRef) (Item, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	item, ok := cs.items[ref]
	if !ok {
		return Item{}, fmt.Errorf("item %s not found in channel %s", ref.ItemID, ref.ChannelID)
	}
	return item, nil
}

func (cs *ConsoleSurface) Delete(ref ItemRef) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, ok := cs.items[ref]; !ok {
		return fmt.Errorf("item %s not found in channel %s", ref.ItemID, ref.ChannelID)
	}
	delete(cs.items, ref)
	delete(cs.markers, ref)

	ids := cs.order[ref.ChannelID]
	for i, id := range ids {
		if id == ref.ItemID {
			cs.order[ref.ChannelID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

// Pending lists the live items in a channel, oldest first.
func (cs *ConsoleSurface) Pending(channelID string) []Item {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	var items []Item
	for _, id := range cs.order[channelID] {
		if item, ok := cs.items[ItemRef{ChannelID: channelID, ItemID: id}]; ok {
			items = append(items, item)
		}
	}
	return items
}

// Channels lists every channel that has ever received an item.
func (cs *ConsoleSurface) Channels() []string {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	channels := make([]string, 0, len(cs.order))
	for ch := range cs.order {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	return channels
}
