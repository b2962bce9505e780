package main

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/kumocha/censord/model"
)

// Decision is the closed set of outcomes a reviewer action can map to.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionReject
	DecisionSetWord
	DecisionSetUsername
)

// reactDelay is the courtesy delay between marker attachments so the
// messaging surface's own rate limiting is respected.
const reactDelay = 100 * time.Millisecond

// Broadcaster pushes a dataset update to every connected external client.
type Broadcaster interface {
	BroadcastUpdate(word string, isUsername bool)
}

// Whitelist owns the request/approval pipeline: it formats incoming relay
// requests into reviewable postings and turns reviewer decisions into
// dataset mutations, broadcasts and archival.
type Whitelist struct {
	store     *Store
	surface   Surface
	config    *Config
	broadcast Broadcaster

	// OnShutdown is invoked by the owner kill switch.
	OnShutdown func()

	// claims guards the at-most-once-decision-per-item invariant: an item ID
	// is claimed before its posting is fetched, so two near-simultaneous
	// decisions cannot both reach the dataset store.
	claims *claimSet
}

func NewWhitelist(store *Store, surface Surface, config *Config, broadcast Broadcaster) *Whitelist {
	return &Whitelist{
		store:     store,
		surface:   surface,
		config:    config,
		broadcast: broadcast,
		claims:    newClaimSet(),
	}
}

// stripPings defangs mass mentions before any relayed text reaches a
// reviewer channel.
func stripPings(text string) string {
	text = strings.ReplaceAll(text, "@everyone", "@ everyone")
	text = strings.ReplaceAll(text, "@here", "@ here")
	return text
}

// RequestWhitelist posts an incoming relay request for review: a header
// describing the requester, then one command-style item per requested word,
// each carrying its decision markers.
func (w *Whitelist) RequestWhitelist(req model.WhitelistRequest) error {
	command := "!whitelist"
	title := fmt.Sprintf("__Whitelist Request from %s__", req.Username)
	channelID := w.config.ChannelID(ChannelWhitelistRequest)
	if req.IsUsernameReq {
		command = "!userwhitelist"
		title = fmt.Sprintf("__Username Request__\n**%s**", req.Username)
		channelID = w.config.ChannelID(ChannelUsernameRequest)
	}

	userURL := fmt.Sprintf("https://twitch.tv/popout/%s/viewercard/%s",
		req.ChannelName, strings.ToLower(req.Username))
	header := fmt.Sprintf("** **\n** **\n%s\n```%s```\n<%s>\n<https://twitch.tv/%s>\n** **",
		title, stripPings(req.Message), userURL, req.ChannelName)

	if _, err := w.surface.Send(channelID, header); err != nil {
		return err
	}

	var posted []ItemRef
	for _, word := range req.Requests {
		ref, err := w.surface.Send(channelID, fmt.Sprintf("%s %s", command, stripPings(word)))
		if err != nil {
			return err
		}
		posted = append(posted, ref)
	}

	// Approve, reject, spacer, then the opposite-category marker so a
	// misclassified request can be redirected to the other queue.
	markers := []string{w.config.ApproveMarker, w.config.RejectMarker, w.config.SpacerMarker}
	if req.IsUsernameReq {
		markers = append(markers, w.config.SetWordMarker)
	} else {
		markers = append(markers, w.config.SetUsernameMarker)
	}

	for _, ref := range posted {
		for _, marker := range markers {
			if err := w.surface.React(ref, marker); err != nil {
				log.Printf("[Whitelist] React failed on %s: %v", ref.ItemID, err)
			}
			time.Sleep(reactDelay)
		}
	}
	return nil
}

// mapMarker resolves a reaction marker to a decision. The generic approve
// marker becomes category-specific by channel; the spacer and anything
// unconfigured map to no decision.
func (w *Whitelist) mapMarker(marker, channelID string) Decision {
	switch marker {
	case w.config.RejectMarker:
		return DecisionReject
	case w.config.SetWordMarker:
		return DecisionSetWord
	case w.config.SetUsernameMarker:
		return DecisionSetUsername
	case w.config.ApproveMarker:
		switch channelID {
		case w.config.ChannelID(ChannelUsernameRequest):
			return DecisionSetUsername
		case w.config.ChannelID(ChannelWhitelistRequest):
			return DecisionSetWord
		}
	}
	return DecisionNone
}

// inRequestChannel reports whether a channel is one of the two review
// queues.
func (w *Whitelist) inRequestChannel(channelID string) bool {
	return channelID == w.config.ChannelID(ChannelUsernameRequest) ||
		channelID == w.config.ChannelID(ChannelWhitelistRequest)
}

// HandleReaction consumes one decision-marker event. Guards run in fixed
// order: self, guild, channel, marker mapping; then the item is claimed,
// fetched and decided.
func (w *Whitelist) HandleReaction(ev ReactionEvent) {
	if ev.UserID == w.surface.Identity() {
		return
	}
	if ev.GuildID != w.config.GuildID {
		return
	}
	if !w.inRequestChannel(ev.ChannelID) {
		return
	}

	decision := w.mapMarker(ev.Marker, ev.ChannelID)
	if decision == DecisionNone {
		return
	}

	ref := ItemRef{ChannelID: ev.ChannelID, ItemID: ev.ItemID}
	if !w.claims.claim(ref.ItemID) {
		// Another decision for this item is in flight or already done.
		return
	}

	item, err := w.surface.Fetch(ref)
	if err != nil {
		// Typically a second reviewer racing a decision that already moved
		// the posting. Harmless.
		log.Printf("[Whitelist] Fetch failed for %s: %v", ev.ItemID, err)
		w.claims.release(ref.ItemID)
		return
	}

	w.decide(item, decision)
}

// HandleMessage consumes typed text on the surface: the owner kill switch
// and reviewer-typed whitelist commands.
func (w *Whitelist) HandleMessage(ev MessageEvent) {
	if ev.UserID == w.surface.Identity() {
		return
	}

	if ev.UserID == w.config.OwnerID && strings.HasPrefix(strings.ToLower(ev.Content), "/off") {
		ref := ItemRef{ChannelID: ev.ChannelID, ItemID: ev.ItemID}
		if err := w.surface.Delete(ref); err != nil {
			log.Printf("[Whitelist] Kill switch delete failed: %v", err)
		}
		log.Printf("[Whitelist] Shutdown requested by owner")
		if w.OnShutdown != nil {
			w.OnShutdown()
		}
		return
	}

	if ev.GuildID != w.config.GuildID {
		return
	}
	if !w.inRequestChannel(ev.ChannelID) {
		return
	}

	decision := DecisionNone
	if strings.HasPrefix(ev.Content, "!userwhitelist ") {
		decision = DecisionSetUsername
	} else if strings.HasPrefix(ev.Content, "!whitelist ") {
		decision = DecisionSetWord
	}
	if decision == DecisionNone {
		return
	}

	if !w.claims.claim(ev.ItemID) {
		return
	}
	item := Item{
		Ref:     ItemRef{ChannelID: ev.ChannelID, ItemID: ev.ItemID},
		Author:  ev.Author,
		Content: ev.Content,
	}
	w.decide(item, decision)
}

// decide applies one claimed decision: reject archives the posting
// unchanged; approval mutates the dataset, broadcasts, then archives.
// Archive-and-delete is the commit point, so a persist failure releases the
// claim and leaves the posting in place for a retry.
func (w *Whitelist) decide(item Item, decision Decision) {
	if decision == DecisionReject {
		w.archive(item, w.config.ChannelID(ChannelRejected))
		return
	}

	word, ok := commandWord(item.Content)
	if !ok {
		// A header or other non-command posting; nothing to approve.
		log.Printf("[Whitelist] No command word in item %s", item.Ref.ItemID)
		w.claims.release(item.Ref.ItemID)
		return
	}

	isUsername := decision == DecisionSetUsername
	var version int
	var err error
	if isUsername {
		version, err = w.store.AddUsername(word)
	} else {
		version, err = w.store.AddWord(word)
	}
	if err != nil {
		// The version did not advance; surface this as a failed approval
		// rather than pretending success.
		log.Printf("[Whitelist] Persist failed for %q: %v", word, err)
		w.claims.release(item.Ref.ItemID)
		return
	}
	log.Printf("[Whitelist] Approved %q (is_username=%v, version=%d)", word, isUsername, version)

	w.broadcast.BroadcastUpdate(word, isUsername)
	w.archive(item, w.config.ChannelID(ChannelApproved))
}

// archive copies the posting, headed by its source channel and author, into
// an archive channel and deletes the original. Failures are logged and
// swallowed; a lost race with another reviewer must not crash the loop.
func (w *Whitelist) archive(item Item, archiveChannelID string) {
	header := fmt.Sprintf("__(#%s) %s__\n%s", item.Ref.ChannelID, item.Author, item.Content)
	if _, err := w.surface.Send(archiveChannelID, header); err != nil {
		log.Printf("[Whitelist] Archive copy failed for %s: %v", item.Ref.ItemID, err)
	}
	if err := w.surface.Delete(item.Ref); err != nil {
		log.Printf("[Whitelist] Archive delete failed for %s: %v", item.Ref.ItemID, err)
	}
}

// claimSet is a mutual-exclusion token per posted-item ID. A claim is held
// for the life of a decision and kept once the posting is consumed, so a
// duplicate event can never reach the dataset store.
type claimSet struct {
	mu    sync.Mutex
	taken map[string]bool
}

func newClaimSet() *claimSet {
	return &claimSet{taken: make(map[string]bool)}
}

func (c *claimSet) claim(itemID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.taken[itemID] {
		return false
	}
	c.taken[itemID] = true
	return true
}

func (c *claimSet) release(itemID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.taken, itemID)
}

// commandWord extracts the word from a command-style line: everything after
// the first space.
func commandWord(content string) (string, bool) {
	if !strings.HasPrefix(content, "!") {
		return "", false
	}
	i := strings.Index(content, " ")
	if i < 0 || i == len(content)-1 {
		return "", false
	}
	return content[i+1:], true
}
