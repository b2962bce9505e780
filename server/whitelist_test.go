package main

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kumocha/censord/model"
)

const (
	testBotID    = "censord-test"
	testReviewer = "reviewer1"
)

type broadcastRecorder struct {
	mu      sync.Mutex
	updates []model.UpdateData
}

func (b *broadcastRecorder) BroadcastUpdate(word string, isUsername bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = append(b.updates, model.UpdateData{Word: word, IsUsername: isUsername})
}

func (b *broadcastRecorder) all() []model.UpdateData {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.UpdateData(nil), b.updates...)
}

func newTestWhitelist(t *testing.T) (*Whitelist, *Store, *ConsoleSurface, *Config, *broadcastRecorder) {
	t.Helper()

	config := NewConfig(filepath.Join(t.TempDir(), "config.json"))
	config.GuildID = "guild1"
	config.OwnerID = "owner1"

	store := NewStore(t.TempDir())
	require.NoError(t, store.Load())

	surface := NewConsoleSurface(testBotID)
	broadcast := &broadcastRecorder{}
	return NewWhitelist(store, surface, config, broadcast), store, surface, config, broadcast
}

// postWordRequest submits one word request and returns the posted command
// item (skipping the header).
func postWordRequest(t *testing.T, w *Whitelist, surface *ConsoleSurface, config *Config, word string) Item {
	t.Helper()
	require.NoError(t, w.RequestWhitelist(model.WhitelistRequest{
		Requests:    []string{word},
		Message:     "please add " + word,
		Username:    "gamer",
		ChannelName: "gamerchannel",
	}))

	pending := surface.Pending(config.ChannelID(ChannelWhitelistRequest))
	require.Len(t, pending, 2)
	return pending[1]
}

func wordApproval(config *Config, item Item) ReactionEvent {
	return ReactionEvent{
		UserID:    testReviewer,
		GuildID:   config.GuildID,
		ChannelID: item.Ref.ChannelID,
		ItemID:    item.Ref.ItemID,
		Marker:    config.ApproveMarker,
	}
}

func TestRequestFormatterPostsHeaderAndItems(t *testing.T) {
	w, _, surface, config, _ := newTestWhitelist(t)

	require.NoError(t, w.RequestWhitelist(model.WhitelistRequest{
		Requests:    []string{"darn", "heck"},
		Message:     "pretty please",
		Username:    "Gamer",
		ChannelName: "gamerchannel",
	}))

	pending := surface.Pending(config.ChannelID(ChannelWhitelistRequest))
	require.Len(t, pending, 3)

	header := pending[0].Content
	assert.Contains(t, header, "Whitelist Request from Gamer")
	assert.Contains(t, header, "```pretty please```")
	assert.Contains(t, header, "https://twitch.tv/popout/gamerchannel/viewercard/gamer")
	assert.Contains(t, header, "https://twitch.tv/gamerchannel")

	assert.Equal(t, "!whitelist darn", pending[1].Content)
	assert.Equal(t, "!whitelist heck", pending[2].Content)

	// Markers attach in fixed order; a word request carries the username
	// marker last so a misfiled request can be redirected.
	want := []string{config.ApproveMarker, config.RejectMarker, config.SpacerMarker, config.SetUsernameMarker}
	assert.Equal(t, want, surface.markers[pending[1].Ref])
	assert.Equal(t, want, surface.markers[pending[2].Ref])
	// The header itself carries no markers.
	assert.Empty(t, surface.markers[pending[0].Ref])
}

func TestRequestFormatterUsernameRequest(t *testing.T) {
	w, _, surface, config, _ := newTestWhitelist(t)

	require.NoError(t, w.RequestWhitelist(model.WhitelistRequest{
		Requests:      []string{"CoolName"},
		Username:      "Gamer",
		IsUsernameReq: true,
		ChannelName:   "gamerchannel",
	}))

	pending := surface.Pending(config.ChannelID(ChannelUsernameRequest))
	require.Len(t, pending, 2)
	assert.Contains(t, pending[0].Content, "Username Request")
	assert.Equal(t, "!userwhitelist CoolName", pending[1].Content)

	want := []string{config.ApproveMarker, config.RejectMarker, config.SpacerMarker, config.SetWordMarker}
	assert.Equal(t, want, surface.markers[pending[1].Ref])
}

func TestRequestFormatterStripsPings(t *testing.T) {
	w, _, surface, config, _ := newTestWhitelist(t)

	require.NoError(t, w.RequestWhitelist(model.WhitelistRequest{
		Requests:    []string{"word"},
		Message:     "hey @everyone and @here look",
		Username:    "gamer",
		ChannelName: "gamerchannel",
	}))

	header := surface.Pending(config.ChannelID(ChannelWhitelistRequest))[0].Content
	assert.NotContains(t, header, "@everyone")
	assert.NotContains(t, header, "@here")
	assert.Contains(t, header, "@ everyone")
}

func TestApproveWordReaction(t *testing.T) {
	w, store, surface, config, broadcast := newTestWhitelist(t)
	item := postWordRequest(t, w, surface, config, "darn")
	versionBefore := store.Version()

	w.HandleReaction(wordApproval(config, item))

	assert.True(t, store.HasWord("darn"))
	assert.Equal(t, versionBefore+1, store.Version())

	updates := broadcast.all()
	require.Len(t, updates, 1)
	assert.Equal(t, model.UpdateData{Word: "darn", IsUsername: false}, updates[0])

	// The posting moved to the approved archive.
	_, err := surface.Fetch(item.Ref)
	assert.Error(t, err)
	approved := surface.Pending(config.ChannelID(ChannelApproved))
	require.Len(t, approved, 1)
	assert.Contains(t, approved[0].Content, "!whitelist darn")
	assert.Contains(t, approved[0].Content, testBotID) // author header
}

func TestApproveUsernameReaction(t *testing.T) {
	w, store, surface, config, broadcast := newTestWhitelist(t)

	require.NoError(t, w.RequestWhitelist(model.WhitelistRequest{
		Requests:      []string{"CoolName"},
		Username:      "gamer",
		IsUsernameReq: true,
		ChannelName:   "gamerchannel",
	}))
	pending := surface.Pending(config.ChannelID(ChannelUsernameRequest))
	item := pending[1]

	w.HandleReaction(ReactionEvent{
		UserID:    testReviewer,
		GuildID:   config.GuildID,
		ChannelID: item.Ref.ChannelID,
		ItemID:    item.Ref.ItemID,
		Marker:    config.ApproveMarker,
	})

	assert.True(t, store.HasUsername("CoolName"))
	updates := broadcast.all()
	require.Len(t, updates, 1)
	assert.Equal(t, model.UpdateData{Word: "CoolName", IsUsername: true}, updates[0])
}

func TestRejectReaction(t *testing.T) {
	w, store, surface, config, broadcast := newTestWhitelist(t)
	item := postWordRequest(t, w, surface, config, "darn")
	versionBefore := store.Version()

	ev := wordApproval(config, item)
	ev.Marker = config.RejectMarker
	w.HandleReaction(ev)

	// No mutation, no broadcast; the posting moved to the rejected archive.
	assert.False(t, store.HasWord("darn"))
	assert.Equal(t, versionBefore, store.Version())
	assert.Empty(t, broadcast.all())

	_, err := surface.Fetch(item.Ref)
	assert.Error(t, err)
	rejected := surface.Pending(config.ChannelID(ChannelRejected))
	require.Len(t, rejected, 1)
	assert.Contains(t, rejected[0].Content, "!whitelist darn")
}

func TestDoubleDecisionMutatesOnce(t *testing.T) {
	w, store, surface, config, broadcast := newTestWhitelist(t)
	item := postWordRequest(t, w, surface, config, "darn")
	versionBefore := store.Version()

	ev := wordApproval(config, item)
	w.HandleReaction(ev)
	w.HandleReaction(ev) // second reviewer, same posting

	assert.Equal(t, versionBefore+1, store.Version())
	assert.Len(t, broadcast.all(), 1)
	assert.Len(t, surface.Pending(config.ChannelID(ChannelApproved)), 1)
}

func TestConcurrentDecisionsMutateOnce(t *testing.T) {
	w, store, surface, config, broadcast := newTestWhitelist(t)
	item := postWordRequest(t, w, surface, config, "darn")
	versionBefore := store.Version()

	ev := wordApproval(config, item)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.HandleReaction(ev)
		}()
	}
	wg.Wait()

	assert.Equal(t, versionBefore+1, store.Version())
	assert.Len(t, broadcast.all(), 1)
}

func TestReactionGuards(t *testing.T) {
	w, store, surface, config, broadcast := newTestWhitelist(t)
	item := postWordRequest(t, w, surface, config, "darn")
	versionBefore := store.Version()

	cases := []struct {
		name string
		ev   ReactionEvent
	}{
		{"own reaction", func() ReactionEvent {
			ev := wordApproval(config, item)
			ev.UserID = testBotID
			return ev
		}()},
		{"wrong guild", func() ReactionEvent {
			ev := wordApproval(config, item)
			ev.GuildID = "elsewhere"
			return ev
		}()},
		{"non-request channel", func() ReactionEvent {
			ev := wordApproval(config, item)
			ev.ChannelID = config.ChannelID(ChannelRejected)
			return ev
		}()},
		{"spacer marker", func() ReactionEvent {
			ev := wordApproval(config, item)
			ev.Marker = config.SpacerMarker
			return ev
		}()},
		{"unmapped marker", func() ReactionEvent {
			ev := wordApproval(config, item)
			ev.Marker = "🤖"
			return ev
		}()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w.HandleReaction(tc.ev)
			assert.Equal(t, versionBefore, store.Version())
			assert.Empty(t, broadcast.all())
			_, err := surface.Fetch(item.Ref)
			assert.NoError(t, err, "posting must remain in place")
		})
	}
}

func TestOppositeMarkerRedirectsCategory(t *testing.T) {
	w, store, surface, config, broadcast := newTestWhitelist(t)
	item := postWordRequest(t, w, surface, config, "CoolName")

	// The username marker on a word-channel posting approves it as a
	// username instead.
	ev := wordApproval(config, item)
	ev.Marker = config.SetUsernameMarker
	w.HandleReaction(ev)

	assert.True(t, store.HasUsername("CoolName"))
	assert.False(t, store.HasWord("CoolName"))
	updates := broadcast.all()
	require.Len(t, updates, 1)
	assert.True(t, updates[0].IsUsername)
}

func TestApproveOnHeaderIsNoOp(t *testing.T) {
	w, store, surface, config, broadcast := newTestWhitelist(t)
	postWordRequest(t, w, surface, config, "darn")
	header := surface.Pending(config.ChannelID(ChannelWhitelistRequest))[0]
	versionBefore := store.Version()

	w.HandleReaction(wordApproval(config, header))

	assert.Equal(t, versionBefore, store.Version())
	assert.Empty(t, broadcast.all())
	_, err := surface.Fetch(header.Ref)
	assert.NoError(t, err)
}

func TestTypedCommandApproval(t *testing.T) {
	w, store, _, config, broadcast := newTestWhitelist(t)
	versionBefore := store.Version()

	w.HandleMessage(MessageEvent{
		UserID:    testReviewer,
		GuildID:   config.GuildID,
		ChannelID: config.ChannelID(ChannelWhitelistRequest),
		ItemID:    "typed-1",
		Author:    "Reviewer",
		Content:   "!whitelist darn",
	})

	assert.True(t, store.HasWord("darn"))
	assert.Equal(t, versionBefore+1, store.Version())
	require.Len(t, broadcast.all(), 1)
}

func TestTypedUserCommandApproval(t *testing.T) {
	w, store, _, config, broadcast := newTestWhitelist(t)

	w.HandleMessage(MessageEvent{
		UserID:    testReviewer,
		GuildID:   config.GuildID,
		ChannelID: config.ChannelID(ChannelUsernameRequest),
		ItemID:    "typed-2",
		Author:    "Reviewer",
		Content:   "!userwhitelist CoolName",
	})

	assert.True(t, store.HasUsername("CoolName"))
	updates := broadcast.all()
	require.Len(t, updates, 1)
	assert.True(t, updates[0].IsUsername)
}

func TestTypedCommandIgnoredOutsideRequestChannels(t *testing.T) {
	w, store, _, config, broadcast := newTestWhitelist(t)

	w.HandleMessage(MessageEvent{
		UserID:    testReviewer,
		GuildID:   config.GuildID,
		ChannelID: config.ChannelID(ChannelRejected),
		ItemID:    "typed-3",
		Content:   "!whitelist darn",
	})

	assert.False(t, store.HasWord("darn"))
	assert.Empty(t, broadcast.all())
}

func TestOwnerKillSwitch(t *testing.T) {
	w, _, surface, config, _ := newTestWhitelist(t)

	fired := false
	w.OnShutdown = func() { fired = true }

	ref, err := surface.Send("general", "/off")
	require.NoError(t, err)

	w.HandleMessage(MessageEvent{
		UserID:    config.OwnerID,
		GuildID:   config.GuildID,
		ChannelID: ref.ChannelID,
		ItemID:    ref.ItemID,
		Content:   "/off",
	})

	assert.True(t, fired)
	_, err = surface.Fetch(ref)
	assert.Error(t, err, "kill switch message is deleted")
}

func TestKillSwitchIgnoredFromNonOwner(t *testing.T) {
	w, _, _, config, _ := newTestWhitelist(t)

	fired := false
	w.OnShutdown = func() { fired = true }

	w.HandleMessage(MessageEvent{
		UserID:    testReviewer,
		GuildID:   config.GuildID,
		ChannelID: "general",
		ItemID:    "m1",
		Content:   "/off",
	})
	assert.False(t, fired)
}

func TestCommandWord(t *testing.T) {
	for _, tc := range []struct {
		content string
		word    string
		ok      bool
	}{
		{"!whitelist darn", "darn", true},
		{"!userwhitelist Cool Name", "Cool Name", true},
		{"!whitelist", "", false},
		{"!whitelist ", "", false},
		{"plain text", "", false},
	} {
		word, ok := commandWord(tc.content)
		assert.Equal(t, tc.ok, ok, tc.content)
		assert.Equal(t, tc.word, word, tc.content)
	}
}

func TestApprovalsAcrossItemsBumpVersionEach(t *testing.T) {
	w, store, surface, config, _ := newTestWhitelist(t)

	words := []string{"one", "two", "three"}
	require.NoError(t, w.RequestWhitelist(model.WhitelistRequest{
		Requests:    words,
		Username:    "gamer",
		ChannelName: "gamerchannel",
	}))

	versionBefore := store.Version()
	pending := surface.Pending(config.ChannelID(ChannelWhitelistRequest))
	require.Len(t, pending, len(words)+1)

	for _, item := range pending[1:] {
		w.HandleReaction(wordApproval(config, item))
	}

	assert.Equal(t, versionBefore+len(words), store.Version())
	for _, word := range words {
		assert.True(t, store.HasWord(word), word)
	}
}
