package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"
)

// consoleReviewerID is the synthetic identity console decisions run under.
// It passes the state machine's self-check like any human reviewer would.
const consoleReviewerID = "console"

// Console is the stdin command loop. Mutating commands require elevation
// via `auth <password>` first.
type Console struct {
	hub       *Hub
	config    *Config
	store     *Store
	whitelist *Whitelist
	surface   *ConsoleSurface
	shutdown  func()
	elevated  bool
}

func NewConsole(hub *Hub, config *Config, store *Store, whitelist *Whitelist, surface *ConsoleSurface, shutdown func()) *Console {
	return &Console{
		hub:       hub,
		config:    config,
		store:     store,
		whitelist: whitelist,
		surface:   surface,
		shutdown:  shutdown,
	}
}

// Run reads commands until stdin closes or `stop` is issued.
func (con *Console) Run() {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("Server console ready. Type 'help' for commands.")
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		if !con.handleCommand(parts[0], parts[1:]) {
			return
		}
	}
}

// handleCommand returns false when the console loop should end.
func (con *Console) handleCommand(cmd string, args []string) bool {
	switch cmd {
	case "help":
		fmt.Println("Available commands: status, clients, review <list|approve|reject> ..., auth <password>, allow <id>, revoke <id>, kick <id>, passwd <new>, stop")
	case "status":
		fmt.Printf("Whitelist version: %d\nConnected clients: %d\n", con.store.Version(), con.hub.ClientCount())
	case "clients":
		ids := con.hub.ClientIDs()
		if len(ids) == 0 {
			fmt.Println("No clients connected.")
			break
		}
		for _, id := range ids {
			fmt.Println(id)
		}
	case "auth":
		if len(args) != 1 {
			fmt.Println("Usage: auth <password>")
			break
		}
		if con.config.VerifyAdminPassword(args[0]) {
			con.elevated = true
			fmt.Println("Elevated.")
		} else {
			fmt.Println("Incorrect password.")
			log.Printf("[Console] Failed elevation attempt")
		}
	case "allow":
		if !con.requireElevation() {
			break
		}
		if len(args) != 1 {
			fmt.Println("Usage: allow <client-id>")
			break
		}
		if err := con.config.Allow(args[0]); err != nil {
			fmt.Println("Error allowing:", err)
		} else {
			fmt.Println("Client allowed.")
		}
	case "revoke":
		if !con.requireElevation() {
			break
		}
		if len(args) != 1 {
			fmt.Println("Usage: revoke <client-id>")
			break
		}
		if err := con.config.Revoke(args[0]); err != nil {
			fmt.Println("Error revoking:", err)
		} else {
			fmt.Println("Client revoked.")
			con.hub.Kick(args[0])
		}
	case "kick":
		if !con.requireElevation() {
			break
		}
		if len(args) != 1 {
			fmt.Println("Usage: kick <client-id>")
			break
		}
		if con.hub.Kick(args[0]) {
			fmt.Println("Client kicked.")
		} else {
			fmt.Println("Client not found.")
		}
	case "passwd":
		if !con.requireElevation() {
			break
		}
		if len(args) != 1 {
			fmt.Println("Usage: passwd <new-password>")
			break
		}
		if err := con.config.SetAdminPassword(args[0]); err != nil {
			fmt.Println("Error setting password:", err)
		} else {
			fmt.Println("Password updated.")
		}
	case "review":
		con.handleReview(args)
	case "stop":
		fmt.Println("Stopping server...")
		con.shutdown()
		return false
	default:
		fmt.Println("Unknown command.")
	}
	return true
}

func (con *Console) requireElevation() bool {
	if !con.elevated {
		fmt.Println("Elevation required. Use: auth <password>")
		return false
	}
	return true
}

// handleReview bridges the console to the approval state machine when the
// in-process surface is active. Decisions go through the same guards and
// claim path as platform reactions.
func (con *Console) handleReview(args []string) {
	if con.surface == nil {
		fmt.Println("Review commands need the console surface; a platform adapter is attached.")
		return
	}
	if len(args) == 0 {
		fmt.Println("Usage: review <list|approve|reject> [item-id]")
		return
	}

	wordCh := con.config.ChannelID(ChannelWhitelistRequest)
	userCh := con.config.ChannelID(ChannelUsernameRequest)

	switch args[0] {
	case "list":
		for _, channelID := range []string{wordCh, userCh} {
			for _, item := range con.surface.Pending(channelID) {
				line := strings.SplitN(item.Content, "\n", 2)[0]
				fmt.Printf("[%s] #%s %s\n", item.Ref.ItemID, channelID, line)
			}
		}
	case "approve", "reject":
		if len(args) != 2 {
			fmt.Printf("Usage: review %s <item-id>\n", args[0])
			return
		}
		item, ok := con.findPending(args[1], wordCh, userCh)
		if !ok {
			fmt.Println("Item not found.")
			return
		}
		marker := con.config.ApproveMarker
		if args[0] == "reject" {
			marker = con.config.RejectMarker
		}
		con.whitelist.HandleReaction(ReactionEvent{
			UserID:    consoleReviewerID,
			GuildID:   con.config.GuildID,
			ChannelID: item.Ref.ChannelID,
			ItemID:    item.Ref.ItemID,
			Marker:    marker,
		})
		fmt.Printf("Decision recorded for item %s.\n", item.Ref.ItemID)
	default:
		fmt.Println("Usage: review <list|approve|reject> [item-id]")
	}
}

func (con *Console) findPending(itemID string, channelIDs ...string) (Item, bool) {
	for _, channelID := range channelIDs {
		for _, item := range con.surface.Pending(channelID) {
			if item.Ref.ItemID == itemID {
				return item, true
			}
		}
	}
	return Item{}, false
}
