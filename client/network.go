package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/kumocha/censord/model"
)

type Network struct {
	conn *websocket.Conn
}

func NewNetwork() *Network {
	return &Network{}
}

func (n *Network) Connect(host string) error {
	if n.conn != nil {
		n.conn.Close()
	}

	// Default relay port if not specified
	if !strings.Contains(host, ":") {
		host = host + ":8087"
	}

	u := url.URL{Scheme: "ws", Host: host, Path: "/ws"}
	log.Printf("connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return err
	}
	n.conn = c
	return nil
}

func (n *Network) Disconnect() {
	if n.conn != nil {
		n.conn.Close()
		n.conn = nil
	}
}

// WaitForMessage is a tea.Cmd that waits for the next frame from the relay.
func (n *Network) WaitForMessage() tea.Msg {
	if n.conn == nil {
		return nil
	}

	_, frame, err := n.conn.ReadMessage()
	if err != nil {
		// The server closes with 1003 and a reason on protocol violations;
		// surface that reason instead of a bare read error.
		if closeErr, ok := err.(*websocket.CloseError); ok {
			n.Disconnect()
			return closedMsg{code: closeErr.Code, reason: closeErr.Text}
		}
		n.Disconnect()
		return errMsg(err)
	}

	var response model.RelayResponse
	if err := json.Unmarshal(frame, &response); err != nil {
		return errMsg(err)
	}

	return response
}

func (n *Network) send(msg model.RelayMessage) tea.Cmd {
	return func() tea.Msg {
		if n.conn == nil {
			return errMsg(fmt.Errorf("not connected"))
		}

		frame, err := json.Marshal(msg)
		if err != nil {
			return errMsg(err)
		}
		if err := n.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return errMsg(err)
		}
		return nil
	}
}

func (n *Network) SendAuth(clientID string) tea.Cmd {
	return n.send(model.RelayMessage{
		ID:       clientID,
		Function: string(model.FunctionAuth),
	})
}

func (n *Network) SendWhitelistRequest(clientID string, req model.WhitelistRequest) tea.Cmd {
	data, err := json.Marshal(req)
	if err != nil {
		return func() tea.Msg { return errMsg(err) }
	}
	return n.send(model.RelayMessage{
		ID:       clientID,
		Function: string(model.FunctionWhitelistRequest),
		Data:     data,
	})
}

type errMsg error

type closedMsg struct {
	code   int
	reason string
}
