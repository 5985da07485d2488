package mtproto

import (
	"time"

	"github.com/gotd/td/tg"

	"github.com/flemzord/tgmonitor/internal/bridge"
)

// inbound converts an incoming message update. Outgoing messages, service
// messages and empty texts are skipped.
func inbound(e tg.Entities, m tg.MessageClass) (bridge.Inbound, bool) {
	msg, ok := m.(*tg.Message)
	if !ok || msg.Out || msg.Message == "" {
		return bridge.Inbound{}, false
	}

	in := bridge.Inbound{
		MessageID: msg.ID,
		Text:      msg.Message,
		Date:      time.Unix(int64(msg.Date), 0),
	}

	switch p := msg.PeerID.(type) {
	case *tg.PeerUser:
		in.Chat.ID = p.UserID
		in.Peer = bridge.Peer{ID: p.UserID}
		if u, ok := e.Users[p.UserID]; ok {
			in.Chat.FirstName, _ = u.GetFirstName()
			in.Chat.Username, _ = u.GetUsername()
			in.Peer.Username = in.Chat.Username
			in.Peer.Ref = &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash}
		}
		// A private chat is with the sender.
		in.Sender = &bridge.Sender{ID: p.UserID, FirstName: in.Chat.FirstName, Username: in.Chat.Username}
	case *tg.PeerChat:
		in.Chat.ID = p.ChatID
		in.Peer = bridge.Peer{ID: p.ChatID, Ref: &tg.InputPeerChat{ChatID: p.ChatID}}
		if c, ok := e.Chats[p.ChatID]; ok {
			in.Chat.Title = c.Title
			in.Peer.Title = c.Title
		}
	case *tg.PeerChannel:
		in.Chat.ID = p.ChannelID
		in.Chat.Public = true
		in.Peer = bridge.Peer{ID: p.ChannelID, Broadcast: true}
		if c, ok := e.Channels[p.ChannelID]; ok {
			in.Chat.Title = c.Title
			in.Chat.Username, _ = c.GetUsername()
			in.Peer.Title = c.Title
			in.Peer.Username = in.Chat.Username
			in.Peer.Ref = &tg.InputPeerChannel{ChannelID: c.ID, AccessHash: c.AccessHash}
		}
	default:
		return bridge.Inbound{}, false
	}

	if from, ok := msg.GetFromID(); ok {
		if pu, ok := from.(*tg.PeerUser); ok {
			s := &bridge.Sender{ID: pu.UserID}
			if u, ok := e.Users[pu.UserID]; ok {
				s.FirstName, _ = u.GetFirstName()
				s.Username, _ = u.GetUsername()
			}
			in.Sender = s
		}
	}
	return in, true
}
