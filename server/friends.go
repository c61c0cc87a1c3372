package server

import (
	"errors"

	"lanchat/models"
	"lanchat/protocol"
	"lanchat/store"
)

// friendTarget reads the peer id from the target field, falling back to a
// text payload.
func friendTarget(env protocol.Envelope) string {
	if env.TargetID != "" {
		return env.TargetID
	}
	text, _ := env.Data.AsText()
	return text
}

func (s *Server) replyFriendFailed(sess *Session, target string) {
	s.reply(sess, protocol.Envelope{
		Operation: protocol.OpFriendAddFailed,
		SenderID:  models.ServerAccount,
		TargetID:  target,
	})
}

func (s *Server) handleFriendAdd(sess *Session, env protocol.Envelope) bool {
	id := sess.Account()
	target := friendTarget(env)

	if target == "" || target == id || !s.store.AccountExists(target) {
		s.replyFriendFailed(sess, target)
		return true
	}
	if s.store.AreFriends(id, target) {
		s.notice(sess, "you and %s are already friends", target)
		return true
	}

	s.pending.addFriend(id, target)
	delivered := s.broadcast.SendToUser(target, protocol.Envelope{
		Operation: protocol.OpFriendAdd,
		SenderID:  id,
		TargetID:  target,
		Data:      protocol.Text(s.store.Nickname(id)),
	})
	if !delivered {
		s.pending.takeFriend(id, target)
		s.notice(sess, "%s is offline", target)
		return true
	}

	s.notice(sess, "friend request sent to %s", target)
	return true
}

func (s *Server) handleFriendAddAgree(sess *Session, env protocol.Envelope) bool {
	id := sess.Account()
	requester := friendTarget(env)

	if !s.pending.takeFriend(requester, id) {
		s.replyFriendFailed(sess, requester)
		return true
	}

	if err := s.store.AddFriendship(requester, id); err != nil && !errors.Is(err, store.ErrAlreadyFriends) {
		s.log.Warn("Friendship %s-%s: %v", requester, id, err)
		s.replyFriendFailed(sess, requester)
		return true
	}
	s.log.Info("%s and %s are now friends", requester, id)

	s.reply(sess, protocol.Envelope{
		Operation: protocol.OpFriendAddSuccess,
		SenderID:  models.ServerAccount,
		TargetID:  requester,
		Data:      protocol.Names(map[string]string{requester: s.store.Nickname(requester)}),
	})
	s.broadcast.SendToUser(requester, protocol.Envelope{
		Operation: protocol.OpFriendAddSuccess,
		SenderID:  models.ServerAccount,
		TargetID:  id,
		Data:      protocol.Names(map[string]string{id: s.store.Nickname(id)}),
	})
	s.broadcast.SendToUser(requester, protocol.ServerText(protocol.OpServerMessage, id+" accepted your friend request"))
	return true
}

func (s *Server) handleFriendAddRefuse(sess *Session, env protocol.Envelope) bool {
	id := sess.Account()
	requester := friendTarget(env)

	if !s.pending.takeFriend(requester, id) {
		return true
	}
	s.broadcast.SendToUser(requester, protocol.Envelope{
		Operation: protocol.OpFriendAddRefuse,
		SenderID:  id,
		TargetID:  requester,
	})
	return true
}

// handleChat persists a group line and relays it to the other members. A
// persistence failure is logged and the line is relayed anyway.
func (s *Server) handleChat(sess *Session, env protocol.Envelope) bool {
	id := sess.Account()
	gid := env.TargetID
	line, ok := env.Data.AsText()
	if !ok {
		s.replyDataError(sess, env.Operation, "expected a chat line")
		return true
	}
	if !s.store.IsMember(gid, id) {
		s.notice(sess, "you are not a member of group %s", gid)
		return true
	}

	if err := s.store.AppendChatLine(gid, line); err != nil {
		s.log.Warn("Failed to save chat line for %s: %v", gid, err)
	}

	s.broadcast.SendToGroupExceptSender(gid, id, protocol.Envelope{
		Operation: protocol.OpChat,
		SenderID:  id,
		TargetID:  gid,
		Data:      protocol.Text(line),
	})
	return true
}

func (s *Server) handlePrivateChat(sess *Session, env protocol.Envelope) bool {
	id := sess.Account()
	peer := env.TargetID
	text, ok := env.Data.AsText()
	if peer == "" || !ok {
		s.replyDataError(sess, env.Operation, "expected a peer id and a message")
		return true
	}

	delivered := s.broadcast.SendToUser(peer, protocol.Envelope{
		Operation: protocol.OpPrivateChat,
		SenderID:  id,
		TargetID:  peer,
		Data:      protocol.Text(text),
	})
	if !delivered {
		s.notice(sess, "%s is offline", peer)
	}
	return true
}
