package server

import (
	"errors"

	"lanchat/models"
	"lanchat/protocol"
	"lanchat/store"
)

func (s *Server) handleGroupCreate(sess *Session, env protocol.Envelope) bool {
	gid := env.TargetID
	name, ok := env.Data.AsText()
	if gid == "" || !ok {
		s.replyDataError(sess, env.Operation, "expected a group id and a name")
		return true
	}

	g, err := s.store.CreateGroup(gid, name, sess.Account())
	if err != nil {
		switch {
		case errors.Is(err, store.ErrGroupExists):
			s.notice(sess, "group id %s is already in use", gid)
		case isFormatError(err):
			s.notice(sess, "invalid group id or name")
		default:
			s.log.Error("Create group %s: %v", gid, err)
			s.notice(sess, "could not create group %s", gid)
		}
		return true
	}

	s.log.Info("%s created group %s (%s)", sess.Account(), gid, name)
	s.reply(sess, protocol.Envelope{
		Operation: protocol.OpGroupCreateSuccess,
		SenderID:  models.ServerAccount,
		TargetID:  gid,
	})
	s.reply(sess, groupEnvelope(g))
	return true
}

func (s *Server) handleGroupInvite(sess *Session, env protocol.Envelope) bool {
	id := sess.Account()
	gid := env.TargetID
	invitee, ok := env.Data.AsText()
	if gid == "" || !ok {
		s.replyDataError(sess, env.Operation, "expected a group id and an invitee")
		return true
	}

	g, err := s.store.Group(gid)
	switch {
	case err != nil:
		s.notice(sess, "group %s does not exist", gid)
		return true
	case !s.store.IsMember(gid, id):
		s.notice(sess, "you are not a member of group %s", gid)
		return true
	case invitee == id:
		s.notice(sess, "you cannot invite yourself")
		return true
	case !s.store.AccountExists(invitee):
		s.notice(sess, "user %s does not exist", invitee)
		return true
	case s.store.IsMember(gid, invitee):
		s.notice(sess, "%s is already in group %s", invitee, gid)
		return true
	}

	if !s.directory.IsOnline(invitee) {
		s.reply(sess, protocol.Envelope{
			Operation: protocol.OpGroupInviteOffline,
			SenderID:  models.ServerAccount,
			TargetID:  gid,
			Data:      protocol.Text(invitee),
		})
		return true
	}

	s.pending.addInvite(gid, invitee, id)
	delivered := s.broadcast.SendToUser(invitee, protocol.Envelope{
		Operation: protocol.OpGroupInvite,
		SenderID:  id,
		TargetID:  gid,
		Data:      protocol.Text(g.Name),
	})
	if !delivered {
		s.pending.takeInvite(gid, invitee)
		s.reply(sess, protocol.Envelope{
			Operation: protocol.OpGroupInviteOffline,
			SenderID:  models.ServerAccount,
			TargetID:  gid,
			Data:      protocol.Text(invitee),
		})
		return true
	}
	s.notice(sess, "invitation to %s sent to %s", gid, invitee)
	return true
}

func (s *Server) handleGroupInviteAgree(sess *Session, env protocol.Envelope) bool {
	id := sess.Account()
	gid := env.TargetID

	if _, ok := s.pending.takeInvite(gid, id); !ok {
		s.replyJoinFailed(sess, gid)
		return true
	}

	g, _, err := s.store.AddMember(gid, id)
	if err != nil {
		s.replyJoinFailed(sess, gid)
		return true
	}

	s.log.Info("%s accepted the invitation to %s", id, gid)
	s.broadcast.SendToGroup(gid, groupEnvelope(g))
	return true
}

func (s *Server) handleGroupInviteRefuse(sess *Session, env protocol.Envelope) bool {
	id := sess.Account()
	gid := env.TargetID

	inviter, ok := s.pending.takeInvite(gid, id)
	if !ok {
		s.log.Debug("%s refused an invitation to %s that was never sent", id, gid)
		return true
	}

	s.broadcast.SendToUser(inviter, protocol.Envelope{
		Operation: protocol.OpGroupInviteRefuse,
		SenderID:  id,
		TargetID:  gid,
	})
	return true
}

func (s *Server) replyJoinFailed(sess *Session, gid string) {
	s.reply(sess, protocol.Envelope{
		Operation: protocol.OpGroupJoinFailed,
		SenderID:  models.ServerAccount,
		TargetID:  gid,
	})
}

// handleGroupJoin adds the requester directly, without an invitation.
// Joining a group one already belongs to succeeds without changing it.
func (s *Server) handleGroupJoin(sess *Session, env protocol.Envelope) bool {
	gid := env.TargetID

	g, added, err := s.store.AddMember(gid, sess.Account())
	if err != nil {
		s.replyJoinFailed(sess, gid)
		return true
	}

	s.reply(sess, protocol.Envelope{
		Operation: protocol.OpGroupJoinSuccess,
		SenderID:  models.ServerAccount,
		TargetID:  gid,
	})
	if !added {
		s.reply(sess, groupEnvelope(g))
		return true
	}

	s.log.Info("%s joined %s", sess.Account(), gid)
	s.broadcast.SendToGroup(gid, groupEnvelope(g))
	return true
}

func (s *Server) handleGroupQuit(sess *Session, env protocol.Envelope) bool {
	id := sess.Account()
	gid := env.TargetID

	g, deleted, err := s.store.RemoveMember(gid, id)
	if err != nil {
		s.notice(sess, "you are not a member of group %s", gid)
		return true
	}

	if deleted {
		s.groupDeleted(gid)
		s.log.Info("Group %s deleted after its last member left", gid)
	} else {
		s.broadcast.SendToGroup(gid, groupEnvelope(g))
	}

	s.reply(sess, quitEnvelope(gid, id))
	return true
}

func (s *Server) handleGroupDisband(sess *Session, env protocol.Envelope) bool {
	id := sess.Account()
	gid := env.TargetID

	former, err := s.store.DeleteGroup(gid)
	if err != nil {
		s.notice(sess, "group %s does not exist", gid)
		return true
	}
	s.groupDeleted(gid)
	s.log.Info("%s disbanded group %s", id, gid)

	for _, member := range former.MemberIDs() {
		s.broadcast.SendToUser(member, quitEnvelope(gid, member))
	}
	return true
}

// groupDeleted drops what outlives a deleted group: pending invites into it
// and its chat history.
func (s *Server) groupDeleted(gid string) {
	s.pending.forgetGroup(gid)
	if err := s.store.ClearChatHistory(gid); err != nil {
		s.log.Warn("Failed to clear history of group %s: %v", gid, err)
	}
}

func quitEnvelope(gid, member string) protocol.Envelope {
	return protocol.Envelope{
		Operation: protocol.OpGroupQuit,
		SenderID:  models.ServerAccount,
		TargetID:  gid,
		Data:      protocol.Text(member),
	}
}

func (s *Server) handleGroupUpdateName(sess *Session, env protocol.Envelope) bool {
	id := sess.Account()
	gid := env.TargetID
	name, ok := env.Data.AsText()
	if !ok {
		s.replyDataError(sess, env.Operation, "expected a group name")
		return true
	}
	if !s.store.IsMember(gid, id) {
		s.notice(sess, "you are not a member of group %s", gid)
		return true
	}

	if _, err := s.store.RenameGroup(gid, name); err != nil {
		s.notice(sess, "invalid group name")
		return true
	}

	s.broadcast.SendToGroup(gid, protocol.Envelope{
		Operation: protocol.OpGroupUpdateName,
		SenderID:  id,
		TargetID:  gid,
		Data:      protocol.Text(name),
	})
	return true
}

func (s *Server) handleGroupUpdateOwner(sess *Session, env protocol.Envelope) bool {
	id := sess.Account()
	gid := env.TargetID
	owner, ok := env.Data.AsText()
	if !ok {
		s.replyDataError(sess, env.Operation, "expected the new owner id")
		return true
	}

	g, err := s.store.Group(gid)
	if err != nil {
		s.notice(sess, "group %s does not exist", gid)
		return true
	}
	if g.Owner != id {
		s.notice(sess, "only the owner can hand over group %s", gid)
		return true
	}
	if _, err := s.store.SetGroupOwner(gid, owner); err != nil {
		s.notice(sess, "%s is not a member of group %s", owner, gid)
		return true
	}

	s.broadcast.SendToGroup(gid, protocol.Envelope{
		Operation: protocol.OpGroupUpdateOwner,
		SenderID:  id,
		TargetID:  gid,
		Data:      protocol.Text(owner),
	})
	return true
}
