package server

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"lanchat/models"
	"lanchat/presence"
	"lanchat/protocol"
	"lanchat/store"
)

type handler struct {
	auth bool
	fn   func(sess *Session, env protocol.Envelope) bool
}

// handlerTable maps every operation a client may send to its handler. A
// handler returns false when the session must end.
func (s *Server) handlerTable() map[protocol.Operation]handler {
	return map[protocol.Operation]handler{
		protocol.OpRegister: {false, s.handleRegister},
		protocol.OpLogin:    {false, s.handleLogin},

		protocol.OpLogout:           {true, s.handleLogout},
		protocol.OpDeleteAccount:    {true, s.handleDeleteAccount},
		protocol.OpUpdateNickname:   {true, s.handleUpdateNickname},
		protocol.OpUpdatePassword:   {true, s.handleUpdatePassword},
		protocol.OpUpdateUserDetail: {true, s.handleUpdateUserDetail},

		protocol.OpInitUser:       {true, s.handleInitUser},
		protocol.OpInitUserDetail: {true, s.handleInitUserDetail},
		protocol.OpInitGroup:      {true, s.handleInitGroup},
		protocol.OpInitChat:       {true, s.handleInitChat},

		protocol.OpGroupCreate:       {true, s.handleGroupCreate},
		protocol.OpGroupInvite:       {true, s.handleGroupInvite},
		protocol.OpGroupInviteAgree:  {true, s.handleGroupInviteAgree},
		protocol.OpGroupInviteRefuse: {true, s.handleGroupInviteRefuse},
		protocol.OpGroupJoin:         {true, s.handleGroupJoin},
		protocol.OpGroupQuit:         {true, s.handleGroupQuit},
		protocol.OpGroupDisband:      {true, s.handleGroupDisband},
		protocol.OpGroupUpdateName:   {true, s.handleGroupUpdateName},
		protocol.OpGroupUpdateOwner:  {true, s.handleGroupUpdateOwner},

		protocol.OpFriendAdd:       {true, s.handleFriendAdd},
		protocol.OpFriendAddAgree:  {true, s.handleFriendAddAgree},
		protocol.OpFriendAddRefuse: {true, s.handleFriendAddRefuse},

		protocol.OpChat:        {true, s.handleChat},
		protocol.OpPrivateChat: {true, s.handlePrivateChat},
	}
}

func (s *Server) handleEnvelope(sess *Session, env protocol.Envelope) (keep bool) {
	h, ok := s.handlers[env.Operation]

	if !sess.Authenticated() && (!ok || h.auth) {
		if env.Operation.Known() {
			s.reply(sess, protocol.ServerResponse(protocol.OpNotLoggedIn))
		} else {
			s.replyUnknown(sess, env.Operation)
		}
		return true
	}
	if !ok {
		s.replyUnknown(sess, env.Operation)
		return true
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Handler for %s panicked: %v\n%s", env.Operation, r, debug.Stack())
			s.reply(sess, protocol.ServerText(protocol.OpUnknownRequest, "internal error"))
			keep = true
		}
	}()

	s.log.Debug("Received %s from %s", env.Operation, s.describe(sess))
	return h.fn(sess, env)
}

func (s *Server) replyUnknown(sess *Session, op protocol.Operation) {
	s.reply(sess, protocol.ServerText(protocol.OpUnknownRequest, fmt.Sprintf("unknown request %d", int32(op))))
}

func (s *Server) replyDataError(sess *Session, op protocol.Operation, detail string) {
	s.reply(sess, protocol.ServerText(protocol.OpUnknownRequest, fmt.Sprintf("data error: %s: %s", op, detail)))
}

func (s *Server) notice(sess *Session, format string, args ...any) {
	s.reply(sess, protocol.ServerText(protocol.OpServerMessage, fmt.Sprintf(format, args...)))
}

func isFormatError(err error) bool {
	return errors.Is(err, store.ErrInvalidID) ||
		errors.Is(err, store.ErrEmptyName) ||
		errors.Is(err, store.ErrNameTooLong) ||
		errors.Is(err, store.ErrEmptyPassword)
}

func (s *Server) handleRegister(sess *Session, env protocol.Envelope) bool {
	if sess.Authenticated() {
		s.reply(sess, protocol.ServerResponse(protocol.OpLoginFailedDuplicate))
		return true
	}

	id := env.SenderID
	nickname, password, ok := env.Data.AsPair()
	if !ok {
		s.reply(sess, protocol.ServerResponse(protocol.OpRegisterFailedFormat))
		return true
	}

	if err := s.store.CreateAccount(id, nickname, password); err != nil {
		switch {
		case errors.Is(err, store.ErrAccountExists):
			s.reply(sess, protocol.ServerResponse(protocol.OpRegisterFailedExists))
		case isFormatError(err):
			s.reply(sess, protocol.ServerResponse(protocol.OpRegisterFailedFormat))
		default:
			s.log.Error("Register error for %q: %v", id, err)
			s.reply(sess, protocol.ServerText(protocol.OpUnknownRequest, "internal error"))
		}
		return true
	}

	if err := s.directory.Register(id, sess.out); err != nil {
		s.reply(sess, protocol.ServerResponse(protocol.OpLoginFailedDuplicate))
		return true
	}
	sess.login(id)
	s.log.Info("Registered %s from %s", id, sess.remote)

	s.reply(sess, protocol.ServerResponse(protocol.OpRegisterSuccess))
	s.broadcast.SendToAllExcept(id, protocol.Envelope{
		Operation: protocol.OpInitUser,
		SenderID:  models.ServerAccount,
		Data:      protocol.Names(map[string]string{id: nickname}),
	})
	return true
}

func (s *Server) handleLogin(sess *Session, env protocol.Envelope) bool {
	if sess.Authenticated() {
		s.reply(sess, protocol.ServerResponse(protocol.OpLoginFailedDuplicate))
		return true
	}

	id := env.SenderID
	password, ok := env.Data.AsText()
	if !ok || id == "" {
		s.replyDataError(sess, env.Operation, "expected an account id and a password")
		return true
	}

	if !s.store.AccountExists(id) {
		s.reply(sess, protocol.ServerResponse(protocol.OpLoginFailedAccount))
		return true
	}
	if s.directory.IsOnline(id) {
		s.log.Info("Duplicate login for %s from %s", id, sess.remote)
		s.reply(sess, protocol.ServerResponse(protocol.OpLoginFailedDuplicate))
		return true
	}

	if err := s.store.Authenticate(id, password); err != nil {
		if errors.Is(err, store.ErrWrongPassword) {
			s.reply(sess, protocol.ServerResponse(protocol.OpLoginFailedPassword))
		} else {
			s.reply(sess, protocol.ServerResponse(protocol.OpLoginFailedAccount))
		}
		return true
	}

	if err := s.directory.Register(id, sess.out); err != nil {
		if !errors.Is(err, presence.ErrDuplicate) {
			s.log.Error("Presence error for %s: %v", id, err)
		}
		s.reply(sess, protocol.ServerResponse(protocol.OpLoginFailedDuplicate))
		return true
	}
	sess.login(id)
	s.log.Info("%s logged in from %s", id, sess.remote)

	s.reply(sess, protocol.ServerResponse(protocol.OpLoginSuccess))
	return true
}

// leave takes the session's account offline and acknowledges op, leaving a
// short grace period before the connection is torn down.
func (s *Server) leave(sess *Session, op protocol.Operation) {
	id := sess.Account()
	s.directory.RemoveChannel(id, sess.out)
	s.pending.forget(id)
	sess.logout()

	s.reply(sess, protocol.ServerResponse(op))
	if s.config.LogoutGrace > 0 {
		time.Sleep(s.config.LogoutGrace)
	}
}

func (s *Server) handleLogout(sess *Session, env protocol.Envelope) bool {
	id := sess.Account()
	s.leave(sess, protocol.OpLogout)
	s.log.Info("%s logged out", id)
	return false
}

func (s *Server) handleDeleteAccount(sess *Session, env protocol.Envelope) bool {
	id := sess.Account()
	s.directory.RemoveChannel(id, sess.out)

	affected, deleted, err := s.store.DeleteAccount(id)
	if err != nil {
		s.log.Warn("Delete account %s: %v", id, err)
	}
	for _, g := range affected {
		s.broadcast.SendToGroup(g.ID, groupEnvelope(g))
	}
	for _, gid := range deleted {
		s.groupDeleted(gid)
	}

	s.leave(sess, protocol.OpDeleteAccount)
	s.log.Info("Deleted account %s (%d groups updated, %d removed)", id, len(affected), len(deleted))
	return false
}

// coMembers returns id and every account sharing a group with it.
func (s *Server) coMembers(id string) []string {
	seen := map[string]struct{}{id: {}}
	ids := []string{id}
	for _, g := range s.store.GroupsOf(id) {
		for _, m := range g.MemberIDs() {
			if _, ok := seen[m]; !ok {
				seen[m] = struct{}{}
				ids = append(ids, m)
			}
		}
	}
	return ids
}

func (s *Server) handleUpdateNickname(sess *Session, env protocol.Envelope) bool {
	id := sess.Account()
	nickname, ok := env.Data.AsText()
	if !ok {
		s.replyDataError(sess, env.Operation, "expected a nickname")
		return true
	}

	if err := s.store.UpdateNickname(id, nickname); err != nil {
		switch {
		case errors.Is(err, store.ErrNameTooLong):
			s.reply(sess, protocol.ServerResponse(protocol.OpUpdateNicknameFailedFormat))
		default:
			s.reply(sess, protocol.ServerResponse(protocol.OpUpdateNicknameFailed))
		}
		return true
	}

	s.broadcast.SendToIDList(s.coMembers(id), protocol.Envelope{
		Operation: protocol.OpInitUser,
		SenderID:  models.ServerAccount,
		Data:      protocol.Names(map[string]string{id: nickname}),
	})
	return true
}

func (s *Server) handleUpdatePassword(sess *Session, env protocol.Envelope) bool {
	password, ok := env.Data.AsText()
	if !ok || password == "" {
		s.reply(sess, protocol.ServerResponse(protocol.OpUpdatePasswordFailed))
		return true
	}

	if err := s.store.UpdatePassword(sess.Account(), password); err != nil {
		s.log.Warn("Update password for %s: %v", sess.Account(), err)
		s.reply(sess, protocol.ServerResponse(protocol.OpUpdatePasswordFailed))
		return true
	}
	s.reply(sess, protocol.ServerResponse(protocol.OpUpdatePassword))
	return true
}

func (s *Server) handleUpdateUserDetail(sess *Session, env protocol.Envelope) bool {
	id := sess.Account()
	profile, ok := env.Data.AsProfile()
	if !ok || profile.ID != id {
		s.replyDataError(sess, env.Operation, "expected the sender's own profile")
		return true
	}

	updated, err := s.store.UpdateProfile(models.Account{
		ID:        id,
		Nickname:  profile.Nickname,
		Email:     profile.Email,
		Birthday:  profile.Birthday,
		Address:   profile.Address,
		Signature: profile.Signature,
	})
	if err != nil {
		if errors.Is(err, store.ErrNameTooLong) {
			s.reply(sess, protocol.ServerResponse(protocol.OpUpdateNicknameFailedFormat))
		} else {
			s.replyDataError(sess, env.Operation, err.Error())
		}
		return true
	}

	s.broadcast.SendToAll(protocol.Envelope{
		Operation: protocol.OpUpdateUserDetail,
		SenderID:  models.ServerAccount,
		Data:      protocol.ProfileData(protocol.ProfileOf(updated)),
	})
	return true
}

func (s *Server) handleInitUser(sess *Session, env protocol.Envelope) bool {
	s.reply(sess, protocol.Envelope{
		Operation: protocol.OpInitUser,
		SenderID:  models.ServerAccount,
		Data:      protocol.Names(s.store.Names()),
	})
	return true
}

func (s *Server) handleInitUserDetail(sess *Session, env protocol.Envelope) bool {
	accounts := s.store.Profiles()
	profiles := make(map[string]protocol.Profile, len(accounts))
	for id, a := range accounts {
		profiles[id] = protocol.ProfileOf(a)
	}

	s.reply(sess, protocol.Envelope{
		Operation: protocol.OpInitUserDetail,
		SenderID:  models.ServerAccount,
		Data:      protocol.Profiles(profiles),
	})
	return true
}

func (s *Server) handleInitGroup(sess *Session, env protocol.Envelope) bool {
	for _, g := range s.store.GroupsOf(sess.Account()) {
		s.reply(sess, groupEnvelope(g))
	}
	return true
}

func (s *Server) handleInitChat(sess *Session, env protocol.Envelope) bool {
	for _, g := range s.store.GroupsOf(sess.Account()) {
		lines, err := s.store.ChatHistory(g.ID)
		if err != nil {
			s.log.Warn("Failed to load chat history of %s: %v", g.ID, err)
		}
		s.reply(sess, protocol.Envelope{
			Operation: protocol.OpInitChat,
			SenderID:  models.ServerAccount,
			TargetID:  g.ID,
			Data:      protocol.Lines(lines),
		})
	}
	return true
}

func groupEnvelope(g models.Group) protocol.Envelope {
	return protocol.Envelope{
		Operation: protocol.OpInitGroup,
		SenderID:  models.ServerAccount,
		TargetID:  g.ID,
		Data:      protocol.Group(protocol.SnapshotOf(g)),
	}
}
