package protocol

import "strconv"

// Operation selects the protocol action an envelope represents. Values are
// part of the wire format and must stay stable.
type Operation int32

// Account registration and login.
const (
	OpRegister             Operation = 1
	OpRegisterSuccess      Operation = 11
	OpRegisterFailedExists Operation = 12
	OpRegisterFailedFormat Operation = 13

	OpLogin                Operation = 2
	OpNotLoggedIn          Operation = 21
	OpLoginFailedPassword  Operation = 22
	OpLoginFailedAccount   Operation = 23
	OpLoginFailedDuplicate Operation = 24
	OpLoginSuccess         Operation = 25

	OpLogout        Operation = 3
	OpDeleteAccount Operation = 4
)

// Account maintenance.
const (
	OpUpdateNickname             Operation = 41
	OpUpdatePassword             Operation = 42
	OpUpdateNicknameFailed       Operation = 411
	OpUpdatePasswordFailed       Operation = 412
	OpUpdateNicknameFailedFormat Operation = 413
)

// Groups.
const (
	OpGroupCreate        Operation = 5
	OpGroupCreateSuccess Operation = 51

	OpGroupInvite        Operation = 6
	OpGroupInviteAgree   Operation = 61
	OpGroupInviteRefuse  Operation = 62
	OpGroupInviteOffline Operation = 63

	OpGroupJoin        Operation = 64
	OpGroupJoinSuccess Operation = 65
	OpGroupJoinFailed  Operation = 66

	OpGroupQuit        Operation = 7
	OpGroupDisband     Operation = 71
	OpGroupUpdateName  Operation = 72
	OpGroupUpdateOwner Operation = 73
)

// Friends.
const (
	OpFriendAdd        Operation = 67
	OpFriendAddSuccess Operation = 68
	OpFriendAddFailed  Operation = 69
	OpFriendAddAgree   Operation = 681
	OpFriendAddRefuse  Operation = 682
)

// Chat, initialization and system.
const (
	OpChat        Operation = 8
	OpPrivateChat Operation = 81

	OpInitChat         Operation = 9
	OpInitUser         Operation = 91
	OpInitGroup        Operation = 92
	OpServerMessage    Operation = 93
	OpInitUserDetail   Operation = 94
	OpUpdateUserDetail Operation = 95

	OpUnknownRequest Operation = 404
	OpServerExit     Operation = 999
)

var operationNames = map[Operation]string{
	OpRegister:                   "register",
	OpRegisterSuccess:            "register-success",
	OpRegisterFailedExists:       "register-failed-exists",
	OpRegisterFailedFormat:       "register-failed-format",
	OpLogin:                      "login",
	OpNotLoggedIn:                "not-logged-in",
	OpLoginFailedPassword:        "login-failed-password",
	OpLoginFailedAccount:         "login-failed-account",
	OpLoginFailedDuplicate:       "login-failed-duplicate",
	OpLoginSuccess:               "login-success",
	OpLogout:                     "logout",
	OpDeleteAccount:              "delete-account",
	OpUpdateNickname:             "update-nickname",
	OpUpdatePassword:             "update-password",
	OpUpdateNicknameFailed:       "update-nickname-failed",
	OpUpdatePasswordFailed:       "update-password-failed",
	OpUpdateNicknameFailedFormat: "update-nickname-failed-format",
	OpGroupCreate:                "group-create",
	OpGroupCreateSuccess:         "group-create-success",
	OpGroupInvite:                "group-invite",
	OpGroupInviteAgree:           "group-invite-agree",
	OpGroupInviteRefuse:          "group-invite-refuse",
	OpGroupInviteOffline:         "group-invite-offline",
	OpGroupJoin:                  "group-join",
	OpGroupJoinSuccess:           "group-join-success",
	OpGroupJoinFailed:            "group-join-failed",
	OpGroupQuit:                  "group-quit",
	OpGroupDisband:               "group-disband",
	OpGroupUpdateName:            "group-update-name",
	OpGroupUpdateOwner:           "group-update-owner",
	OpFriendAdd:                  "friend-add",
	OpFriendAddSuccess:           "friend-add-success",
	OpFriendAddFailed:            "friend-add-failed",
	OpFriendAddAgree:             "friend-add-agree",
	OpFriendAddRefuse:            "friend-add-refuse",
	OpChat:                       "chat",
	OpPrivateChat:                "private-chat",
	OpInitChat:                   "init-chat",
	OpInitUser:                   "init-user",
	OpInitGroup:                  "init-group",
	OpServerMessage:              "server-message",
	OpInitUserDetail:             "init-user-detail",
	OpUpdateUserDetail:           "update-user-detail",
	OpUnknownRequest:             "unknown-request",
	OpServerExit:                 "server-exit",
}

// Known reports whether op belongs to the catalog.
func (op Operation) Known() bool {
	_, ok := operationNames[op]
	return ok
}

func (op Operation) String() string {
	if name, ok := operationNames[op]; ok {
		return name
	}
	return "op(" + strconv.Itoa(int(op)) + ")"
}

// Operations returns every catalog entry.
func Operations() []Operation {
	ops := make([]Operation, 0, len(operationNames))
	for op := range operationNames {
		ops = append(ops, op)
	}
	return ops
}
