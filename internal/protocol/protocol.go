// Package protocol implements the line-oriented wire format shared by the
// chat server and its clients.
//
// Every frame is one JSON object on a single line. The object always carries
// a "cmd" field naming the command; the remaining fields are either strings
// or lists of strings. JSON string escaping guarantees that no field value,
// whatever it contains, can produce a raw newline inside a frame.
package protocol

const (
	FieldCmd = "cmd"

	CmdLogin             = "login"
	CmdLogout            = "logout"
	CmdChatTo            = "chat_to"
	CmdUpdateOnlineUsers = "update_online_users"

	FieldUserName       = "userName"
	FieldTargetUserName = "targetUserName"
	FieldChatMsg        = "chatMsg"
	FieldErrMsg         = "errMsg"
	FieldUserNameList   = "userNameList"
	FieldUserStatus     = "userStatus"

	StatusLogin  = "login"
	StatusLogout = "logout"
)

// LoginRequest asks the server to bind name to the connection.
func LoginRequest(name string) ([]byte, error) {
	return Encode(CmdLogin, String(FieldUserName, name))
}

// LoginOK is the success reply to a login. roster lists the names that were
// online before the caller joined.
func LoginOK(roster []string) ([]byte, error) {
	return Encode(CmdLogin, String(FieldErrMsg, ""), List(FieldUserNameList, roster))
}

// LoginFailed is the failure reply to a login.
func LoginFailed(msg string) ([]byte, error) {
	return Encode(CmdLogin, String(FieldErrMsg, msg))
}

func Logout() ([]byte, error) {
	return Encode(CmdLogout)
}

// ChatTo is the client request to send msg to target.
func ChatTo(target, msg string) ([]byte, error) {
	return Encode(CmdChatTo, String(FieldTargetUserName, target), String(FieldChatMsg, msg))
}

// ChatDelivery is what the target of a ChatTo receives.
func ChatDelivery(sender, msg string) ([]byte, error) {
	return Encode(CmdChatTo, String(FieldUserName, sender), String(FieldChatMsg, msg))
}

// Presence announces that name went online or offline.
func Presence(name string, online bool) ([]byte, error) {
	status := StatusLogout
	if online {
		status = StatusLogin
	}
	return Encode(CmdUpdateOnlineUsers, String(FieldUserName, name), String(FieldUserStatus, status))
}
