package wire

// Command is a protocol command tag. The set is closed: terminals only
// understand the tags below, and the router rejects anything else.
type Command string

// Server-to-terminal commands.
const (
	CmdGetDevInfo  Command = "getdevinfo"
	CmdSetDevInfo  Command = "setdevinfo"
	CmdGetDevLock  Command = "getdevlock"
	CmdSetDevLock  Command = "setdevlock"
	CmdGetTime     Command = "gettime"
	CmdSetTime     Command = "settime"
	CmdOpenDoor    Command = "opendoor"
	CmdGetUserList Command = "getuserlist"
	CmdGetUserInfo Command = "getuserinfo"
	CmdSetUserInfo Command = "setuserinfo"
	CmdGetUserName Command = "getusername"
	CmdSetUserName Command = "setusername"
	CmdGetUserLock Command = "getuserlock"
	CmdSetUserLock Command = "setuserlock"
	CmdDeleteUser  Command = "deleteuser"
	CmdDeleteLock  Command = "deleteuserlock"
	CmdEnableUser  Command = "enableuser"
	CmdCleanUser   Command = "cleanuser"
	CmdCleanLog    Command = "cleanlog"
	CmdCleanAdmin  Command = "cleanadmin"
	CmdCleanLock   Command = "cleanuserlock"
	CmdInitSys     Command = "initsys"
	CmdReboot      Command = "reboot"
	CmdGetAllLog   Command = "getalllog"
	CmdGetNewLog   Command = "getnewlog"
)

// Terminal-to-server unsolicited commands.
const (
	CmdReg      Command = "reg"
	CmdSendLog  Command = "sendlog"
	CmdSendUser Command = "senduser"
	CmdEvent    Command = "event"
)

// CmdUnknown marks a frame whose tag is absent, empty or not in the
// protocol's command set.
const CmdUnknown Command = ""

var commands = map[Command]struct{}{
	CmdGetDevInfo: {}, CmdSetDevInfo: {},
	CmdGetDevLock: {}, CmdSetDevLock: {},
	CmdGetTime: {}, CmdSetTime: {},
	CmdOpenDoor:    {},
	CmdGetUserList: {}, CmdGetUserInfo: {}, CmdSetUserInfo: {},
	CmdGetUserName: {}, CmdSetUserName: {},
	CmdGetUserLock: {}, CmdSetUserLock: {},
	CmdDeleteUser: {}, CmdDeleteLock: {}, CmdEnableUser: {},
	CmdCleanUser: {}, CmdCleanLog: {}, CmdCleanAdmin: {}, CmdCleanLock: {},
	CmdInitSys: {}, CmdReboot: {},
	CmdGetAllLog: {}, CmdGetNewLog: {},
	CmdReg: {}, CmdSendLog: {}, CmdSendUser: {}, CmdEvent: {},
}

// ParseCommand maps a raw tag string to a Command. Unrecognized tags map to
// CmdUnknown rather than erroring, so callers can route them to a sink.
func ParseCommand(s string) Command {
	c := Command(s)
	if _, ok := commands[c]; ok {
		return c
	}
	return CmdUnknown
}

// IsValid reports whether c is a member of the protocol's command set.
func (c Command) IsValid() bool {
	_, ok := commands[c]
	return ok
}

// String returns the wire form of the tag.
func (c Command) String() string {
	if c == CmdUnknown {
		return "unknown"
	}
	return string(c)
}

// Backup numbers identify the credential slot a record occupies on the
// terminal. Slots 0-9 are fingerprints; the rest are fixed by the protocol.
const (
	BackupFingerprintMin = 0
	BackupFingerprintMax = 9
	BackupPassword       = 10
	BackupCard           = 11
	BackupAll            = 13 // deleteuser: remove every record of the user
	BackupPhoto          = 50
)
