package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DevInfo is the device-info block a terminal sends at registration.
// The string fields and counters are all required by the protocol.
type DevInfo struct {
	ModelName string `json:"modelname"`
	FPAlgo    string `json:"fpalgo"`
	Firmware  string `json:"firmware"`
	Time      string `json:"time"`

	UserSize int `json:"usersize"`
	FPSize   int `json:"fpsize"`
	CardSize int `json:"cardsize"`
	PwdSize  int `json:"pwdsize"`
	LogSize  int `json:"logsize"`
	UsedUser int `json:"useduser"`
	UsedFP   int `json:"usedfp"`
	UsedCard int `json:"usedcard"`
	UsedPwd  int `json:"usedpwd"`
	UsedLog  int `json:"usedlog"`
}

// Validate checks the required registration fields.
func (d *DevInfo) Validate() error {
	if d == nil {
		return fmt.Errorf("devinfo missing")
	}
	for name, v := range map[string]string{
		"modelname": d.ModelName,
		"fpalgo":    d.FPAlgo,
		"firmware":  d.Firmware,
		"time":      d.Time,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("devinfo field %s missing", name)
		}
	}
	for name, v := range map[string]int{
		"usersize": d.UserSize,
		"fpsize":   d.FPSize,
		"cardsize": d.CardSize,
		"pwdsize":  d.PwdSize,
		"logsize":  d.LogSize,
	} {
		if v < 0 {
			return fmt.Errorf("devinfo field %s negative", name)
		}
	}
	return nil
}

// RegFrame is the unsolicited registration push a terminal sends when its
// connection comes up.
type RegFrame struct {
	SN      string   `json:"sn"`
	DevInfo *DevInfo `json:"devinfo"`
}

// LogRecord is one access event inside a sendlog batch.
type LogRecord struct {
	EnrollID int    `json:"enrollid"`
	Time     string `json:"time"`
	Mode     int    `json:"mode"`
	InOut    int    `json:"inout"`
	Event    int    `json:"event"`
}

// SendLogFrame is a batch of access events uploaded by a terminal.
type SendLogFrame struct {
	SN      string      `json:"sn,omitempty"`
	Count   int         `json:"count"`
	Index   int         `json:"logindex,omitempty"`
	Records []LogRecord `json:"record"`
}

// SendUserFrame is an unsolicited credential upload: a user enrolled
// directly on the terminal. Record is raw because terminals send strings
// for fingerprints and bare numbers for cards and passwords.
type SendUserFrame struct {
	EnrollID  int             `json:"enrollid"`
	Name      string          `json:"name"`
	BackupNum int             `json:"backupnum"`
	Admin     int             `json:"admin"`
	Record    json.RawMessage `json:"record"`
}

// RecordString normalizes the raw record to a string, stripping quotes
// from string-typed records and rendering numeric ones in decimal.
func (f *SendUserFrame) RecordString() string {
	if len(f.Record) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(f.Record, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(f.Record, &n); err == nil {
		return n.String()
	}
	return strings.Trim(string(f.Record), `"`)
}

// Reply is the generic reply envelope terminals send for a command.
// Command-specific counters ride along when present.
type Reply struct {
	Ret    string `json:"ret"`
	Result bool   `json:"result"`
	Reason int    `json:"reason,omitempty"`
	Count  int    `json:"count,omitempty"`
}

// SetUserInfo pushes one credential record to a terminal.
type SetUserInfo struct {
	EnrollID  int    `json:"enrollid"`
	Name      string `json:"name,omitempty"`
	BackupNum int    `json:"backupnum"`
	Admin     int    `json:"admin"`
	Record    string `json:"record,omitempty"`
}

// SetUserName pushes the display name for one enroll id.
type SetUserName struct {
	EnrollID int    `json:"enrollid"`
	Name     string `json:"name"`
}

// SetUserLock pushes an access-schedule window for one enroll id.
type SetUserLock struct {
	EnrollID  int    `json:"enrollid"`
	WeekZone  int    `json:"weekzone,omitempty"`
	StartTime string `json:"starttime,omitempty"`
	EndTime   string `json:"endtime,omitempty"`
}

// DeleteUser removes a user's records from the terminal. BackupNum selects
// one slot, or BackupAll for every record of the user.
type DeleteUser struct {
	EnrollID  int `json:"enrollid"`
	BackupNum int `json:"backupnum"`
}

// EnableUser flips a user's enabled state on the terminal.
type EnableUser struct {
	EnrollID int `json:"enrollid"`
	Enable   int `json:"enflag"`
}

// OpenDoor asks the terminal to release its lock.
type OpenDoor struct {
	DoorNum int `json:"doornum,omitempty"`
}

// SetTime pushes the server clock to the terminal.
type SetTime struct {
	CloudTime string `json:"cloudtime"`
}

// SetDevInfo pushes device settings; zero-valued fields are omitted so a
// partial push only touches what the server intends to change.
type SetDevInfo struct {
	DeviceName  string `json:"devicename,omitempty"`
	Language    int    `json:"language,omitempty"`
	Volume      int    `json:"volume,omitempty"`
	ScreenSaver int    `json:"screensaver,omitempty"`
	VerifyMode  int    `json:"verifymode,omitempty"`
	Sleep       int    `json:"sleep,omitempty"`
	UserFPNum   int    `json:"userfpnum,omitempty"`
	LogHint     int    `json:"loghint,omitempty"`
	ReVerify    int    `json:"reverify,omitempty"`
}

// SetDevLock pushes lock behaviour settings.
type SetDevLock struct {
	OpenDelay  int `json:"opendelay,omitempty"`
	DoorSensor int `json:"doorsensor,omitempty"`
	AlarmDelay int `json:"alarmdelay,omitempty"`
	Threat     int `json:"threat,omitempty"`
	InterLock  int `json:"interlock,omitempty"`
	AntiPass   int `json:"antipass,omitempty"`
	InterTime  int `json:"intertime,omitempty"`
}

// GetUserList asks the terminal to upload its user table. STN true requests
// the short (id-only) listing.
type GetUserList struct {
	STN bool `json:"stn"`
}

// FormatEnrollID renders an enroll id the way log lines and admin surfaces
// show it.
func FormatEnrollID(id int) string {
	return strconv.Itoa(id)
}
