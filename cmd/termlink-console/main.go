// Command termlink-console is an interactive operator console for a
// running termlink-server, speaking to its admin HTTP API.
//
// Usage:
//
//	termlink-console [-server http://localhost:8080]
//
// Commands:
//
//	devices                    - list the fleet with liveness
//	door <serial> [num]        - queue a door release
//	maint <serial> <action>    - queue a maintenance command
//	logs <serial> [limit]      - show recent access logs
//	help                       - show this help
//	quit                       - exit
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
)

type console struct {
	server string
	client *http.Client
	rl     *readline.Instance
}

func main() {
	var server string
	flag.StringVar(&server, "server", "http://localhost:8080", "Admin API base URL")
	flag.Parse()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "termlink> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create readline: %v\n", err)
		os.Exit(1)
	}

	c := &console{
		server: strings.TrimRight(server, "/"),
		client: &http.Client{Timeout: 10 * time.Second},
		rl:     rl,
	}
	c.run()
}

func (c *console) run() {
	defer c.rl.Close()

	c.printHelp()

	for {
		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()
		case "devices", "d":
			c.cmdDevices()
		case "door":
			c.cmdDoor(args)
		case "maint", "m":
			c.cmdMaintenance(args)
		case "logs", "l":
			c.cmdLogs(args)
		case "quit", "exit", "q":
			return
		default:
			fmt.Fprintf(c.rl.Stdout(), "unknown command %q, try 'help'\n", cmd)
		}
	}
}

func (c *console) printHelp() {
	fmt.Fprint(c.rl.Stdout(), `Commands:
  devices                    - list the fleet with liveness
  door <serial> [num]        - queue a door release
  maint <serial> <action>    - queue a maintenance command
                               (cleanuser cleanlog cleanadmin cleanuserlock
                                initsys reboot getuserlist getalllog getnewlog)
  logs <serial> [limit]      - show recent access logs
  help                       - show this help
  quit                       - exit
`)
}

func (c *console) cmdDevices() {
	var devices []struct {
		Serial    string `json:"serial"`
		Name      string `json:"name"`
		Status    string `json:"status"`
		Online    bool   `json:"online"`
		ModelName string `json:"model_name"`
		UsersUsed int    `json:"users_used"`
		UserCap   int    `json:"user_capacity"`
	}
	if !c.get("/devices", &devices) {
		return
	}

	if len(devices) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "no devices known")
		return
	}
	for _, d := range devices {
		live := "offline"
		if d.Online {
			live = "online"
		}
		fmt.Fprintf(c.rl.Stdout(), "%-16s %-8s %-10s %s (%d/%d users)\n",
			d.Serial, live, d.Status, d.ModelName, d.UsersUsed, d.UserCap)
	}
}

func (c *console) cmdDoor(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "usage: door <serial> [num]")
		return
	}
	door := 1
	if len(args) > 1 {
		parsed, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintf(c.rl.Stdout(), "invalid door number %q\n", args[1])
			return
		}
		door = parsed
	}
	c.post("/devices/"+url.PathEscape(args[0])+"/open-door", map[string]int{"door": door})
}

func (c *console) cmdMaintenance(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(c.rl.Stdout(), "usage: maint <serial> <action>")
		return
	}
	c.post("/devices/"+url.PathEscape(args[0])+"/maintenance", map[string]string{"action": args[1]})
}

func (c *console) cmdLogs(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "usage: logs <serial> [limit]")
		return
	}
	limit := "20"
	if len(args) > 1 {
		limit = args[1]
	}

	var logs []struct {
		EnrollID    int    `json:"enrollid"`
		EntryAt     string `json:"entry_at"`
		ExitAt      string `json:"exit_at"`
		DurationSec int64  `json:"duration_sec"`
		Open        bool   `json:"open"`
		CloseReason string `json:"close_reason"`
	}
	if !c.get("/devices/"+url.PathEscape(args[0])+"/logs?limit="+url.QueryEscape(limit), &logs) {
		return
	}

	if len(logs) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "no access logs")
		return
	}
	for _, row := range logs {
		state := "closed"
		if row.Open {
			state = "open"
		}
		line := fmt.Sprintf("enroll %-6d %s  %-6s %4ds", row.EnrollID, row.EntryAt, state, row.DurationSec)
		if row.CloseReason != "" {
			line += "  (" + row.CloseReason + ")"
		}
		fmt.Fprintln(c.rl.Stdout(), line)
	}
}

// get fetches a JSON resource; errors are printed, not returned.
func (c *console) get(path string, out any) bool {
	resp, err := c.client.Get(c.server + path)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "request failed: %v\n", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.printServerError(resp)
		return false
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "bad response: %v\n", err)
		return false
	}
	return true
}

func (c *console) post(path string, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "encode request: %v\n", err)
		return
	}
	resp, err := c.client.Post(c.server+path, "application/json", strings.NewReader(string(data)))
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "request failed: %v\n", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.printServerError(resp)
		return
	}
	fmt.Fprintln(c.rl.Stdout(), "queued")
}

func (c *console) printServerError(resp *http.Response) {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		fmt.Fprintf(c.rl.Stdout(), "server: %s (%s)\n", body.Error, resp.Status)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "server: %s\n", resp.Status)
}
