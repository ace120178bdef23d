package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/matheus3301/chatbridge/internal/profile"
	"github.com/matheus3301/chatbridge/internal/qr"
	"github.com/matheus3301/chatbridge/internal/rpc"
	"github.com/matheus3301/chatbridge/internal/store"
	"go.uber.org/zap"
)

type cli struct {
	client  *rpc.Client
	jsonOut bool
	timeout time.Duration
}

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	timeoutFlag := flag.Duration("timeout", 10*time.Second, "timeout for single requests")
	flag.Usage = printUsage
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fail(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	socketPath := profile.SocketPath(name)
	if args[0] == "start" {
		cmdStart(name, socketPath)
		return
	}

	c, err := rpc.Dial(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for profile %q: %v\n", name, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	app := &cli{client: c, jsonOut: *jsonFlag, timeout: *timeoutFlag}
	if err := app.run(args[0], args[1:]); err != nil {
		fail(err)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: bridgectl [--profile <name>] [--json] [--timeout <d>] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  start                               Start the daemon if it is not running")
	fmt.Fprintln(os.Stderr, "  status                              Show profile status")
	fmt.Fprintln(os.Stderr, "  login [--phone N]                   Connect, linking a device if needed")
	fmt.Fprintln(os.Stderr, "  logout                              Disconnect, keeping credentials")
	fmt.Fprintln(os.Stderr, "  chats [limit]                       List chats")
	fmt.Fprintln(os.Stderr, "  messages <chat> [limit]             List recent messages")
	fmt.Fprintln(os.Stderr, "  search <query> [chat]               Full-text search")
	fmt.Fprintln(os.Stderr, "  contacts [sync]                     List contacts, or request a fresh list")
	fmt.Fprintln(os.Stderr, "  send [--quote id] [--file path] [--wait] <chat> <text>")
	fmt.Fprintln(os.Stderr, "  edit <chat> <msg> <text>            Edit an outgoing message")
	fmt.Fprintln(os.Stderr, "  typing <chat> on|off                Set typing indicator")
	fmt.Fprintln(os.Stderr, "  react <chat> <msg> <sender> [emoji] React; no emoji removes")
	fmt.Fprintln(os.Stderr, "  read <chat> <msg> <sender>          Send a read receipt")
	fmt.Fprintln(os.Stderr, "  delete <chat> <msg> <sender>        Delete a message for everyone")
	fmt.Fprintln(os.Stderr, "  delete-chat <chat>                  Delete a chat on all devices")
	fmt.Fprintln(os.Stderr, "  download <chat> <msg>               Download a message attachment")
	fmt.Fprintln(os.Stderr, "  watch [namespace]                   Stream notifications")
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func usageError(format string) error {
	return fmt.Errorf("usage: bridgectl %s", format)
}

func (c *cli) run(cmd string, args []string) error {
	switch cmd {
	case "status":
		return c.status()
	case "login":
		return c.login(args)
	case "logout":
		return c.simple(func(ctx context.Context) error { return c.client.Logout(ctx) }, "Logged out.")
	case "chats":
		return c.chats(args)
	case "messages":
		return c.messages(args)
	case "search":
		return c.search(args)
	case "contacts":
		return c.contacts(args)
	case "send":
		return c.send(args)
	case "edit":
		if len(args) != 3 {
			return usageError("edit <chat> <msg> <text>")
		}
		return c.simple(func(ctx context.Context) error {
			return c.client.Edit(ctx, &rpc.EditRequest{ChatID: args[0], MsgID: args[1], Text: args[2]})
		}, "Edited.")
	case "typing":
		if len(args) != 2 || (args[1] != "on" && args[1] != "off") {
			return usageError("typing <chat> on|off")
		}
		return c.simple(func(ctx context.Context) error {
			return c.client.Typing(ctx, &rpc.TypingRequest{ChatID: args[0], Typing: args[1] == "on"})
		}, "")
	case "react":
		if len(args) < 3 || len(args) > 4 {
			return usageError("react <chat> <msg> <sender> [emoji]")
		}
		req := &rpc.MessageRequest{ChatID: args[0], MsgID: args[1], SenderID: args[2]}
		if len(args) == 4 {
			req.Emoji = args[3]
		}
		return c.simple(func(ctx context.Context) error { return c.client.React(ctx, req) }, "")
	case "read":
		req, err := messageArgs("read", args)
		if err != nil {
			return err
		}
		return c.simple(func(ctx context.Context) error { return c.client.MarkRead(ctx, req) }, "")
	case "delete":
		req, err := messageArgs("delete", args)
		if err != nil {
			return err
		}
		return c.simple(func(ctx context.Context) error { return c.client.DeleteMessage(ctx, req) }, "Deleted.")
	case "delete-chat":
		if len(args) != 1 {
			return usageError("delete-chat <chat>")
		}
		return c.simple(func(ctx context.Context) error { return c.client.DeleteChat(ctx, args[0]) }, "Chat deleted.")
	case "download":
		return c.download(args)
	case "watch":
		return c.watch(args)
	}
	printUsage()
	return fmt.Errorf("unknown command: %s", cmd)
}

func messageArgs(cmd string, args []string) (*rpc.MessageRequest, error) {
	if len(args) != 3 {
		return nil, usageError(cmd + " <chat> <msg> <sender>")
	}
	return &rpc.MessageRequest{ChatID: args[0], MsgID: args[1], SenderID: args[2]}, nil
}

func (c *cli) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

// simple runs a request with no result and prints done on success.
func (c *cli) simple(call func(context.Context) error, done string) error {
	ctx, cancel := c.ctx()
	defer cancel()
	if err := call(ctx); err != nil {
		return err
	}
	if c.jsonOut {
		outputJSON(map[string]bool{"ok": true})
	} else if done != "" {
		fmt.Println(done)
	}
	return nil
}

func cmdStart(name, socketPath string) {
	if probeDaemon(socketPath) {
		fmt.Printf("Daemon already running for profile %q.\n", name)
		return
	}
	fmt.Fprintf(os.Stderr, "daemon not running for profile %q, starting...\n", name)
	if err := startDaemon(name); err != nil {
		fail(fmt.Errorf("start daemon: %w", err))
	}
	if !waitForDaemon(socketPath, 10*time.Second) {
		fail(fmt.Errorf("daemon did not become ready"))
	}
	fmt.Println("Daemon started.")
}

func (c *cli) status() error {
	ctx, cancel := c.ctx()
	defer cancel()
	resp, err := c.client.Status(ctx)
	if err != nil {
		return err
	}
	if c.jsonOut {
		outputJSON(resp)
		return nil
	}
	fmt.Printf("Profile:  %s\n", resp.Profile)
	fmt.Printf("State:    %s\n", resp.State)
	fmt.Printf("Linked:   %v\n", resp.Linked)
	if resp.SelfID != "" {
		fmt.Printf("Self:     %s\n", resp.SelfID)
	}
	fmt.Printf("History:  %v\n", resp.HistoryTransferred)
	fmt.Printf("Chats:    %d\n", resp.ChatCount)
	fmt.Printf("Messages: %d\n", resp.MessageCount)
	fmt.Printf("Uptime:   %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).String())
	return nil
}

func (c *cli) login(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	phone := fs.String("phone", "", "link with a pairing code sent to this phone number")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	presenter := qr.New(qr.Options{Terminal: true}, zap.NewNop())
	var loginErr error
	err := c.client.Login(ctx, &rpc.LoginRequest{Phone: *phone}, func(ev *rpc.LoginEvent) error {
		if c.jsonOut {
			outputJSON(ev)
		} else {
			switch {
			case ev.URL != "":
				if err := presenter.ShowURL(ev.URL); err != nil {
					return err
				}
			case ev.Code != "":
				if err := presenter.ShowCode(ev.Code); err != nil {
					return err
				}
			case ev.Done && ev.Error == "":
				fmt.Printf("Login complete. State: %s\n", ev.State)
			case !ev.Done && ev.State != "":
				fmt.Printf("State: %s\n", ev.State)
			}
		}
		if ev.Done && ev.Error != "" {
			loginErr = fmt.Errorf("login failed: %s", ev.Error)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return loginErr
}

func (c *cli) chats(args []string) error {
	req := &rpc.ListChatsRequest{}
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return usageError("chats [limit]")
		}
		req.Limit = n
	}
	ctx, cancel := c.ctx()
	defer cancel()
	resp, err := c.client.ListChats(ctx, req)
	if err != nil {
		return err
	}
	if c.jsonOut {
		outputJSON(resp)
		return nil
	}
	if len(resp.Chats) == 0 {
		fmt.Println("No chats found.")
		return nil
	}
	for _, ch := range resp.Chats {
		marks := ""
		if ch.IsPinned {
			marks += "P"
		}
		if ch.IsMuted {
			marks += "M"
		}
		if ch.IsUnread {
			marks += "*"
		}
		name := ch.Name
		if name == "" {
			name = ch.ID
		}
		fmt.Printf("%-3s %-30s %-40s %s\n", marks, name, ch.ID, ch.LastMessagePreview)
	}
	return nil
}

func (c *cli) messages(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return usageError("messages <chat> [limit]")
	}
	req := &rpc.ListMessagesRequest{ChatID: args[0]}
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return usageError("messages <chat> [limit]")
		}
		req.Limit = n
	}
	ctx, cancel := c.ctx()
	defer cancel()
	resp, err := c.client.ListMessages(ctx, req)
	if err != nil {
		return err
	}
	if c.jsonOut {
		outputJSON(resp)
		return nil
	}
	// Newest first from the store; print oldest first.
	for i := len(resp.Messages) - 1; i >= 0; i-- {
		m := resp.Messages[i]
		sender := m.SenderID
		if m.FromMe {
			sender = "me"
		}
		body := m.Body
		if m.FileID != "" && body == "" {
			body = "[File]"
		}
		ts := time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04")
		fmt.Printf("%s %-12s %s: %s\n", ts, m.MsgID, sender, body)
	}
	return nil
}

func (c *cli) search(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return usageError("search <query> [chat]")
	}
	req := &rpc.SearchRequest{Query: args[0]}
	if len(args) == 2 {
		req.ChatID = args[1]
	}
	ctx, cancel := c.ctx()
	defer cancel()
	resp, err := c.client.Search(ctx, req)
	if err != nil {
		return err
	}
	if c.jsonOut {
		outputJSON(resp)
		return nil
	}
	for _, r := range resp.Results {
		fmt.Printf("%-40s %-12s %s\n", r.Message.ChatID, r.Message.MsgID, r.Snippet)
	}
	return nil
}

func (c *cli) contacts(args []string) error {
	if len(args) == 1 && args[0] == "sync" {
		return c.simple(c.client.RequestContacts, "Contact sync requested.")
	}
	if len(args) != 0 {
		return usageError("contacts [sync]")
	}
	ctx, cancel := c.ctx()
	defer cancel()
	resp, err := c.client.ListContacts(ctx)
	if err != nil {
		return err
	}
	if c.jsonOut {
		outputJSON(resp)
		return nil
	}
	for _, ct := range resp.Contacts {
		fmt.Printf("%-30s %-40s %s\n", ct.Name, ct.ID, ct.Phone)
	}
	return nil
}

func (c *cli) send(args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	quote := fs.String("quote", "", "id of the message to reply to")
	file := fs.String("file", "", "attach a file")
	wait := fs.Bool("wait", false, "wait until the message is sent")
	_ = fs.Parse(args)
	if fs.NArg() < 1 || fs.NArg() > 2 {
		return usageError("send [--quote id] [--file path] [--wait] <chat> <text>")
	}

	req := &rpc.SendRequest{ChatID: fs.Arg(0), QuotedID: *quote, Wait: *wait}
	if fs.NArg() == 2 {
		req.Text = fs.Arg(1)
	}
	if *file != "" {
		// The daemon reads the file from its own working directory.
		abs, err := filepath.Abs(*file)
		if err != nil {
			return err
		}
		req.FilePath = abs
	}

	ctx, cancel := c.ctx()
	defer cancel()
	resp, err := c.client.Send(ctx, req)
	if err != nil {
		return err
	}
	if c.jsonOut {
		outputJSON(resp)
		return nil
	}
	switch resp.Status {
	case store.OutboxSent:
		fmt.Printf("Sent %s (server id %s).\n", resp.ClientMsgID, resp.ServerMsgID)
	case store.OutboxFailed:
		return fmt.Errorf("send %s failed: %s", resp.ClientMsgID, resp.Error)
	default:
		fmt.Printf("Queued %s.\n", resp.ClientMsgID)
	}
	return nil
}

func (c *cli) download(args []string) error {
	if len(args) != 2 {
		return usageError("download <chat> <msg>")
	}
	ctx, cancel := c.ctx()
	defer cancel()
	resp, err := c.client.Download(ctx, &rpc.DownloadRequest{ChatID: args[0], MsgID: args[1]})
	if err != nil {
		return err
	}
	if c.jsonOut {
		outputJSON(resp)
		return nil
	}
	if resp.Path == "" {
		return fmt.Errorf("download failed (status %d)", resp.Status)
	}
	fmt.Println(resp.Path)
	return nil
}

func (c *cli) watch(args []string) error {
	req := &rpc.WatchRequest{}
	if len(args) > 0 {
		req.Namespace = args[0]
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := c.client.Watch(ctx, req, func(env *rpc.Envelope) error {
		if c.jsonOut {
			outputJSON(env)
			return nil
		}
		ts := time.UnixMilli(env.OccurredMs).Format("15:04:05.000")
		fmt.Printf("%s [%d] %-24s %s\n", ts, env.Account, env.Kind, env.Payload)
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
