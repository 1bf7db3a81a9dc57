package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/chatlink/internal/api"
	"github.com/matheus3301/chatlink/internal/client"
	"github.com/matheus3301/chatlink/internal/session"
	"google.golang.org/protobuf/types/known/structpb"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	noStartFlag := flag.Bool("no-start", false, "do not start chatlinkd when it is not running")
	flag.Usage = printUsage
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fail(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c, err := client.New(session.SocketPath(sessionName))
	if err != nil {
		fail(fmt.Errorf("cannot connect to daemon for session %q: %w", sessionName, err))
	}
	defer func() { _ = c.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if !c.Probe(ctx) {
		if *noStartFlag {
			fail(fmt.Errorf("daemon not running for session %q", sessionName))
		}
		fmt.Fprintf(os.Stderr, "daemon not running for session %q, starting...\n", sessionName)
		if err := client.StartDaemon(sessionName); err != nil {
			fail(fmt.Errorf("failed to start daemon: %w", err))
		}
		if !c.WaitReady(ctx, 10*time.Second) {
			fail(errors.New("daemon did not become ready"))
		}
	}

	cli := &cli{rt: c.Realtime, jsonOut: *jsonFlag}
	cmd, rest := args[0], args[1:]
	if cmd == "watch" {
		err = cli.watch(ctx, rest)
	} else {
		callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		err = cli.run(callCtx, cmd, rest)
	}
	if err != nil {
		fail(err)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatlinkctl [--session <name>] [--json] [--no-start] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                          Show session status")
	fmt.Fprintln(os.Stderr, "  login <userId>                  Sign a user in and connect")
	fmt.Fprintln(os.Stderr, "  logout                          Sign out and disconnect")
	fmt.Fprintln(os.Stderr, "  chats [--cached] [--refresh]    Show the chat list")
	fmt.Fprintln(os.Stderr, "  thread [--wait d] <friendId>    Open a conversation and print it")
	fmt.Fprintln(os.Stderr, "  close <friendId>                Stop following a conversation")
	fmt.Fprintln(os.Stderr, "  send [--image url] [--queue] <friendId> <text>\n                                  Send a message")
	fmt.Fprintln(os.Stderr, "  read <friendId>                 Mark a conversation read")
	fmt.Fprintln(os.Stderr, "  search [--friend id] <query>    Search cached messages")
	fmt.Fprintln(os.Stderr, "  watch [prefix]                  Stream daemon events")
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

type cli struct {
	rt      *api.RealtimeClient
	jsonOut bool
	out     io.Writer
}

func (c *cli) stdout() io.Writer {
	if c.out != nil {
		return c.out
	}
	return os.Stdout
}

func (c *cli) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "status":
		resp, err := c.rt.GetStatus(ctx)
		return c.print(resp, err, printStatus)
	case "login":
		if len(args) != 1 {
			return errors.New("usage: chatlinkctl login <userId>")
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		req, err := api.LoginRequest(id)
		if err != nil {
			return err
		}
		resp, err := c.rt.Login(ctx, req)
		return c.print(resp, err, printStatus)
	case "logout":
		resp, err := c.rt.Logout(ctx)
		return c.print(resp, err, printStatus)
	case "chats":
		return c.chats(ctx, args)
	case "thread":
		return c.thread(ctx, args)
	case "close":
		id, err := friendArg(args, "close <friendId>")
		if err != nil {
			return err
		}
		req, err := api.FriendRequest(id, nil)
		if err != nil {
			return err
		}
		return c.rt.CloseThread(ctx, req)
	case "send":
		return c.send(ctx, args)
	case "read":
		id, err := friendArg(args, "read <friendId>")
		if err != nil {
			return err
		}
		req, err := api.FriendRequest(id, nil)
		if err != nil {
			return err
		}
		resp, err := c.rt.MarkRead(ctx, req)
		return c.print(resp, err, func(w io.Writer, s *structpb.Struct) {
			fmt.Fprintf(w, "Marked read: %v\n", api.BoolField(s, "sent"))
		})
	case "search":
		return c.search(ctx, args)
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func (c *cli) chats(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("chats", flag.ContinueOnError)
	cached := fs.Bool("cached", false, "read the local cache")
	refresh := fs.Bool("refresh", false, "ask the server for a fresh list first")
	limit := fs.Int("limit", 0, "maximum cached rows")
	if err := fs.Parse(args); err != nil {
		return err
	}
	req, err := structpb.NewStruct(map[string]any{"cached": *cached, "refresh": *refresh, "limit": *limit})
	if err != nil {
		return err
	}
	resp, err := c.rt.ListChats(ctx, req)
	return c.print(resp, err, printChats)
}

func (c *cli) thread(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("thread", flag.ContinueOnError)
	wait := fs.Duration("wait", 2*time.Second, "how long to wait for the server snapshot")
	id, err := parseFriendWithFlags(fs, args, "thread <friendId>")
	if err != nil {
		return err
	}
	req, err := api.FriendRequest(id, map[string]any{"waitMs": wait.Milliseconds()})
	if err != nil {
		return err
	}
	resp, err := c.rt.OpenThread(ctx, req)
	return c.print(resp, err, printThread)
}

func (c *cli) send(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	image := fs.String("image", "", "attachment URL; sends an image message")
	queue := fs.Bool("queue", false, "store in the outbox and send once connected")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) < 1 {
		return errors.New("usage: chatlinkctl send [--image url] [--queue] <friendId> <text>")
	}
	id, err := parseID(rest[0])
	if err != nil {
		return err
	}
	extra := map[string]any{
		"body":          strings.Join(rest[1:], " "),
		"attachmentUrl": *image,
		"queue":         *queue,
	}
	req, err := api.FriendRequest(id, extra)
	if err != nil {
		return err
	}
	resp, err := c.rt.SendMessage(ctx, req)
	return c.print(resp, err, func(w io.Writer, s *structpb.Struct) {
		if api.BoolField(s, "queued") {
			fmt.Fprintf(w, "Queued: %s\n", api.StringField(s, "clientMsgId"))
			return
		}
		if api.BoolField(s, "sent") {
			fmt.Fprintln(w, "Sent.")
			return
		}
		fmt.Fprintln(w, "Not sent: connection is not open (use --queue to send later).")
	})
}

func (c *cli) search(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	friend := fs.Int64("friend", 0, "limit to one conversation")
	limit := fs.Int("limit", 0, "maximum results")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("usage: chatlinkctl search [--friend id] <query>")
	}
	req, err := structpb.NewStruct(map[string]any{
		"query":    strings.Join(fs.Args(), " "),
		"friendId": *friend,
		"limit":    *limit,
	})
	if err != nil {
		return err
	}
	resp, err := c.rt.SearchMessages(ctx, req)
	return c.print(resp, err, printSearch)
}

func (c *cli) watch(ctx context.Context, args []string) error {
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}
	req, err := structpb.NewStruct(map[string]any{"prefix": prefix})
	if err != nil {
		return err
	}
	stream, err := c.rt.WatchEvents(ctx, req)
	if err != nil {
		return err
	}
	for {
		evt, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if c.jsonOut {
			outputJSON(c.stdout(), evt)
			continue
		}
		ts := time.UnixMilli(api.IntField(evt, "timestamp")).Format("15:04:05.000")
		payload, _ := json.Marshal(evt.GetFields()["payload"].GetStructValue().AsMap())
		fmt.Fprintf(c.stdout(), "%s %-28s %s\n", ts, api.StringField(evt, "kind"), payload)
	}
}

func (c *cli) print(resp *structpb.Struct, err error, human func(io.Writer, *structpb.Struct)) error {
	if err != nil {
		return err
	}
	if c.jsonOut {
		outputJSON(c.stdout(), resp)
		return nil
	}
	human(c.stdout(), resp)
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q: must be a positive integer", s)
	}
	return id, nil
}

func friendArg(args []string, usage string) (int64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("usage: chatlinkctl %s", usage)
	}
	return parseID(args[0])
}

func parseFriendWithFlags(fs *flag.FlagSet, args []string, usage string) (int64, error) {
	if err := fs.Parse(args); err != nil {
		return 0, err
	}
	return friendArg(fs.Args(), usage)
}

func printStatus(w io.Writer, s *structpb.Struct) {
	fmt.Fprintf(w, "Session:   %s\n", api.StringField(s, "session"))
	if id := api.IntField(s, "userId"); id > 0 {
		fmt.Fprintf(w, "User:      %d\n", id)
	} else {
		fmt.Fprintln(w, "User:      (signed out)")
	}
	fmt.Fprintf(w, "State:     %s\n", api.StringField(s, "state"))
	fmt.Fprintf(w, "Unread:    %d\n", api.IntField(s, "unread"))
	fmt.Fprintf(w, "Cache:     %d chats, %d messages, %d queued\n",
		api.IntField(s, "cachedChats"), api.IntField(s, "cachedMessages"), api.IntField(s, "pendingOutbox"))
}

func printChats(w io.Writer, s *structpb.Struct) {
	chats := api.ListField(s, "chats")
	if len(chats) == 0 {
		fmt.Fprintln(w, "No chats.")
		return
	}
	for _, ch := range chats {
		unread := ""
		if n := api.IntField(ch, "unreadCount"); n > 0 {
			unread = fmt.Sprintf("(%d)", n)
		}
		attach := ""
		if api.BoolField(ch, "hasAttachment") {
			attach = "[file] "
		}
		fmt.Fprintf(w, "%8d %-20s %-5s %5s %s%s\n",
			api.IntField(ch, "friendId"), api.StringField(ch, "friendName"),
			api.StringField(ch, "lastTimeStamp"), unread, attach, api.StringField(ch, "lastMessage"))
	}
	if api.StringField(s, "source") == "cache" {
		fmt.Fprintln(w, "(from cache)")
	}
}

func printThread(w io.Writer, s *structpb.Struct) {
	friendID := api.IntField(s, "friendId")
	msgs := api.ListField(s, "messages")
	if len(msgs) == 0 {
		fmt.Fprintln(w, "No messages.")
		return
	}
	for _, m := range msgs {
		who := "me"
		if api.IntField(m, "senderId") == friendID {
			who = strconv.FormatInt(friendID, 10)
		}
		body := api.StringField(m, "body")
		if files := api.StringField(m, "files"); files != "" {
			body = strings.TrimSpace(body + " [" + files + "]")
		}
		fmt.Fprintf(w, "%s %6s: %s (%s)\n",
			api.FormatMillis(api.IntField(m, "createdAt")), who, body, api.StringField(m, "status"))
	}
	if api.StringField(s, "source") == "cache" {
		fmt.Fprintln(w, "(from cache)")
	}
}

func printSearch(w io.Writer, s *structpb.Struct) {
	results := api.ListField(s, "results")
	if len(results) == 0 {
		fmt.Fprintln(w, "No matches.")
		return
	}
	for _, r := range results {
		fmt.Fprintf(w, "%s %8d: %s\n",
			api.FormatMillis(api.IntField(r, "createdAt")), api.IntField(r, "friendId"), api.StringField(r, "snippet"))
	}
}

func outputJSON(w io.Writer, s *structpb.Struct) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.AsMap()); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
