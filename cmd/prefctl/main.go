// Command prefctl is a CLI client for the preference sync SDK.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/prefsync"
)

func usage() {
	fmt.Fprintf(os.Stderr, `prefctl
Usage:
  prefctl -base-url URL -api-key KEY [-dir DIR] <cmd> [args]

Commands:
  version
  whoami
  identify    -u <userId> [-token <jwt>]
  logout
  sync                                     (refresh schema + user state)
  list                                     (effective preferences/schedules)
  topics                                   (effective topics)
  toggle      -id <prefId> -on=<bool>
  schedule    -id <schedId> -on=<bool>
  set-time    -id <schedId> -time <HH:mm>
  channel     -ch <push|sms> -on=<bool>
  subscribe   -id <topicId>
  unsubscribe -id <topicId>
  token       -t <pushToken>
  phone       -n <number>
  perm        -status <authorized|denied|notDetermined|provisional|ephemeral>
  open                                     (log an app-open event)
`)
	os.Exit(2)
}

var (
	version   = "dev"
	buildDate = "unknown"
)

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

// main dispatches subcommands over one SDK session.
func main() {
	baseURL := flag.String("base-url", "http://localhost:8085", "preference service URL")
	apiKey := flag.String("api-key", os.Getenv("PREFSYNC_API_KEY"), "app credential")
	dir := flag.String("dir", "", "cache dir (default: user config dir)")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)

	if cmd == "version" {
		fmt.Printf("prefctl %s (%s)\n", version, buildDate)
		return
	}

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}

	sess, err := prefsync.Open(prefsync.Config{
		BaseURL:  *baseURL,
		APIKey:   *apiKey,
		CacheDir: *dir,
		Logger:   logger,
	})
	if err != nil {
		fail(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd {

	case "whoami":
		printJSON(map[string]any{
			"installId":       sess.InstallID(),
			"effectiveUserId": sess.EffectiveUserID(),
			"identified":      sess.IsIdentified(),
		})

	case "identify":
		fs := flag.NewFlagSet("identify", flag.ExitOnError)
		u := fs.String("u", "", "user id")
		token := fs.String("token", "", "identity-verification token")
		_ = fs.Parse(flag.Args()[1:])
		if *u == "" {
			fmt.Fprintln(os.Stderr, "need -u")
			os.Exit(1)
		}
		sess.Identify(*u, *token)
		fmt.Println("ok")

	case "logout":
		sess.Logout()
		fmt.Println("ok")

	case "sync":
		if err := sess.Refresh(ctx); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "list":
		v := sess.View()
		if !v.Loaded {
			fmt.Fprintln(os.Stderr, "no schema cached yet; run `prefctl sync` first")
			os.Exit(1)
		}
		printJSON(map[string]any{"preferences": v.Preferences, "schedules": v.Schedules})

	case "topics":
		v := sess.View()
		if !v.Loaded {
			fmt.Fprintln(os.Stderr, "no schema cached yet; run `prefctl sync` first")
			os.Exit(1)
		}
		printJSON(v.Topics)

	case "toggle":
		fs := flag.NewFlagSet("toggle", flag.ExitOnError)
		id := fs.String("id", "", "preference id")
		on := fs.Bool("on", true, "enabled")
		_ = fs.Parse(flag.Args()[1:])
		if *id == "" {
			fmt.Fprintln(os.Stderr, "need -id")
			os.Exit(1)
		}
		if err := sess.TogglePreference(*id, *on); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "schedule":
		fs := flag.NewFlagSet("schedule", flag.ExitOnError)
		id := fs.String("id", "", "schedule id")
		on := fs.Bool("on", true, "enabled")
		_ = fs.Parse(flag.Args()[1:])
		if *id == "" {
			fmt.Fprintln(os.Stderr, "need -id")
			os.Exit(1)
		}
		if err := sess.ToggleSchedule(*id, *on); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "set-time":
		fs := flag.NewFlagSet("set-time", flag.ExitOnError)
		id := fs.String("id", "", "schedule id")
		hhmm := fs.String("time", "", `delivery time "HH:mm"`)
		_ = fs.Parse(flag.Args()[1:])
		if *id == "" || *hhmm == "" {
			fmt.Fprintln(os.Stderr, "need -id and -time")
			os.Exit(1)
		}
		if err := sess.SetScheduleTime(*id, *hhmm); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "channel":
		fs := flag.NewFlagSet("channel", flag.ExitOnError)
		ch := fs.String("ch", "push", "channel (push|sms)")
		on := fs.Bool("on", true, "enabled")
		_ = fs.Parse(flag.Args()[1:])
		if err := sess.SetChannelEnabled(prefsync.Channel(*ch), *on); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "subscribe", "unsubscribe":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.String("id", "", "topic id")
		_ = fs.Parse(flag.Args()[1:])
		if *id == "" {
			fmt.Fprintln(os.Stderr, "need -id")
			os.Exit(1)
		}
		if err := sess.ToggleTopic(*id, cmd == "subscribe"); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "token":
		fs := flag.NewFlagSet("token", flag.ExitOnError)
		tok := fs.String("t", "", "push token")
		_ = fs.Parse(flag.Args()[1:])
		if *tok == "" {
			fmt.Fprintln(os.Stderr, "need -t")
			os.Exit(1)
		}
		sess.RegisterPushToken(*tok)
		fmt.Println("ok")

	case "phone":
		fs := flag.NewFlagSet("phone", flag.ExitOnError)
		n := fs.String("n", "", "phone number")
		_ = fs.Parse(flag.Args()[1:])
		if *n == "" {
			fmt.Fprintln(os.Stderr, "need -n")
			os.Exit(1)
		}
		sess.RegisterPhoneNumber(*n)
		fmt.Println("ok")

	case "perm":
		fs := flag.NewFlagSet("perm", flag.ExitOnError)
		status := fs.String("status", "", "OS permission status")
		_ = fs.Parse(flag.Args()[1:])
		if *status == "" {
			fmt.Fprintln(os.Stderr, "need -status")
			os.Exit(1)
		}
		if err := sess.SyncPermissionStatus(prefsync.OSPermission(*status)); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "open":
		sess.LogAppOpen(map[string]string{"source": "prefctl"})
		fmt.Println("ok")

	default:
		usage()
	}

	// Give fire-and-forget writes a moment to leave the process. Best effort
	// only: a write still in flight after the grace period is dropped on
	// exit, the same way a killed app drops one. The local cache already
	// holds the value, so the next sync converges.
	time.Sleep(150 * time.Millisecond)
}
