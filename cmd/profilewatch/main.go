// Command profilewatch runs the change-detection pipeline against
// pre-fetched profile documents.
//
// Usage:
//
//	profilewatch monitor -user <name> [-inbox dir] [-config file]
//	profilewatch friends -user <name> [-inbox dir] [-config file]
//	profilewatch batch [-inbox dir] [-config file]
//	profilewatch queue status|add|reset [usernames...]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/profilewatch/profilewatch-go/pkg/core"
	"github.com/profilewatch/profilewatch-go/pkg/monitor"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "monitor":
		err = runMonitor(os.Args[2:])
	case "friends":
		err = runFriends(os.Args[2:])
	case "batch":
		err = runBatch(os.Args[2:])
	case "queue":
		err = runQueue(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatalf("profilewatch: %v", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: profilewatch <monitor|friends|batch|queue> [flags]")
}

// commonFlags registers the flags shared by all subcommands.
func commonFlags(fs *flag.FlagSet) (inbox, config *string) {
	inbox = fs.String("inbox", "./inbox", "directory of pre-fetched profile documents")
	config = fs.String("config", "", "JSON config file (default: environment)")
	return inbox, config
}

func loadConfig(path string) (*core.Config, error) {
	if path != "" {
		return core.LoadConfigFromJSON(path)
	}
	return core.LoadConfigFromEnv()
}

func newMonitor(inbox, configPath string) (*monitor.Monitor, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return monitor.NewMonitor(cfg, newInboxSource(inbox))
}

func runMonitor(args []string) error {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	inbox, config := commonFlags(fs)
	user := fs.String("user", "", "username to monitor")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return fmt.Errorf("monitor: -user is required")
	}

	m, err := newMonitor(*inbox, *config)
	if err != nil {
		return err
	}
	defer closeMonitor(m)

	result, err := m.Run(context.Background(), *user)
	if err != nil {
		return err
	}

	if result.Baseline {
		fmt.Printf("%s: baseline established\n", result.Username)
		return nil
	}
	fmt.Printf("%s: %d change(s), %d event(s)\n", result.Username, len(result.Changes), len(result.Events))
	for _, c := range result.Changes {
		fmt.Printf("  %s %s\n", c.Kind, c.Field)
	}
	return nil
}

func runFriends(args []string) error {
	fs := flag.NewFlagSet("friends", flag.ExitOnError)
	inbox, config := commonFlags(fs)
	user := fs.String("user", "", "username to analyze")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return fmt.Errorf("friends: -user is required")
	}

	m, err := newMonitor(*inbox, *config)
	if err != nil {
		return err
	}
	defer closeMonitor(m)

	result, err := m.RunFriends(context.Background(), *user)
	if err != nil {
		return err
	}

	a := result.Analysis
	fmt.Printf("%s: %d mutual, %d followers-only, %d following-only (%d enqueued)\n",
		a.Username, len(a.Categories.Mutual), len(a.Categories.FollowersOnly),
		len(a.Categories.FollowingOnly), result.Enqueued)
	for _, u := range a.Followers.Joined {
		fmt.Printf("  + follower %s\n", u)
	}
	for _, u := range a.Followers.Left {
		fmt.Printf("  - follower %s\n", u)
	}
	return nil
}

func runBatch(args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	inbox, config := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	m, err := newMonitor(*inbox, *config)
	if err != nil {
		return err
	}
	defer closeMonitor(m)

	result, err := m.ProcessBatch(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("batch: %d selected, %d succeeded, %d failed\n",
		result.Selected, result.Succeeded, result.Failed)
	return nil
}

func runQueue(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("queue: expected status, add or reset")
	}
	action := args[0]

	fs := flag.NewFlagSet("queue "+action, flag.ExitOnError)
	inbox, config := commonFlags(fs)
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	m, err := newMonitor(*inbox, *config)
	if err != nil {
		return err
	}
	defer closeMonitor(m)

	ctx := context.Background()
	switch action {
	case "status":
		stats, err := m.QueueStats(ctx)
		if err != nil {
			return err
		}
		entries, err := m.QueueEntries(ctx)
		if err != nil {
			return err
		}
		out := struct {
			Stats   map[core.QueueState]int `json:"stats"`
			Entries []core.QueueEntry       `json:"entries"`
		}{stats, entries}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "add":
		usernames := fs.Args()
		if len(usernames) == 0 {
			return fmt.Errorf("queue add: at least one username required")
		}
		added, err := m.AddToQueue(ctx, usernames)
		if err != nil {
			return err
		}
		fmt.Printf("queue: %d added\n", added)
		return nil
	case "reset":
		reset, err := m.ResetQueue(ctx, fs.Args()...)
		if err != nil {
			return err
		}
		fmt.Printf("queue: %d reset\n", reset)
		return nil
	default:
		return fmt.Errorf("queue: unknown action %q", action)
	}
}

func closeMonitor(m *monitor.Monitor) {
	if err := m.Close(); err != nil {
		log.Printf("Warning: failed to close monitor: %v", err)
	}
}
