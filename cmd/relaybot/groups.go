package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"relaybot/internal/domain"
	"relaybot/internal/store"
)

func groupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Manage registered chats",
		Long: `Only registered chats have their messages forwarded to the assistant. Other
chats are still recorded (see 'relaybot chats') so they can be registered later.
A running gateway picks up changes within a few seconds.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered chats",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, done, err := openStore()
			if err != nil {
				return err
			}
			defer done()

			groups := st.RegisteredGroups()
			if len(groups) == 0 {
				fmt.Println("No registered chats. Find a JID with 'relaybot chats' or /chatid, then 'relaybot groups add'.")
				return nil
			}
			fmt.Printf("%-28s %-16s %-24s %s\n", "JID", "FOLDER", "NAME", "ADDED")
			for _, jid := range store.SortedJIDs(groups) {
				g := groups[jid]
				fmt.Printf("%-28s %-16s %-24s %s\n", jid, g.Folder, g.Name, humanize.Time(g.AddedAt))
			}
			return nil
		},
	})

	var name, trigger string
	add := &cobra.Command{
		Use:   "add <jid> <folder>",
		Short: "Register a chat (e.g. tg:-1001234 family)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, done, err := openStore()
			if err != nil {
				return err
			}
			defer done()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if name == "" {
				name = chatName(ctx, st, args[0])
			}
			return st.AddGroup(ctx, args[0], domain.RegisteredGroup{
				Name:    name,
				Folder:  args[1],
				Trigger: trigger,
			})
		},
	}
	add.Flags().StringVar(&name, "name", "", "display name (default: the discovered chat name)")
	add.Flags().StringVar(&trigger, "trigger", "", "per-chat trigger recorded for the assistant")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <jid>",
		Short: "Unregister a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, done, err := openStore()
			if err != nil {
				return err
			}
			defer done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return st.RemoveGroup(ctx, args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Register every chat listed in a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, done, err := openStore()
			if err != nil {
				return err
			}
			defer done()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			n, err := st.ImportGroupsFile(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d registrations from %s\n", n, args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "export <file.yaml>",
		Short: "Write every registration to a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, done, err := openStore()
			if err != nil {
				return err
			}
			defer done()
			groups := st.RegisteredGroups()
			if err := store.WriteGroupsFile(args[0], groups); err != nil {
				return err
			}
			fmt.Printf("Exported %d registrations to %s\n", len(groups), args[0])
			return nil
		},
	})

	return cmd
}

// chatName looks up the discovered name for jid, if any.
func chatName(ctx context.Context, st *store.Store, jid string) string {
	chats, err := st.ListChats(ctx, 1000)
	if err != nil {
		return ""
	}
	for _, c := range chats {
		if c.ChatJID == jid {
			return c.Name
		}
	}
	return ""
}

func chatsCmd() *cobra.Command {
	var limit int
	var unregistered bool
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List discovered chats, most recently active first",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, done, err := openStore()
			if err != nil {
				return err
			}
			defer done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			chats, err := st.ListChats(ctx, limit)
			if err != nil {
				return err
			}
			groups := st.RegisteredGroups()
			fmt.Printf("%-28s %-28s %-4s %s\n", "JID", "NAME", "REG", "LAST ACTIVE")
			for _, c := range chats {
				_, reg := groups[c.ChatJID]
				if unregistered && reg {
					continue
				}
				mark := "-"
				if reg {
					mark = "yes"
				}
				fmt.Printf("%-28s %-28s %-4s %s\n", c.ChatJID, c.Name, mark, lastActive(c.LastMessageTime))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum chats to list")
	cmd.Flags().BoolVar(&unregistered, "unregistered", false, "only list chats that are not registered")
	return cmd
}

func lastActive(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return humanize.Time(t)
}

func messagesCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "messages <jid>",
		Short: "Show recent forwarded messages for a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, done, err := openStore()
			if err != nil {
				return err
			}
			defer done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			msgs, err := st.RecentMessages(ctx, args[0], limit)
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				fmt.Printf("No messages stored for %s\n", args[0])
				return nil
			}
			for _, m := range msgs {
				fmt.Printf("[%s] %s: %s\n", m.Timestamp, m.SenderName, m.Content)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of messages")
	return cmd
}
