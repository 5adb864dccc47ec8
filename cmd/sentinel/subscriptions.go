package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"sentinel/internal/app"
	"sentinel/internal/domain"
	"sentinel/internal/storage"
)

var (
	userID    string
	frequency string
	channels  []string
	events    []string
	status    string
)

func addSubscriptionCommands(root *cobra.Command) {
	subscribeCmd := &cobra.Command{
		Use:   "subscribe <repo>",
		Short: "Subscribe a user to a repository (or reactivate an existing subscription)",
		Example: `  sentinel subscribe octo/hello --user alice --channel email=alice@example.com
  sentinel subscribe https://github.com/octo/hello --user ops --frequency weekly \
    --channel chat_webhook=https://hooks.slack.com/services/X --events commit,release`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				sub, created, err := a.Subscribe(ctx, app.SubscribeRequest{
					UserID:    userID,
					Repo:      args[0],
					Frequency: frequency,
					Channels:  channels,
					Events:    events,
				})
				if err != nil {
					return err
				}
				verb := "reactivated"
				if created {
					verb = "created"
				}
				fmt.Printf("%s subscription %s: %s %s -> %s (next due %s)\n",
					verb, sub.ID, sub.Repo, sub.Frequency, channelList(sub.Channels), sub.NextDueAt)
				return nil
			})
		},
	}
	subscribeCmd.Flags().StringVarP(&frequency, "frequency", "f", "daily", "daily, weekly or monthly")
	subscribeCmd.Flags().StringArrayVar(&channels, "channel", nil, "delivery target as kind=target (repeatable)")
	subscribeCmd.Flags().StringSliceVar(&events, "events", nil, "event kinds: commit, pull_request, issue, release (default all)")

	unsubscribeCmd := statusCommand("unsubscribe <repo>", "Cancel a subscription; its watermark is kept", domain.StatusCancelled)
	pauseCmd := statusCommand("pause <repo>", "Pause a subscription", domain.StatusPaused)
	resumeCmd := statusCommand("resume <repo>", "Resume a paused subscription", domain.StatusActive)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List subscriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var f storage.ListFilter
			f.UserID = strings.TrimSpace(userID)
			if status != "" {
				st, err := domain.ParseStatus(status)
				if err != nil {
					return err
				}
				f.Status = st
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				subs, err := a.List(ctx, f)
				if err != nil {
					return err
				}
				printSubscriptions(subs)
				return nil
			})
		},
	}
	listCmd.Flags().StringVar(&status, "status", "", "only active, paused or cancelled")

	for _, c := range []*cobra.Command{subscribeCmd, unsubscribeCmd, pauseCmd, resumeCmd} {
		c.Flags().StringVarP(&userID, "user", "u", "", "subscriber id")
		_ = c.MarkFlagRequired("user")
	}
	listCmd.Flags().StringVarP(&userID, "user", "u", "", "only this subscriber")

	root.AddCommand(subscribeCmd, unsubscribeCmd, pauseCmd, resumeCmd, listCmd)
}

func statusCommand(use, short string, st domain.Status) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				sub, err := a.SetStatus(ctx, userID, args[0], st)
				if err != nil {
					return err
				}
				fmt.Printf("%s %s: %s\n", sub.ID, sub.Repo, sub.Status)
				return nil
			})
		},
	}
}

func channelList(refs []domain.ChannelRef) string {
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}

func printSubscriptions(subs []domain.Subscription) {
	if len(subs) == 0 {
		fmt.Println("no subscriptions")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tREPO\tFREQ\tSTATUS\tEVENTS\tLAST END\tNEXT DUE\tCHANNELS")
	for _, s := range subs {
		last := "-"
		if s.HasRun() {
			last = s.LastWindowEnd.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.UserID, s.Repo, s.Frequency, s.Status, s.Filter, last, s.NextDueAt, channelList(s.Channels))
	}
	_ = w.Flush()
}
