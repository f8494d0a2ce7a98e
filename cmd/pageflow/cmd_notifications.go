package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/user/pageflow/internal/session"
	"github.com/user/pageflow/internal/types"
)

func init() {
	rootCmd.AddCommand(notificationsCmd)
	notificationsCmd.AddCommand(notificationsListCmd, notificationsReadCmd, notificationsDeleteCmd, notificationsUnreadCmd)
}

func notifySession(cmd *cobra.Command) (*session.Session, error) {
	cfg := loadConfig()
	setupLogging(cfg)
	s := session.New(cfg)
	if !s.LoggedIn() {
		return nil, fmt.Errorf("not logged in (run: pageflow login)")
	}
	if err := s.NotifyClient.Reconcile(cmd.Context()); err != nil {
		return nil, fmt.Errorf("fetch notifications: %w", err)
	}
	return s, nil
}

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"notify"},
	Short:   "Manage notifications",
}

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent notifications",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := notifySession(cmd)
		if err != nil {
			return err
		}

		items := s.Notifications.List()
		if len(items) == 0 {
			fmt.Println("No notifications.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tCREATED\tTITLE")
		for _, n := range items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				n.EventID,
				n.Status,
				n.CreatedAt.Format("2006-01-02 15:04"),
				n.Title,
			)
		}
		return w.Flush()
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read <event-id>",
	Short: "Mark a notification read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := notifySession(cmd)
		if err != nil {
			return err
		}
		if err := s.NotifyClient.MarkRead(cmd.Context(), types.EventID(args[0])); err != nil {
			return fmt.Errorf("mark read: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Notification %s marked read.\n", args[0])
		return nil
	},
}

var notificationsDeleteCmd = &cobra.Command{
	Use:   "delete <event-id>",
	Short: "Delete a notification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := notifySession(cmd)
		if err != nil {
			return err
		}
		if err := s.NotifyClient.Delete(cmd.Context(), types.EventID(args[0])); err != nil {
			return fmt.Errorf("delete notification: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Notification %s deleted.\n", args[0])
		return nil
	},
}

var notificationsUnreadCmd = &cobra.Command{
	Use:   "unread",
	Short: "Show the unread count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := notifySession(cmd)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, s.Notifications.Unread())
		return nil
	},
}
