package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/user/pageflow/internal/session"
)

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)

	loginCmd.Flags().String("email", "", "account email (or PAGEFLOW_EMAIL)")
	loginCmd.Flags().String("password", "", "account password (or PAGEFLOW_PASSWORD)")
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate and store the session credential",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		if email == "" {
			email = os.Getenv("PAGEFLOW_EMAIL")
		}
		if password == "" {
			password = os.Getenv("PAGEFLOW_PASSWORD")
		}
		if email == "" || password == "" {
			return fmt.Errorf("email and password required (flags or PAGEFLOW_EMAIL/PAGEFLOW_PASSWORD)")
		}

		s := session.New(cfg)
		if err := s.Login(cmd.Context(), email, password); err != nil {
			return err
		}
		if sid, ok := s.Credentials.SubjectID(); ok {
			fmt.Fprintf(os.Stdout, "Logged in as %s.\n", sid)
		} else {
			fmt.Fprintln(os.Stdout, "Logged in.")
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and discard the stored credential",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		s := session.New(cfg)
		if !s.LoggedIn() {
			fmt.Fprintln(os.Stdout, "Not logged in.")
			return nil
		}
		s.Logout()
		fmt.Fprintln(os.Stdout, "Logged out.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current session subject",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		s := session.New(cfg)
		sid, ok := s.Credentials.SubjectID()
		if !ok {
			return fmt.Errorf("not logged in")
		}
		fmt.Fprintln(os.Stdout, sid)
		return nil
	},
}
