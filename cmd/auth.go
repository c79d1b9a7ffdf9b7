package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/marcus/plate/internal/output"
	"github.com/marcus/plate/internal/syncclient"
	"github.com/marcus/plate/internal/syncconfig"
)

type credentials struct {
	Username string
	Password string
	Email    string
}

// promptCredentials fills in whatever flags left empty. Without a terminal
// the username must come from --username and the password from
// --password-stdin.
func promptCredentials(cmd *cobra.Command, withEmail bool) (credentials, error) {
	var c credentials
	c.Username, _ = cmd.Flags().GetString("username")
	if withEmail {
		c.Email, _ = cmd.Flags().GetString("email")
	}

	if fromStdin, _ := cmd.Flags().GetBool("password-stdin"); fromStdin {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return c, fmt.Errorf("read password: %w", err)
		}
		c.Password = strings.TrimRight(line, "\r\n")
	}

	if c.Username != "" && c.Password != "" {
		return c, nil
	}
	if !stdinIsTerminal() {
		return c, errors.New("username and password required: use --username and --password-stdin")
	}

	fields := []huh.Field{
		huh.NewInput().Title("Username").Value(&c.Username).Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("required")
			}
			return nil
		}),
		huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(&c.Password),
	}
	if withEmail && c.Email == "" {
		fields = append(fields, huh.NewInput().Title("Email (optional)").Value(&c.Email))
	}
	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return c, err
	}
	c.Username = strings.TrimSpace(c.Username)
	return c, nil
}

func addCredentialFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("username", "u", "", "account name")
	cmd.Flags().Bool("password-stdin", false, "read the password from stdin")
}

var loginCmd = &cobra.Command{
	Use:     "login",
	Short:   "Log in to the sync server",
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := promptCredentials(cmd, false)
		if err != nil {
			return err
		}

		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()
		engine, err := a.newEngine()
		if err != nil {
			return err
		}

		if _, err := engine.Login(context.Background(), creds.Username, creds.Password); err != nil {
			if errors.Is(err, syncclient.ErrUnauthorized) {
				return errors.New("invalid username or password")
			}
			return err
		}
		output.Success("Logged in as %s (device %s)", creds.Username, output.ShortID(engine.DeviceID()))
		if addr := a.cfg.Shell(); addr != "" && newRemoteBackend(addr).alive() {
			output.Warning("restart 'plate watch' to start syncing")
		}
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:     "register",
	Short:   "Create an account on the sync server",
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := promptCredentials(cmd, true)
		if err != nil {
			return err
		}

		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()
		engine, err := a.newEngine()
		if err != nil {
			return err
		}

		if err := engine.Register(context.Background(), creds.Username, creds.Password, creds.Email); err != nil {
			if errors.Is(err, syncclient.ErrConflict) {
				return fmt.Errorf("username %q is taken", creds.Username)
			}
			return err
		}
		output.Success("Registered %s on %s", creds.Username, a.cfg.ServerURL)
		fmt.Fprintln(cmd.OutOrStdout(), "Run 'plate login' to start syncing.")
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	Short:   "Forget the sync token (the device id is kept)",
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := syncconfig.ClearAuth(); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
		return nil
	},
}

func init() {
	addCredentialFlags(loginCmd)
	addCredentialFlags(registerCmd)
	registerCmd.Flags().String("email", "", "contact email")

	rootCmd.AddCommand(loginCmd, registerCmd, logoutCmd)
}
