package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/plate/internal/models"
	"github.com/marcus/plate/internal/output"
)

// settingKeys lists the settings record fields in display order
var settingKeys = []string{
	"syncEnabled", "encryptEnabled", "maxHistoryItems",
	"syncInterval", "retentionPeriod", "maxImageSize",
}

// canonicalSetting maps sync-enabled, sync_enabled, SYNCENABLED and the
// like to the record's field name.
func canonicalSetting(key string) (string, bool) {
	norm := strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(key))
	for _, k := range settingKeys {
		if strings.ToLower(k) == norm {
			return k, true
		}
	}
	return "", false
}

func settingValue(s models.Settings, key string) string {
	switch key {
	case "syncEnabled":
		return strconv.FormatBool(s.SyncEnabled)
	case "encryptEnabled":
		return strconv.FormatBool(s.EncryptEnabled)
	case "maxHistoryItems":
		return strconv.Itoa(s.MaxHistoryItems)
	case "syncInterval":
		return strconv.Itoa(s.SyncInterval)
	case "retentionPeriod":
		return strconv.Itoa(s.RetentionPeriod)
	case "maxImageSize":
		return strconv.Itoa(s.MaxImageSize)
	}
	return ""
}

func parseBool(val string) (bool, error) {
	switch strings.ToLower(val) {
	case "true", "1", "on", "yes":
		return true, nil
	case "false", "0", "off", "no":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q (use true/false)", val)
	}
}

// applySetting assigns the parsed value to key; validation of ranges is
// left to Settings.Validate.
func applySetting(s *models.Settings, key, val string) error {
	switch key {
	case "syncEnabled", "encryptEnabled":
		b, err := parseBool(val)
		if err != nil {
			return err
		}
		if key == "syncEnabled" {
			s.SyncEnabled = b
		} else {
			s.EncryptEnabled = b
		}
		return nil
	}

	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("%s: invalid number %q", key, val)
	}
	switch key {
	case "maxHistoryItems":
		s.MaxHistoryItems = n
	case "syncInterval":
		s.SyncInterval = n
	case "retentionPeriod":
		s.RetentionPeriod = n
	case "maxImageSize":
		s.MaxImageSize = n
	}
	return nil
}

var settingsCmd = &cobra.Command{
	Use:     "settings",
	Short:   "Show or change history and sync settings",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return settingsGetCmd.RunE(cmd, nil)
	},
}

var settingsGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print settings",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		be, err := openBackend()
		if err != nil {
			return err
		}
		defer be.Close()

		s, err := be.Settings()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if len(args) == 1 {
			key, ok := canonicalSetting(args[0])
			if !ok {
				return fmt.Errorf("unknown setting %q (valid: %s)", args[0], strings.Join(settingKeys, ", "))
			}
			fmt.Fprintln(out, settingValue(s, key))
			return nil
		}
		if jsonOut {
			return output.JSON(s)
		}
		for _, k := range settingKeys {
			fmt.Fprintf(out, "%-16s %s\n", k, settingValue(s, k))
		}
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting",
	Example: `  plate settings set maxHistoryItems 250
  plate settings set encrypt-enabled false
  plate settings set retentionPeriod 0    # keep entries forever`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, ok := canonicalSetting(args[0])
		if !ok {
			return fmt.Errorf("unknown setting %q (valid: %s)", args[0], strings.Join(settingKeys, ", "))
		}

		be, err := openBackend()
		if err != nil {
			return err
		}
		defer be.Close()

		s, err := be.Settings()
		if err != nil {
			return err
		}
		if err := applySetting(&s, key, args[1]); err != nil {
			return err
		}
		if err := s.Validate(); err != nil {
			return err
		}
		if err := be.SaveSettings(s); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, settingValue(s, key))
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsGetCmd, settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}
