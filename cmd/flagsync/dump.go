package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OrlandoBitencourt/flagsync"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var errNoConfig = errors.New("no config available")

func newDumpCmd(v *viper.Viper) *cobra.Command {
	var keysOnly bool

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Download the config and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd, v, flagsync.ModeManual)
			if err != nil {
				return err
			}
			defer client.Stop()

			cfg, err := client.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.IsEmpty() {
				if lastErr := client.LastRefreshError(); lastErr != nil {
					return fmt.Errorf("%w: %w", errNoConfig, lastErr)
				}
				return errNoConfig
			}

			out := cmd.OutOrStdout()
			if keysOnly {
				for _, key := range cfg.Keys() {
					fmt.Fprintln(out, key)
				}
				return nil
			}

			var buf bytes.Buffer
			if err := json.Indent(&buf, cfg.Raw, "", "  "); err != nil {
				return fmt.Errorf("failed to format config: %w", err)
			}
			buf.WriteByte('\n')
			_, err = buf.WriteTo(out)
			return err
		},
	}

	cmd.Flags().BoolVar(&keysOnly, "keys", false, "print only the flag keys")
	return cmd
}
