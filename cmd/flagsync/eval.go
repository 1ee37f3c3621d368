package main

import (
	"encoding/json"
	"fmt"

	"github.com/OrlandoBitencourt/flagsync"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newEvalCmd(v *viper.Viper) *cobra.Command {
	var (
		identifier string
		email      string
		country    string
		custom     map[string]string
		fallback   string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "eval KEY",
		Short: "Evaluate a flag for a user",
		Example: `  flagsync eval new-checkout --api-key $KEY --identifier u-1 --email a@example.com
  flagsync eval theme --file flags.yaml --identifier u-1 --custom plan=pro`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd, v, flagsync.ModeManual)
			if err != nil {
				return err
			}
			defer client.Stop()

			ctx := cmd.Context()
			if _, err := client.Refresh(ctx); err != nil {
				return err
			}

			var user *flagsync.User
			if identifier != "" {
				opts := []flagsync.UserOption{flagsync.WithEmail(email), flagsync.WithCountry(country)}
				for name, value := range custom {
					opts = append(opts, flagsync.WithCustom(name, value))
				}
				user = flagsync.NewUser(identifier, opts...)
			}

			var def any
			if cmd.Flags().Changed("default") {
				def = fallback
			}

			detail := client.EvaluateDetail(ctx, args[0], def, user)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(detail)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), detail.String())
			return err
		},
	}

	cmd.Flags().StringVar(&identifier, "identifier", "", "user identifier, enables targeting and percentage rollouts")
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().StringVar(&country, "country", "", "user country")
	cmd.Flags().StringToStringVar(&custom, "custom", nil, "custom user attributes, e.g. --custom plan=pro")
	cmd.Flags().StringVar(&fallback, "default", "", "value returned when the flag cannot be evaluated")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the evaluation detail as JSON")

	return cmd
}
