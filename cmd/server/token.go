package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/huddle/internal/identity"
	"github.com/Tyrowin/huddle/internal/voice"
)

func tokenCmd(a *app) *cobra.Command {
	var (
		userID       string
		displayName  string
		ttl          time.Duration
		voiceChannel string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a handshake token, or a voice token with --voice",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := identity.New(userID, displayName)
			if err != nil {
				return err
			}

			if voiceChannel != "" {
				v := a.cfg.Voice
				tok, err := voice.NewIssuer(v.URL, v.APIKey, v.APISecret, v.TokenTTL).Issue(id, voiceChannel)
				if err != nil {
					return err
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(tok)
			}

			if a.cfg.Auth.Secret == "" {
				return errors.New("HUDDLE_AUTH_SECRET is not set")
			}
			signed, err := identity.NewTokenAuthenticator(a.cfg.Auth.Secret, tokenIssuer).Issue(id, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), signed)
			return err
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id (token subject)")
	cmd.Flags().StringVar(&displayName, "name", "", "display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "handshake token lifetime")
	cmd.Flags().StringVar(&voiceChannel, "voice", "", "issue a voice token for this channel instead")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
