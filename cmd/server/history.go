package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/huddle/internal/config"
	"github.com/Tyrowin/huddle/internal/store"
)

func historyCmd(a *app) *cobra.Command {
	var (
		channelID string
		limit     int
		before    string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print a channel's stored messages as JSON lines, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Store.Driver == config.StoreMemory {
				return errors.New("history needs a persistent store driver")
			}

			q := store.Query{ChannelID: channelID, Limit: limit}
			if before != "" {
				t, err := time.Parse(time.RFC3339Nano, before)
				if err != nil {
					return fmt.Errorf("parse --before: %w", err)
				}
				q.Before = &t
			}

			st, err := openStore(a.cfg.Store, a.log)
			if err != nil {
				return err
			}
			defer st.Close()

			msgs, err := st.Query(cmd.Context(), q)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, m := range msgs {
				if err := enc.Encode(m); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&channelID, "channel", "", "channel id")
	cmd.Flags().IntVar(&limit, "limit", store.DefaultLimit, "maximum messages to print (1-100)")
	cmd.Flags().StringVar(&before, "before", "", "only messages created before this RFC 3339 time")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}
