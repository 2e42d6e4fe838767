// BridgeClaw - Slack <-> Discord message bridge over Redis pub/sub
// License: MIT
//
// Copyright (c) 2026 BridgeClaw contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/bridgeclaw/cmd/bridgeclaw/internal"
	"github.com/tinyland-inc/bridgeclaw/cmd/bridgeclaw/internal/discord"
	"github.com/tinyland-inc/bridgeclaw/cmd/bridgeclaw/internal/slack"
	"github.com/tinyland-inc/bridgeclaw/cmd/bridgeclaw/internal/version"
)

func NewBridgeclawCommand() *cobra.Command {
	short := fmt.Sprintf("%s bridgeclaw - Slack/Discord bridge v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "bridgeclaw",
		Short:   short,
		Example: "bridgeclaw slack",
	}

	cmd.AddCommand(
		slack.NewSlackCommand(),
		discord.NewDiscordCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewBridgeclawCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
