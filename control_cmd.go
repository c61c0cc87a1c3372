package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"lanchat/client"
	"lanchat/protocol"
	"lanchat/server"

	"github.com/spf13/cobra"
)

func controlCommand(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := server.ControlRequest(socketPath, use)
			if err != nil {
				return err
			}
			printReply(cmd, use, reply)
			return nil
		},
	}
}

// printReply prints one list entry per line for list-shaped replies.
func printReply(cmd *cobra.Command, command, reply string) {
	out := cmd.OutOrStdout()
	switch command {
	case "stats":
		for _, field := range strings.Split(reply, ",") {
			fmt.Fprintln(out, field)
		}
	case "queues", "groups":
		if reply == "" {
			fmt.Fprintln(out, "(none)")
			return
		}
		for _, entry := range strings.Split(reply, ";") {
			fmt.Fprintln(out, entry)
		}
	default:
		fmt.Fprintln(out, reply)
	}
}

var (
	probeAddr     string
	probeID       string
	probePassword string
)

// probeCmd logs in as a regular client and prints what the server sends
// during initialization.
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Log in to a server and print users and groups",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.NewClient()
		if err := c.Connect(probeAddr); err != nil {
			return fmt.Errorf("connect to %s: %w", probeAddr, err)
		}
		defer c.Disconnect()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		if err := c.Login(probeID, probePassword); err != nil {
			return err
		}
		env, err := c.Next(ctx)
		if err != nil {
			return err
		}
		if env.Operation != protocol.OpLoginSuccess {
			return fmt.Errorf("login failed: %s", env.Operation)
		}

		if err := c.Send(protocol.Envelope{Operation: protocol.OpInitUser}); err != nil {
			return err
		}
		env, err = c.WaitFor(ctx, protocol.OpInitUser)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		ids := make([]string, 0, len(env.Data.Names))
		for id := range env.Data.Names {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(out, "user %s %s\n", id, env.Data.Names[id])
		}

		// the second InitUser reply marks the end of the group snapshots
		for _, op := range []protocol.Operation{protocol.OpInitGroup, protocol.OpInitUser} {
			if err := c.Send(protocol.Envelope{Operation: op}); err != nil {
				return err
			}
		}
		for {
			env, err := c.Next(ctx)
			if err != nil {
				return err
			}
			if env.Operation == protocol.OpInitUser {
				break
			}
			if g, ok := env.Data.AsGroup(); ok {
				fmt.Fprintf(out, "group %s %q owner=%s members=%s\n", g.ID, g.Name, g.Owner, strings.Join(g.Members, ","))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(
		controlCommand("stats", "Show connections, online users and pool usage"),
		controlCommand("queues", "Show inbound queue depth per session"),
		controlCommand("groups", "List groups with owners and members"),
		controlCommand("save", "Save the server state to the database"),
		controlCommand("shutdown", "Notify all clients and stop the server"),
		probeCmd,
	)

	probeCmd.Flags().StringVar(&probeAddr, "addr", "127.0.0.1:1145", "Server address")
	probeCmd.Flags().StringVar(&probeID, "id", "", "Account id")
	probeCmd.Flags().StringVar(&probePassword, "password", "", "Account password")
	probeCmd.MarkFlagRequired("id")
	probeCmd.MarkFlagRequired("password")
}
