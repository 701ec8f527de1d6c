package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gemx-cli/gemx/internal/config"
	"github.com/gemx-cli/gemx/internal/mcp"
)

// mcpCommand groups MCP server management subcommands.
func mcpCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Manage MCP tool servers",
	}
	cmd.AddCommand(mcpAddCommand())
	cmd.AddCommand(mcpListCommand())
	cmd.AddCommand(mcpRemoveCommand())
	cmd.AddCommand(mcpSetEnabledCommand("enable", true))
	cmd.AddCommand(mcpSetEnabledCommand("disable", false))
	cmd.AddCommand(mcpToolsCommand())
	return cmd
}

// loadServersFile reads the server configuration from the state directory.
func loadServersFile() (string, *mcp.ServersFile, error) {
	path, err := config.ServersPath()
	if err != nil {
		return "", nil, err
	}
	file, err := mcp.LoadServers(path)
	if err != nil {
		return "", nil, err
	}
	return path, file, nil
}

func mcpAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name> <command> [args...]",
		Short: "Register an MCP server",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, file, err := loadServersFile()
			if err != nil {
				return err
			}
			name := args[0]
			if file.Find(name) >= 0 {
				return fmt.Errorf("server %q already registered", name)
			}
			file.Servers = append(file.Servers, mcp.ServerConfig{
				Name:    name,
				Command: args[1],
				Args:    args[2:],
				Enabled: true,
			})
			if err := mcp.SaveServers(path, file); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Added %s.\n", name)
			return nil
		},
	}
}

func mcpListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered MCP servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, file, err := loadServersFile()
			if err != nil {
				return err
			}
			if len(file.Servers) == 0 {
				fmt.Fprintln(os.Stdout, "No MCP servers registered. Use `gemx mcp add`.")
				return nil
			}
			writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "NAME\tSTATE\tCOMMAND")
			for _, server := range file.Servers {
				state := "enabled"
				if !server.Enabled {
					state = "disabled"
				}
				command := server.Command
				for _, arg := range server.Args {
					command += " " + arg
				}
				fmt.Fprintf(writer, "%s\t%s\t%s\n", server.Name, state, command)
			}
			return writer.Flush()
		},
	}
}

func mcpRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Unregister an MCP server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, file, err := loadServersFile()
			if err != nil {
				return err
			}
			index := file.Find(args[0])
			if index < 0 {
				return fmt.Errorf("no server named %q", args[0])
			}
			file.Servers = append(file.Servers[:index], file.Servers[index+1:]...)
			if err := mcp.SaveServers(path, file); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Removed %s.\n", args[0])
			return nil
		},
	}
}

func mcpSetEnabledCommand(use string, enabled bool) *cobra.Command {
	label := strings.ToUpper(use[:1]) + use[1:]
	return &cobra.Command{
		Use:   use + " <name>",
		Short: label + " an MCP server without unregistering it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, file, err := loadServersFile()
			if err != nil {
				return err
			}
			index := file.Find(args[0])
			if index < 0 {
				return fmt.Errorf("no server named %q", args[0])
			}
			file.Servers[index].Enabled = enabled
			if err := mcp.SaveServers(path, file); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "%sd %s.\n", label, args[0])
			return nil
		},
	}
}

func mcpToolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Start enabled servers and list their tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			registry, cleanup, err := buildRegistry(ctx)
			if err != nil {
				return err
			}
			if registry == nil {
				fmt.Fprintln(os.Stdout, "No enabled MCP servers.")
				return nil
			}
			defer cleanup()

			tools := registry.Tools()
			if len(tools) == 0 {
				fmt.Fprintln(os.Stdout, "No tools advertised.")
				return nil
			}
			sort.Slice(tools, func(left, right int) bool {
				if tools[left].Server != tools[right].Server {
					return tools[left].Server < tools[right].Server
				}
				return tools[left].Name < tools[right].Name
			})
			writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "SERVER\tTOOL\tDESCRIPTION")
			for _, tool := range tools {
				fmt.Fprintf(writer, "%s\t%s\t%s\n", tool.Server, tool.Name, tool.Info.Description)
			}
			return writer.Flush()
		},
	}
}
