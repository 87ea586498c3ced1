package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// CommandPlugin - одна команда верхнего уровня
type CommandPlugin interface {
	Meta() *cobra.Command
	Execute(cmd *cobra.Command, args []string) error
}

type CLI struct {
	rootCmd    *cobra.Command
	plugins    []CommandPlugin
	completion bool
}

func NewCLI(use, short string) *CLI {
	return &CLI{
		rootCmd: &cobra.Command{
			Use:           use,
			Short:         short,
			SilenceUsage:  true,
			SilenceErrors: true,
		},
		plugins: make([]CommandPlugin, 0, 10),
	}
}

// Root возвращает корневую команду для глобальных флагов и хуков
func (c *CLI) Root() *cobra.Command {
	return c.rootCmd
}

func (c *CLI) RegisterPlugin(p CommandPlugin) {
	c.plugins = append(c.plugins, p)
	cmd := p.Meta()
	cmd.RunE = p.Execute
	c.rootCmd.AddCommand(cmd)
}

// Plugins возвращает имена зарегистрированных команд
func (c *CLI) Plugins() []string {
	names := make([]string, 0, len(c.plugins))
	for _, plugin := range c.plugins {
		names = append(names, plugin.Meta().Name())
	}
	return names
}

func (c *CLI) initCompletion() {
	if c.completion {
		return
	}
	c.completion = true

	c.rootCmd.ValidArgsFunction = func(cmd *cobra.Command, args []string, toComplete string,
	) ([]string, cobra.ShellCompDirective) {
		return c.Plugins(), cobra.ShellCompDirectiveNoFileComp
	}
	completionCmd := &cobra.Command{
		Use:       "completion [bash|zsh|fish|powershell]",
		Short:     "Generate completion script",
		Long:      "Generate completion script for bash, zsh, fish, powershell",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			shell := "bash"
			if len(args) == 1 {
				shell = args[0]
			}
			switch shell {
			case "bash":
				return c.rootCmd.GenBashCompletion(cmd.OutOrStdout())
			case "zsh":
				return c.rootCmd.GenZshCompletion(cmd.OutOrStdout())
			case "fish":
				return c.rootCmd.GenFishCompletion(cmd.OutOrStdout(), true)
			case "powershell":
				return c.rootCmd.GenPowerShellCompletion(cmd.OutOrStdout())
			default:
				return fmt.Errorf("unsupported shell: %s", shell)
			}
		},
	}
	// source <(trafficrc completion zsh)
	c.rootCmd.AddCommand(completionCmd)
}

func (c *CLI) Run(ctx context.Context, args []string) error {
	c.initCompletion()
	c.rootCmd.SetArgs(args)
	return c.rootCmd.ExecuteContext(ctx)
}
