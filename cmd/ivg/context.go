package main

import (
	"context"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"ivg/internal/config"
	"ivg/internal/ipc"
)

type globalFlags struct {
	config string
	addr   string
	owner  string
	token  string
}

type commandContext struct {
	flags *globalFlags

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, _, err := config.Load(strings.TrimSpace(c.flags.config))
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = path
	})
	return c.config, c.configErr
}

// daemonAddr returns the address clients dial. A wildcard bind host is
// reached over loopback.
func (c *commandContext) daemonAddr() string {
	if addr := strings.TrimSpace(c.flags.addr); addr != "" {
		return addr
	}
	cfg, err := c.ensureConfig()
	if err != nil || cfg == nil {
		return ""
	}
	host, port, err := net.SplitHostPort(cfg.API.Bind)
	if err != nil {
		return cfg.API.Bind
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func (c *commandContext) clientOptions() ipc.Options {
	opts := ipc.Options{
		Token: strings.TrimSpace(c.flags.token),
		Owner: strings.TrimSpace(c.flags.owner),
	}
	if opts.Owner == "" {
		opts.Owner = strings.TrimSpace(os.Getenv("IVG_OWNER"))
	}
	if opts.Token == "" {
		if cfg, err := c.ensureConfig(); err == nil && cfg != nil {
			opts.Token = cfg.API.Token
		}
	}
	return opts
}

func (c *commandContext) withClient(cmd *cobra.Command, fn func(context.Context, *ipc.Client) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	client, err := ipc.Dial(ctx, c.daemonAddr(), c.clientOptions())
	if err != nil {
		return err
	}
	return fn(ctx, client)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
