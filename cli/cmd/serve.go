package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/loupe/server"
)

// ServeCommand returns the serve command.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the image upload routes over HTTP",
		Flags: joinFlags(
			[]cli.Flag{
				&cli.StringFlag{
					Name:  "listen",
					Usage: "Listen address (default :3000)",
				},
				&cli.StringFlag{
					Name:  "allowed-origins",
					Usage: "Access-Control-Allow-Origin value (default *)",
				},
			},
			RelayFlags(),
		),
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	s, err := newSetup(c, "server", false)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer s.close()

	listen := s.config.Server.Listen
	if c.IsSet("listen") {
		listen = c.String("listen")
	}
	origins := s.config.Server.AllowedOrigins
	if c.IsSet("allowed-origins") {
		origins = c.String("allowed-origins")
	}

	srv, err := server.New(server.Config{
		Forwarder:      s.forwarder,
		AllowedOrigins: origins,
		Logger:         s.logger,
		Metrics:        s.metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx, listen); err != nil {
		return cli.Exit(fmt.Sprintf("server failed: %v", err), 1)
	}
	return nil
}
