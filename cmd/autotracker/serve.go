package main

import (
	"fmt"
	"log"
	"net"

	"github.com/skratchdot/open-golang/open"
	"github.com/spf13/cobra"

	"tracker/engine"
	"tracker/util"
	"tracker/webui"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	var (
		opts        trackerOptions
		listen      string
		openBrowser bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Track a game and publish its state to a web page",
		Long: `Serve a status page and a websocket at /ws/ which pushes view model updates as
{"v":view,"m":model} and accepts commands as {"v":"tracker","c":command,"a":args}.

Commands: enable, disable, watch, unwatch, interval, mapping, clearCache.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.newTracker()
			if err != nil {
				return err
			}
			defer a.Close()

			c := engine.NewController(a)
			web := webui.NewWebServer(listen, c)
			c.NotifyViewTo(web)
			if err = opts.enable(c); err != nil {
				return err
			}

			l, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			url := fmt.Sprintf("http://%s/", l.Addr())
			log.Printf("serving on %s\n", url)
			go func() {
				if err := web.ServeListener(l); err != nil {
					log.Printf("serve: %v\n", err)
				}
			}()

			if openBrowser {
				if err := open.Start(url); err != nil {
					log.Println(err)
				}
			}

			return run(c, opts.tick, opts.duration)
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVar(&listen, "listen", util.GetOrDefault("TRACKER_WEB_LISTEN", "127.0.0.1:27637"), "address to serve on")
	cmd.Flags().BoolVar(&openBrowser, "open", false, "open the status page in a browser")

	return cmd
}
