// Command studyctl is a terminal client for study-api.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"study-mate/client"
	"study-mate/config"
	"study-mate/notify"
)

var Version = "dev"

// app holds the state shared by every command.
type app struct {
	envFile string
	apiURL  string
	token   string
	debug   bool
	alerts  bool

	cfg    *config.Config
	client *client.Client
	logger *log.Logger
}

func (a *app) loadConfig() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	cfg, err := config.Load(a.envFile)
	if err != nil {
		return nil, err
	}
	if a.apiURL != "" {
		cfg.Client.APIURL = a.apiURL
	}
	if a.token != "" {
		cfg.Client.Token = a.token
	}
	a.cfg = cfg
	return cfg, nil
}

// connect builds the API client. It is run before every command that talks
// to the server.
func (a *app) connect(cmd *cobra.Command, _ []string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Require(cfg.Client); err != nil {
		return err
	}
	if cfg.Client.Token == "" {
		return errors.New("no token: pass --token or set STUDY_TOKEN")
	}
	a.client = client.New(cfg.Client.APIURL, cfg.Client.Token)
	return nil
}

// notifier logs notices and, with --notify, also raises them in the
// terminal written to w.
func (a *app) notifier(w io.Writer) notify.Notifier {
	logged := notify.NewLogNotifier(a.logger)
	if !a.alerts {
		return logged
	}
	d := notify.NewDesktop(terminalAlert(w))
	d.SetPermission(true)
	return notify.Multi{logged, d}
}

// terminalAlert rings the bell and emits an OSC 9 desktop notification, which
// terminals without support ignore.
func terminalAlert(w io.Writer) func(notify.Notice) {
	var mu sync.Mutex
	return func(n notify.Notice) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "\a\x1b]9;%s: %s\x07", n.Title, strings.ReplaceAll(n.Body, "\x07", ""))
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{logger: log.New()}
	a.logger.SetOutput(os.Stderr)

	root := &cobra.Command{
		Use:           "studyctl",
		Short:         "Manage the study board, timer and settings",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if a.debug {
				a.logger.SetLevel(log.DebugLevel)
			}
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&a.envFile, "env-file", "", "dotenv file to load (default .env)")
	root.PersistentFlags().StringVar(&a.apiURL, "api-url", "", "study-api base URL (STUDY_API_URL)")
	root.PersistentFlags().StringVar(&a.token, "token", "", "bearer token (STUDY_TOKEN)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "verbose logging")
	root.PersistentFlags().BoolVar(&a.alerts, "notify", false, "raise terminal notifications for timer and board events")

	root.AddCommand(
		boardCmd(a),
		taskCmd(a),
		timerCmd(a),
		settingsCmd(a),
		statsCmd(a),
		watchCmd(a),
		tokenCmd(a),
	)
	return root
}

func main() {
	if err := newRootCmd(os.Stdout).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
