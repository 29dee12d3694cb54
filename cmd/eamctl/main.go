// main.go bootstraps eamctl: it builds the root Cobra command, binds flags to
// EAM_* environment variables through Viper, and executes with a
// signal-aware context.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/bcnelson/splunk-eam/internal/client"
	"github.com/bcnelson/splunk-eam/internal/domain"
)

// globalOptions are the connection settings shared by every subcommand.
type globalOptions struct {
	baseURL  string
	token    string
	insecure bool
	timeout  time.Duration
	output   string
}

func (o *globalOptions) client() (*client.Client, error) {
	if o.baseURL == "" {
		return nil, errors.New("--base-url (or EAM_BASE_URL) is required")
	}
	return client.New(o.baseURL, o.token,
		client.WithInsecure(o.insecure),
		client.WithTimeout(o.timeout),
	), nil
}

func (o *globalOptions) authedClient() (*client.Client, error) {
	if o.token == "" {
		return nil, errors.New("--token (or EAM_TOKEN) is required; run 'eamctl login' first")
	}
	return o.client()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	handleError(err)
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "eamctl",
		Short:         "Manage Splunk Enterprise stacks through the control-plane API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return bindViper(cmd)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "http://localhost:8443", "Control-plane API base URL")
	cmd.PersistentFlags().StringVar(&opts.token, "token", "", "Bearer token from 'eamctl login'")
	cmd.PersistentFlags().BoolVar(&opts.insecure, "insecure", false, "Skip TLS certificate verification")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Minute, "Per-request timeout; automation runs can be long")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "json", "Output format (json, yaml)")

	cmd.AddCommand(
		newLoginCommand(opts),
		newLogoutCommand(opts),
		newPasswordCommand(opts),
		newStackCommand(opts),
		newInventoryCommand(opts),
		newSSHKeyCommand(opts),
		newIndexCommand(opts),
		newAppCommand(opts),
		newOpCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

// bindViper lets every flag of the executing command, inherited ones
// included, be supplied as EAM_<FLAG_NAME> when not given on the command line.
func bindViper(cmd *cobra.Command) error {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix("EAM")
	v.AutomaticEnv()

	fs := cmd.Flags()
	if err := v.BindPFlags(fs); err != nil {
		return err
	}
	var setErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed || !v.IsSet(f.Name) || setErr != nil {
			return
		}
		if val := fmt.Sprintf("%v", v.Get(f.Name)); val != "" {
			if err := f.Value.Set(val); err != nil {
				setErr = fmt.Errorf("EAM_%s: %w", strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_")), err)
			}
		}
	})
	return setErr
}

func handleError(err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	message := err.Error()
	var apiErr *client.APIError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		message = fmt.Sprintf("%s\nHint: automation may still be running server-side; check 'eamctl stack lock'.", err)
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized:
		message = fmt.Sprintf("%s\nHint: the token was rejected. Run 'eamctl login' and export EAM_TOKEN.", err)
	case errors.As(err, &apiErr) && apiErr.Code == domain.ErrCodeOperationInProgress:
		message = fmt.Sprintf("%s\nHint: another operation holds the stack lock.", err)
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
}
