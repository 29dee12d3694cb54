package main

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bcnelson/splunk-eam/internal/domain"
)

// credentialFlags collects per-request secrets and bundle switches. The
// secrets usually come from EAM_SPLUNK_PASSWORD and friends.
type credentialFlags struct {
	splunk        domain.SplunkCredentials
	splunkbase    domain.SplunkbaseCredentials
	clusterBundle bool
	shcBundle     bool
	fs            *pflag.FlagSet
}

func (c *credentialFlags) bind(fs *pflag.FlagSet, splunkbase, bundles bool) {
	c.fs = fs
	fs.StringVar(&c.splunk.Username, "splunk-username", "", "splunkd admin username")
	fs.StringVar(&c.splunk.Password, "splunk-password", "", "splunkd admin password")
	if splunkbase {
		fs.StringVar(&c.splunkbase.Username, "splunkbase-username", "", "Splunkbase account username")
		fs.StringVar(&c.splunkbase.Password, "splunkbase-password", "", "Splunkbase account password")
	}
	if bundles {
		fs.BoolVar(&c.clusterBundle, "cluster-bundle", true, "Apply the cluster bundle afterwards")
		fs.BoolVar(&c.shcBundle, "shc-bundle", true, "Apply the SHC bundle afterwards")
	}
}

// bundleOptions sends only the switches the user set, leaving server
// defaults in charge otherwise.
func (c *credentialFlags) bundleOptions() domain.BundleOptions {
	var o domain.BundleOptions
	if f := c.fs.Lookup("cluster-bundle"); f != nil && f.Changed {
		v := c.clusterBundle
		o.ApplyClusterBundle = &v
	}
	if f := c.fs.Lookup("shc-bundle"); f != nil && f.Changed {
		v := c.shcBundle
		o.ApplySHCBundle = &v
	}
	return o
}

func (c *credentialFlags) removeRequest() *domain.RemoveItemRequest {
	return &domain.RemoveItemRequest{
		SplunkCredentials:     c.splunk,
		SplunkbaseCredentials: c.splunkbase,
		BundleOptions:         c.bundleOptions(),
	}
}

func newIndexCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Create and remove indexes",
	}

	var creds credentialFlags
	var index domain.Index
	var dataType, batchFile string
	create := &cobra.Command{
		Use:   "create STACK_ID",
		Short: "Create one index, or a batch with --batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.authedClient()
			if err != nil {
				return err
			}
			if batchFile != "" {
				var indexes []domain.Index
				if err := readDocument(batchFile, &indexes); err != nil {
					return err
				}
				resp, err := c.CreateIndexes(cmd.Context(), args[0], &domain.BatchIndexesRequest{
					SplunkCredentials: creds.splunk,
					BundleOptions:     creds.bundleOptions(),
					Indexes:           indexes,
				})
				if err != nil {
					return err
				}
				if err := printResult(cmd.OutOrStdout(), opts.output, resp); err != nil {
					return err
				}
				return statusError(resp.Status)
			}
			if index.Name == "" {
				return errors.New("--name or --batch is required")
			}
			index.DataType = domain.IndexDataType(dataType)
			resp, err := c.CreateIndex(cmd.Context(), args[0], &domain.CreateIndexRequest{
				Index:             index,
				SplunkCredentials: creds.splunk,
				BundleOptions:     creds.bundleOptions(),
			})
			if err != nil {
				return err
			}
			if err := printResult(cmd.OutOrStdout(), opts.output, resp); err != nil {
				return err
			}
			return statusError(resp.Status)
		},
	}
	create.Flags().StringVar(&index.Name, "name", "", "Index name")
	create.Flags().Int64Var(&index.MaxDataSizeMB, "max-size-mb", 0, "maxDataSizeMB (server default when 0)")
	create.Flags().StringVar(&dataType, "datatype", "", "event or metric (server default when empty)")
	create.Flags().StringVar(&batchFile, "batch", "", "JSON or YAML list of indexes")
	creds.bind(create.Flags(), false, true)

	var removeCreds credentialFlags
	remove := &cobra.Command{
		Use:   "remove STACK_ID INDEX",
		Short: "Remove an index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.authedClient()
			if err != nil {
				return err
			}
			resp, err := c.RemoveIndex(cmd.Context(), args[0], args[1], removeCreds.removeRequest())
			if err != nil {
				return err
			}
			if err := printResult(cmd.OutOrStdout(), opts.output, resp); err != nil {
				return err
			}
			return statusError(resp.Status)
		},
	}
	removeCreds.bind(remove.Flags(), false, true)

	cmd.AddCommand(create, remove)
	return cmd
}

func newAppCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "app",
		Short: "Install and remove Splunkbase apps",
	}

	var creds credentialFlags
	var app domain.App
	var target, batchFile string
	install := &cobra.Command{
		Use:   "install STACK_ID",
		Short: "Install one app, or a batch with --batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.authedClient()
			if err != nil {
				return err
			}
			if batchFile != "" {
				var apps []domain.App
				if err := readDocument(batchFile, &apps); err != nil {
					return err
				}
				resp, err := c.InstallApps(cmd.Context(), args[0], &domain.BatchAppsRequest{
					SplunkbaseCredentials: creds.splunkbase,
					SplunkCredentials:     creds.splunk,
					BundleOptions:         creds.bundleOptions(),
					Apps:                  apps,
				})
				if err != nil {
					return err
				}
				if err := printResult(cmd.OutOrStdout(), opts.output, resp); err != nil {
					return err
				}
				return statusError(resp.Status)
			}
			if app.Name == "" || app.SourceID == "" || app.Version == "" {
				return errors.New("--name, --app-id and --version (or --batch) are required")
			}
			app.InstallTarget = domain.InstallTarget(target)
			resp, err := c.InstallApp(cmd.Context(), args[0], &domain.InstallAppRequest{
				App:                   app,
				SplunkbaseCredentials: creds.splunkbase,
				SplunkCredentials:     creds.splunk,
				BundleOptions:         creds.bundleOptions(),
			})
			if err != nil {
				return err
			}
			if err := printResult(cmd.OutOrStdout(), opts.output, resp); err != nil {
				return err
			}
			return statusError(resp.Status)
		},
	}
	install.Flags().StringVar(&app.Name, "name", "", "App folder name")
	install.Flags().StringVar(&app.SourceID, "app-id", "", "Splunkbase app id")
	install.Flags().StringVar(&app.Version, "version", "", "App version")
	install.Flags().StringVar(&target, "target", "", "Install target (server picks from topology when empty)")
	install.Flags().StringVar(&batchFile, "batch", "", "JSON or YAML list of apps")
	creds.bind(install.Flags(), true, true)

	var removeCreds credentialFlags
	remove := &cobra.Command{
		Use:   "remove STACK_ID APP",
		Short: "Remove an app",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.authedClient()
			if err != nil {
				return err
			}
			resp, err := c.RemoveApp(cmd.Context(), args[0], args[1], removeCreds.removeRequest())
			if err != nil {
				return err
			}
			if err := printResult(cmd.OutOrStdout(), opts.output, resp); err != nil {
				return err
			}
			return statusError(resp.Status)
		},
	}
	removeCreds.bind(remove.Flags(), false, true)

	cmd.AddCommand(install, remove)
	return cmd
}

func newOpCommand(opts *globalOptions) *cobra.Command {
	var creds credentialFlags
	var req domain.OperationRequest
	cmd := &cobra.Command{
		Use:   "op STACK_ID OPERATION",
		Short: "Run a named operation such as restart_splunk or apply_cluster_bundle",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, ok := domain.ParseNamedOperation(args[1])
			if !ok {
				return errors.New("unknown operation " + args[1])
			}
			c, err := opts.authedClient()
			if err != nil {
				return err
			}
			req.SplunkCredentials = creds.splunk
			resp, err := c.RunOperation(cmd.Context(), args[0], op, &req)
			if err != nil {
				return err
			}
			if err := printResult(cmd.OutOrStdout(), opts.output, resp); err != nil {
				return err
			}
			return statusError(resp.Status)
		},
	}
	cmd.Flags().StringVar(&req.Limit, "limit", "", "Comma-separated hosts (restart_splunk)")
	cmd.Flags().Int64Var(&req.HTTPMaxContentLength, "http-max-content-length", 0, "Value for shc_set_http_max_content")
	creds.bind(cmd.Flags(), false, false)
	return cmd
}
