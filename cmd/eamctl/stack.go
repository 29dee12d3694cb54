package main

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bcnelson/splunk-eam/internal/domain"
	"github.com/bcnelson/splunk-eam/internal/inventory"
)

func newStackCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stack",
		Short: "Register, inspect, and delete stacks",
	}
	cmd.AddCommand(
		newStackCreateCommand(opts),
		&cobra.Command{
			Use:   "get STACK_ID",
			Short: "Show one stack",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := opts.authedClient()
				if err != nil {
					return err
				}
				stack, err := c.GetStack(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), opts.output, stack)
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List all stacks",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := opts.authedClient()
				if err != nil {
					return err
				}
				stacks, err := c.ListStacks(cmd.Context())
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), opts.output, stacks)
			},
		},
		&cobra.Command{
			Use:   "delete STACK_ID",
			Short: "Delete a stack with its inventory and key",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := opts.authedClient()
				if err != nil {
					return err
				}
				if err := c.DeleteStack(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "stack %s deleted\n", args[0])
				return err
			},
		},
		&cobra.Command{
			Use:   "lock STACK_ID",
			Short: "Show the operation currently holding the stack",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := opts.authedClient()
				if err != nil {
					return err
				}
				status, err := c.LockStatus(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), opts.output, status)
			},
		},
	)
	return cmd
}

func newStackCreateCommand(opts *globalOptions) *cobra.Command {
	var file string
	req := domain.CreateStackRequest{}
	var deploymentType string
	cmd := &cobra.Command{
		Use:   "create [STACK_ID]",
		Short: "Register a stack from flags or a JSON/YAML document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				if err := readDocument(file, &req); err != nil {
					return err
				}
			} else {
				req.DeploymentType = domain.DeploymentType(deploymentType)
			}
			if len(args) == 1 {
				req.StackID = args[0]
			}
			if req.StackID == "" {
				return errors.New("a stack id is required")
			}
			c, err := opts.authedClient()
			if err != nil {
				return err
			}
			stack, err := c.CreateStack(cmd.Context(), &req)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), opts.output, stack)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&file, "file", "f", "", "Stack document (JSON or YAML, - for stdin)")
	f.StringVar(&deploymentType, "deployment-type", string(domain.DeploymentStandalone), "standalone or distributed")
	f.BoolVar(&req.SHCCluster, "shc", false, "The stack runs a search head cluster")
	f.StringVar(&req.ClusterManagerNode, "cluster-manager", "", "Cluster manager host (distributed stacks)")
	f.StringVar(&req.SHCDeployerNode, "shc-deployer", "", "SHC deployer host")
	f.StringSliceVar(&req.SHCMembers, "shc-members", nil, "SHC member hosts")
	f.StringVar(&req.SplunkHome, "splunk-home", "", "Splunk installation directory")
	f.IntVar(&req.SplunkdPort, "splunkd-port", 0, "splunkd management port")
	f.StringVar(&req.SplunkUser, "splunk-user", "", "OS user owning the installation")
	f.StringVar(&req.SplunkGroup, "splunk-group", "", "OS group owning the installation")
	return cmd
}

func newInventoryCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Upload or show a stack's host inventory",
	}

	push := &cobra.Command{
		Use:   "push STACK_ID FILE",
		Short: "Replace the inventory from a JSON, YAML, or Ansible INI file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := loadInventory(args[1])
			if err != nil {
				return err
			}
			c, err := opts.authedClient()
			if err != nil {
				return err
			}
			if err := c.SetInventory(cmd.Context(), args[0], inv); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "inventory of %s replaced (%d hosts)\n", args[0], len(inv.Hosts()))
			return err
		},
	}

	var asINI bool
	get := &cobra.Command{
		Use:   "get STACK_ID",
		Short: "Show the stored inventory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.authedClient()
			if err != nil {
				return err
			}
			inv, err := c.GetInventory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asINI {
				return inventory.RenderINI(cmd.OutOrStdout(), inv)
			}
			return printResult(cmd.OutOrStdout(), opts.output, inv)
		},
	}
	get.Flags().BoolVar(&asINI, "ini", false, "Render as an Ansible INI inventory")

	cmd.AddCommand(push, get)
	return cmd
}

// loadInventory accepts structured documents by extension or a leading
// brace, and Ansible INI otherwise.
func loadInventory(path string) (domain.Inventory, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	structured := ext == ".json" || ext == ".yaml" || ext == ".yml" ||
		bytes.HasPrefix(bytes.TrimSpace(data), []byte("{"))
	if !structured {
		return inventory.ParseINI(bytes.NewReader(data))
	}
	var inv domain.Inventory
	if err := decodeDocument(path, data, &inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func newSSHKeyCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ssh-key",
		Short: "Manage the ssh private key automation connects with",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "push STACK_ID KEY_FILE",
		Short: "Upload a private key file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := readFile(args[1])
			if err != nil {
				return err
			}
			c, err := opts.authedClient()
			if err != nil {
				return err
			}
			if err := c.SetSSHKey(cmd.Context(), args[0], base64.StdEncoding.EncodeToString(key)); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "ssh key of %s replaced\n", args[0])
			return err
		},
	})
	return cmd
}
