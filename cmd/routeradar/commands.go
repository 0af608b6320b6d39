package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mfreeman451/routeradar/pkg/api"
	"github.com/mfreeman451/routeradar/pkg/config"
	"github.com/mfreeman451/routeradar/pkg/db"
	"github.com/mfreeman451/routeradar/pkg/lifecycle"
	"github.com/mfreeman451/routeradar/pkg/models"
	"github.com/mfreeman451/routeradar/pkg/monitor"
	"github.com/mfreeman451/routeradar/pkg/vault"
)

var errEmptyInput = errors.New("no input on stdin")

type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "routeradar",
		Short:         "Router monitoring and alerting engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file (JSON or YAML)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "optional .env file with secrets")

	root.AddCommand(
		newRunCmd(opts),
		newCycleCmd(opts),
		newSweepCmd(opts),
		newAnalyzeCmd(opts),
		newVaultCmd(opts),
		newDeviceCmd(opts),
	)

	return root
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.configPath, o.envFile)
}

// withApp loads config, builds the app and hands it to fn.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := o.load()
	if err != nil {
		return err
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(cmd.Context(), a)
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the periodic monitoring and retention schedules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				svc := monitor.NewService(a.engine, monitor.ServiceConfig{
					PollInterval:  time.Duration(a.cfg.PollInterval),
					SweepInterval: time.Duration(a.cfg.SweepInterval),
					RetentionDays: a.cfg.RetentionDays,
				}, a.logger.With("component", "service"))

				server := api.NewAPIServer(a.cfg.ListenAddr, a.engine, a.store, a.metrics.Registry, a.logger)

				return lifecycle.RunServer(ctx, &lifecycle.ServerOptions{
					ServiceName: "routeradar",
					Services:    []lifecycle.Service{server, svc},
					Logger:      a.logger,
				})
			})
		},
	}
}

func newCycleCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run one monitoring cycle and print the summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.engine.RunMonitoringCycle(ctx)
				if err != nil {
					return err
				}

				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete alerts older than the retention horizon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				if !cmd.Flags().Changed("days") {
					days = a.cfg.RetentionDays
				}

				deleted, err := a.engine.RunRetentionSweep(ctx, days)
				if err != nil {
					return err
				}

				return printJSON(cmd.OutOrStdout(), map[string]int{"deleted": deleted})
			})
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "retention in days (default: retention_days from config)")

	return cmd
}

func newAnalyzeCmd(opts *rootOptions) *cobra.Command {
	var deviceID int64

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run AI log analysis for one device and store the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				c, err := a.engine.AnalyzeDeviceLogs(ctx, deviceID)
				if err != nil {
					return err
				}

				return printJSON(cmd.OutOrStdout(), c)
			})
		},
	}

	cmd.Flags().Int64Var(&deviceID, "device", 0, "device id")
	_ = cmd.MarkFlagRequired("device")

	return cmd
}

func newVaultCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Credential vault operations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt one line read from stdin with the primary key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			v, err := vault.New(cfg.Vault.Keys...)
			if err != nil {
				return err
			}

			plaintext, err := readLine(bufio.NewReader(cmd.InOrStdin()))
			if err != nil {
				return err
			}

			token, err := v.Encrypt(plaintext)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)

			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rotate",
		Short: "Re-encrypt every stored device credential under the primary key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				n, err := rotateCredentials(ctx, a.store, a.vault)
				if err != nil {
					return err
				}

				return printJSON(cmd.OutOrStdout(), map[string]int{"rotated": n})
			})
		},
	})

	return cmd
}

// rotateCredentials re-encrypts each device in its own transaction.
func rotateCredentials(ctx context.Context, store db.Service, v *vault.Vault) (int, error) {
	devices, err := store.ListDevices(ctx)
	if err != nil {
		return 0, err
	}

	rotated := 0

	for i := range devices {
		d := &devices[i]

		user, err := v.Rotate(d.EncryptedUsername)
		if err != nil {
			return rotated, fmt.Errorf("device %d: %w", d.ID, err)
		}

		pass, err := v.Rotate(d.EncryptedPassword)
		if err != nil {
			return rotated, fmt.Errorf("device %d: %w", d.ID, err)
		}

		tx, err := store.Begin(ctx)
		if err != nil {
			return rotated, err
		}

		if err := store.UpdateDeviceCredentials(ctx, tx, d.ID, user, pass); err != nil {
			db.Rollback(tx)

			return rotated, err
		}

		if err := tx.Commit(); err != nil {
			return rotated, fmt.Errorf("%w: %w", db.ErrDatabaseError, err)
		}

		rotated++
	}

	return rotated, nil
}

type deviceFlags struct {
	name     string
	address  string
	port     int
	owner    int64
	username string
	inactive bool
}

func newDeviceCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Register devices and check their credentials",
	}

	var add deviceFlags

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a device; the password is read from stdin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				password, err := readLine(bufio.NewReader(cmd.InOrStdin()))
				if err != nil {
					return err
				}

				id, err := addDevice(ctx, a.store, a.vault, &add, password)
				if err != nil {
					return err
				}

				return printJSON(cmd.OutOrStdout(), map[string]int64{"id": id})
			})
		},
	}

	addCmd.Flags().StringVar(&add.name, "name", "", "device name")
	addCmd.Flags().StringVar(&add.address, "address", "", "device address")
	addCmd.Flags().IntVar(&add.port, "port", models.DefaultAPIPort, "management port")
	addCmd.Flags().Int64Var(&add.owner, "owner", 0, "owner id")
	addCmd.Flags().StringVar(&add.username, "username", "", "login user")
	addCmd.Flags().BoolVar(&add.inactive, "inactive", false, "register without polling")

	for _, f := range []string{"name", "address", "username"} {
		_ = addCmd.MarkFlagRequired(f)
	}

	var test deviceFlags

	testCmd := &cobra.Command{
		Use:   "test",
		Short: "Check that a device accepts the given credentials; the password is read from stdin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				password, err := readLine(bufio.NewReader(cmd.InOrStdin()))
				if err != nil {
					return err
				}

				d := models.Device{Address: test.address, Port: test.port}
				if err := a.client.TestConnection(ctx, d.Endpoint(), test.username, password); err != nil {
					return err
				}

				_, err = fmt.Fprintln(cmd.OutOrStdout(), "ok")

				return err
			})
		},
	}

	testCmd.Flags().StringVar(&test.address, "address", "", "device address")
	testCmd.Flags().IntVar(&test.port, "port", models.DefaultAPIPort, "management port")
	testCmd.Flags().StringVar(&test.username, "username", "", "login user")

	for _, f := range []string{"address", "username"} {
		_ = testCmd.MarkFlagRequired(f)
	}

	cmd.AddCommand(addCmd, testCmd)

	return cmd
}

func addDevice(ctx context.Context, store db.Service, v *vault.Vault, f *deviceFlags, password string) (int64, error) {
	encUser, err := v.Encrypt(f.username)
	if err != nil {
		return 0, err
	}

	encPass, err := v.Encrypt(password)
	if err != nil {
		return 0, err
	}

	return store.CreateDevice(ctx, &models.Device{
		OwnerID:           f.owner,
		Name:              f.name,
		Address:           f.address,
		Port:              f.port,
		EncryptedUsername: encUser,
		EncryptedPassword: encPass,
		Active:            !f.inactive,
	})
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}

	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errEmptyInput
	}

	return line, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
