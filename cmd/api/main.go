package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"backoffice-serverless/app"
	"backoffice-serverless/internal/config"
	"backoffice-serverless/internal/db"
	"backoffice-serverless/internal/password"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "backoffice",
		Short:         "Backoffice authentication service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newCleanupCmd())
	root.AddCommand(newHashPasswordCmd())
	root.AddCommand(newTempPasswordCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runtime, err := app.Build(ctx, app.Options{LoadDotEnv: true, RunMigrations: migrate})
			if err != nil {
				return err
			}
			defer runtime.Close()

			return serve(ctx, runtime)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending migrations before serving")
	return cmd
}

func serve(ctx context.Context, runtime *app.Runtime) error {
	logger := runtime.Logger
	server := &http.Server{
		Addr:              ":" + runtime.Config.Port,
		Handler:           runtime.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server_start", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("server_shutdown")
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server_failed", zap.Error(err))
		return err
	}
	return nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.LoadOptions{LoadDotEnv: true})
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return config.ErrMissingDatabase
			}
			logger := app.NewLogger(cfg)
			defer logger.Sync()

			database, err := app.OpenDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			applied, err := db.RunMigrations(cmd.Context(), database, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", len(applied))
			return nil
		},
	}
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Purge expired sessions and old login attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			runtime, err := app.Build(cmd.Context(), app.Options{LoadDotEnv: true})
			if err != nil {
				return err
			}
			defer runtime.Close()

			result, err := runtime.Cleanup.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d session(s), %d login attempt(s)\n",
				result.DeletedSessions, result.DeletedLoginAttempts)
			return nil
		},
	}
}

func newHashPasswordCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password for manual seeding (reads stdin when not a terminal)",
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := password.NewPolicy(password.Config{Cost: cost})
			if err != nil {
				return err
			}

			plain, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			strength := password.ScoreStrength(plain)
			fmt.Fprintf(cmd.ErrOrStderr(), "strength: %s (score %d)\n", strength.Tier, strength.Score)
			for _, s := range strength.Suggestions {
				fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", s)
			}
			if !strength.Valid {
				return errors.New("password does not meet the policy")
			}

			hash, err := policy.Hash(plain)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", password.DefaultCost, "bcrypt cost")
	return cmd
}

func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		first, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		fmt.Fprint(prompt, "Confirm: ")
		second, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		if string(first) != string(second) {
			return "", errors.New("passwords do not match")
		}
		return string(first), nil
	}

	raw, err := io.ReadAll(io.LimitReader(in, 4096))
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	plain := strings.TrimRight(string(raw), "\r\n")
	if plain == "" {
		return "", errors.New("empty password")
	}
	return plain, nil
}

func newTempPasswordCmd() *cobra.Command {
	var (
		count  int
		length int
	)
	cmd := &cobra.Command{
		Use:   "temp-password",
		Short: "Generate temporary passwords",
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := password.NewPolicy(password.Config{})
			if err != nil {
				return err
			}
			for i := 0; i < count; i++ {
				pw, err := policy.GenerateTemporary(length)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), pw)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "how many passwords to generate")
	cmd.Flags().IntVar(&length, "length", password.DefaultTempLength, "password length")
	return cmd
}
