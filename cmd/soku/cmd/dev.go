package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bcentdev/soku/internal/config"
	"github.com/bcentdev/soku/internal/logger"
	"github.com/bcentdev/soku/pkg/api"
)

var (
	devRoot string
	devPort int
)

var devCmd = &cobra.Command{
	Use:   "dev",
	Short: "Start the dev server with HMR and rebuild on change",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if devPort <= 0 {
			return usageErrorf("--port must be a positive integer, got %d", devPort)
		}

		cfg, err := loadConfig(devRoot, "", "development")
		if err != nil {
			return err
		}
		env := config.LoadEnv(cfg.Root, cfg.Mode, logger.NewLog(logger.LevelWarning))

		ctx, err := api.NewContext(api.Options{
			BuildConfig: cfg,
			Env:         env,
			LogLevel:    logger.LevelInfo,
		})
		if err != nil {
			return fmt.Errorf("dev: %w", err)
		}

		hmrPort := devPort + 1
		hmrAddr := fmt.Sprintf("127.0.0.1:%d", hmrPort)
		hmrServer := &http.Server{Addr: hmrAddr, Handler: ctx.HmrHandler()}
		go func() {
			if err := hmrServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintln(cmd.ErrOrStderr(), "soku: hmr server:", err)
			}
		}()

		staticAddr := fmt.Sprintf("127.0.0.1:%d", devPort)
		staticServer := &http.Server{Addr: staticAddr, Handler: http.FileServer(http.Dir(cfg.OutDir))}
		go func() {
			if err := staticServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintln(cmd.ErrOrStderr(), "soku: dev server:", err)
			}
		}()

		fmt.Fprintf(cmd.OutOrStdout(), "dev server on http://%s watching %s, HMR on ws://%s\n", staticAddr, cfg.Root, hmrAddr)

		runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := ctx.Watch(runCtx); err != nil {
			return fmt.Errorf("dev: %w", err)
		}
		_ = hmrServer.Close()
		_ = staticServer.Close()
		return nil
	},
}

func init() {
	devCmd.Flags().StringVar(&devRoot, "root", ".", "project root directory")
	devCmd.Flags().IntVar(&devPort, "port", 3000, "dev server port (HMR binds to port+1)")
}
