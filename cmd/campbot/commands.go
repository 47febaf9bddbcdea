package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/campbot/internal/auth"
	"github.com/MarcoPoloResearchLab/campbot/internal/batch"
	"github.com/MarcoPoloResearchLab/campbot/internal/config"
	"github.com/MarcoPoloResearchLab/campbot/internal/fixer"
	"github.com/MarcoPoloResearchLab/campbot/internal/processors"
	"github.com/MarcoPoloResearchLab/campbot/internal/remote"
	"github.com/MarcoPoloResearchLab/campbot/internal/rewrite"
	"github.com/MarcoPoloResearchLab/campbot/internal/server"
	"github.com/MarcoPoloResearchLab/campbot/internal/store"
	"github.com/MarcoPoloResearchLab/campbot/internal/syncer"
)

const (
	tokenIssuer   = "campbot"
	tokenAudience = "campbot-api"
)

const (
	syncModeHistory  = "history"
	syncModeSnapshot = "snapshot"
	syncModeAll      = "all"
)

func newSyncCommand() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Bring the local cache up to date with the contribution feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := openApp()
			if err != nil {
				return err
			}
			defer application.Close()
			return application.runSync(cmd.Context(), mode)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", syncModeAll, "What to synchronise: snapshot, history or all")
	return cmd
}

func (a *app) runSync(ctx context.Context, mode string) error {
	client, err := a.newClient()
	if err != nil {
		return err
	}
	synchronizer, err := syncer.New(syncer.Config{
		Store:      a.store,
		Feed:       client,
		Logger:     a.logger,
		BatchSize:  a.config.BatchSize,
		OldestDate: a.config.OldestDate,
	})
	if err != nil {
		return err
	}

	switch mode {
	case syncModeSnapshot, syncModeHistory, syncModeAll:
	default:
		return fmt.Errorf("unknown sync mode %q", mode)
	}
	if mode != syncModeHistory {
		if _, err := synchronizer.Complete(ctx); err != nil {
			return err
		}
	}
	if mode != syncModeSnapshot {
		if _, err := synchronizer.CompleteContributions(ctx); err != nil {
			return err
		}
	}
	return nil
}

func newSearchCommand() *cobra.Command {
	var (
		idsFile    string
		ignoreCase bool
		skipSync   bool
	)
	cmd := &cobra.Command{
		Use:   "search <pattern>",
		Short: "List cached locale fields matching a regular expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := openApp()
			if err != nil {
				return err
			}
			defer application.Close()

			if !skipSync {
				if err := application.runSync(cmd.Context(), syncModeAll); err != nil {
					return err
				}
			}
			return application.runSearch(cmd.Context(), cmd.OutOrStdout(), args[0], idsFile, ignoreCase)
		},
	}
	cmd.Flags().StringVar(&idsFile, "ids-file", "ids.txt", "Where to write the matching document ids")
	cmd.Flags().BoolVar(&ignoreCase, "ignore-case", false, "Match case-insensitively")
	cmd.Flags().BoolVar(&skipSync, "no-sync", false, "Search the cache as is, without synchronising first")
	return cmd
}

func (a *app) runSearch(ctx context.Context, out io.Writer, pattern, idsFile string, ignoreCase bool) error {
	matches, err := a.store.Search(ctx, pattern, store.SearchOptions{IgnoreCase: ignoreCase})
	if err != nil {
		return err
	}
	for _, match := range matches {
		line, err := batch.ReportLine(a.config.UIURL, match)
		if err != nil {
			a.logger.Warn("cannot report match", zap.Error(err), zap.Int64("document_id", match.DocumentID))
			continue
		}
		fmt.Fprintln(out, line)
	}

	file, err := os.Create(idsFile)
	if err != nil {
		return err
	}
	if err := batch.WriteIDs(file, batch.MatchKeys(matches)); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	a.logger.Info("search finished", zap.Int("matches", len(matches)), zap.String("ids_file", idsFile))
	return nil
}

func newFixMarkdownCommand() *cobra.Command {
	var (
		processorName    string
		replacementsPath string
		dryRun           bool
	)
	cmd := &cobra.Command{
		Use:   "fix-markdown <ids_file>",
		Short: "Re-fetch listed documents, rewrite their markdown and save them back",
		Long:  "Processors: " + strings.Join(processors.Names(), ", "),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := openApp()
			if err != nil {
				return err
			}
			defer application.Close()

			if replacementsPath == "" {
				replacementsPath = application.config.ReplacementsPath
			}
			processor, err := processors.Lookup(processorName, processors.Options{ReplacementsPath: replacementsPath})
			if err != nil {
				return err
			}
			return application.runFix(cmd.Context(), cmd.OutOrStdout(), args[0], processor, dryRun)
		},
	}
	cmd.Flags().StringVar(&processorName, "processor", "bbcode", "Processor to apply")
	cmd.Flags().StringVar(&replacementsPath, "replacements", "", "YAML rule file for the replacements processor")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the diffs without saving anything")
	return cmd
}

func (a *app) runFix(ctx context.Context, out io.Writer, idsFile string, processor processors.Processor, dryRun bool) error {
	file, err := os.Open(idsFile)
	if err != nil {
		return err
	}
	keys, err := batch.ReadIDs(file)
	_ = file.Close()
	if err != nil {
		return err
	}

	var client *remote.Client
	if dryRun {
		client, err = a.newClient()
	} else {
		client, err = a.newLoggedInClient(ctx)
	}
	if err != nil {
		return err
	}

	colour := isTerminal(out)
	fix, err := fixer.New(fixer.Config{
		Client:    client,
		Processor: processor,
		Comment:   processor.Comment,
		DryRun:    dryRun,
		Logger:    a.logger,
		OnChange: func(change fixer.FieldChange) {
			header, err := remote.DocumentURL(a.config.UIURL, change.Key.DocumentID, change.Key.Type, change.Lang)
			if err != nil {
				header = fmt.Sprintf("%d|%s %s", change.Key.DocumentID, change.Key.Type, change.Lang)
			}
			fmt.Fprintf(out, "* %s %s\n", header, change.Field)
			if err := rewrite.WriteDiff(out, change.Result.Diff, colour); err != nil {
				a.logger.Warn("cannot print diff", zap.Error(err))
			}
		},
	})
	if err != nil {
		return err
	}

	summary, err := fix.Run(ctx, keys)
	a.logger.Info("fix finished",
		zap.String("processor", processor.Name),
		zap.Int("processed", summary.Processed),
		zap.Int("changed", summary.Changed),
		zap.Int("saved", summary.Saved),
		zap.Int("failed", summary.Failed),
		zap.Bool("dry_run", dryRun))
	return err
}

func isTerminal(out io.Writer) bool {
	file, ok := out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the cache over a read-only HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := openApp()
			if err != nil {
				return err
			}
			defer application.Close()
			return application.runServer(cmd.Context())
		},
	}
}

func (a *app) runServer(ctx context.Context) error {
	deps := server.Dependencies{
		Cache:  a.store,
		UIURL:  a.config.UIURL,
		Logger: a.logger,
	}
	if strings.TrimSpace(a.config.SigningSecret) != "" {
		issuer, err := newTokenIssuer(a.config, 0)
		if err != nil {
			return err
		}
		deps.Tokens = issuer
	} else {
		a.logger.Warn("http.signing_secret is empty, the API is not protected")
	}

	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              a.config.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", zap.String("address", a.config.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newTokenCommand() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := newTokenIssuer(appConfig, ttl)
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.IssueToken(cmd.Context(), subject)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires in %s\n", time.Duration(expiresIn)*time.Second)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Who the token is for")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newTokenIssuer(appConfig config.AppConfig, ttl time.Duration) (*auth.TokenIssuer, error) {
	return auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        tokenIssuer,
		Audience:      tokenAudience,
		TokenTTL:      ttl,
	})
}
