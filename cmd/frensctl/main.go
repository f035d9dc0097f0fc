// Package main provides frensctl, a command line client for the OnlyFrens API.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/IlyasAtabaev731/onlyfrens/internal/client"
	"github.com/IlyasAtabaev731/onlyfrens/internal/domain/models"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	server    string
	statePath string
	verbose   bool

	client *client.Client
	mirror *client.Mirror
}

func rootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "frensctl",
		Short: "Command line client for the OnlyFrens platform",
		Long: `Drive an OnlyFrens account from the terminal.

The session token and the last known account state are kept in a local
state file, so later commands reuse the login.

Examples:
  frensctl register alice <credential-id> --public-key <key>
  frensctl deposit 5
  frensctl tip creator1 2.5
  frensctl buy content-42 creator1 4 --name "Golden Frog"
`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	cmd.PersistentFlags().StringVar(&a.server, "server", envOr("ONLYFRENS_SERVER", "http://localhost:8080"), "API base URL")
	cmd.PersistentFlags().StringVar(&a.statePath, "state", defaultStatePath(), "Local state file")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log API calls")

	cmd.AddCommand(
		a.registerCmd(),
		a.loginCmd(),
		a.demoLoginCmd(),
		a.logoutCmd(),
		a.meCmd(),
		a.balanceCmd(),
		a.historyCmd(),
		a.depositCmd(),
		a.withdrawCmd(),
		a.tipCmd(),
		a.subscribeCmd(),
		a.buyCmd(),
		a.verifyCmd(),
		a.watchCmd(),
	)

	return cmd
}

func (a *app) init() error {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	a.client = client.New(a.server, logger)
	mirror, err := client.NewMirror(a.client, a.statePath, logger)
	if err != nil {
		return err
	}
	a.mirror = mirror
	return nil
}

func (a *app) registerCmd() *cobra.Command {
	var publicKey string
	cmd := &cobra.Command{
		Use:   "register <username> <credential-id>",
		Short: "Create an account for a passkey credential",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.Register(cmd.Context(), args[0], args[1], publicKey)
			if err != nil {
				return err
			}
			if err := a.mirror.SignedIn(resp); err != nil {
				return err
			}
			return printJSON(resp.User)
		},
	}
	cmd.Flags().StringVar(&publicKey, "public-key", "", "Passkey public key")
	return cmd
}

func (a *app) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <credential-id>",
		Short: "Sign in with a verified passkey credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.Login(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := a.mirror.SignedIn(resp); err != nil {
				return err
			}
			return printJSON(resp.User)
		},
	}
}

func (a *app) demoLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo-login <username>",
		Short: "Sign in by username on servers with demo login enabled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.DemoLogin(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := a.mirror.SignedIn(resp); err != nil {
				return err
			}
			return printJSON(resp.User)
		},
	}
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the local session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.Logout(cmd.Context()); err != nil {
				return err
			}
			return a.mirror.SignedOut()
		},
	}
}

func (a *app) meCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the account, refreshed from the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.mirror.Refresh(cmd.Context()); err != nil {
				return err
			}
			return printJSON(a.mirror.State().User)
		},
	}
}

func (a *app) balanceCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show the platform balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if offline {
				st := a.mirror.State()
				fmt.Printf("%s (as of %s)\n", st.User.PlatformBalance, st.SyncedAt.Format(time.RFC3339))
				return nil
			}
			resp, err := a.client.Balance(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(resp.PlatformBalance)
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Print the locally mirrored balance")
	return cmd
}

func (a *app) historyCmd() *cobra.Command {
	var (
		kind  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List account actions, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			actions, err := a.client.Actions(cmd.Context(), models.ActionKind(kind), limit)
			if err != nil {
				return err
			}
			for _, act := range actions {
				fmt.Printf("%s  %-12s %14s  %s\n",
					act.Timestamp.Format(time.RFC3339), act.Kind, models.FormatAmount(act.SignedAmount), act.Description)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Only this action kind (DEPOSIT, WITHDRAWAL, TIP, SUBSCRIPTION, NFT_PURCHASE)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Only the most recent N actions")
	return cmd
}

func (a *app) depositCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deposit <amount>",
		Short: "Move funds onto the platform balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[0])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[0], err)
			}
			resp, err := a.client.Deposit(cmd.Context(), amount)
			if err != nil {
				return err
			}
			return a.report(resp.Message, resp.NewBalance, a.mirror.ApplyAction(resp))
		},
	}
}

func (a *app) withdrawCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw <amount>",
		Short: "Move funds off the platform balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[0])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[0], err)
			}
			resp, err := a.client.Withdraw(cmd.Context(), amount)
			if err != nil {
				return err
			}
			return a.report(resp.Message, resp.NewBalance, a.mirror.ApplyAction(resp))
		},
	}
}

func (a *app) tipCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tip <creator-id> <amount>",
		Short: "Tip a creator",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[1], err)
			}
			resp, err := a.client.Tip(cmd.Context(), args[0], amount)
			if err != nil {
				return err
			}
			return a.report(resp.Message, resp.NewBalance, a.mirror.ApplyAction(resp))
		},
	}
}

func (a *app) subscribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe <creator-id> <price>",
		Short: "Subscribe to a creator for one month",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid price %q: %w", args[1], err)
			}
			resp, err := a.client.Subscribe(cmd.Context(), args[0], price)
			if err != nil {
				return err
			}
			return a.report(resp.Message, resp.NewBalance, a.mirror.ApplySubscription(resp))
		},
	}
}

func (a *app) buyCmd() *cobra.Command {
	var meta models.CollectibleMetadata
	cmd := &cobra.Command{
		Use:   "buy <content-id> <creator-id> <price>",
		Short: "Buy the collectible that unlocks premium content",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := decimal.NewFromString(args[2])
			if err != nil {
				return fmt.Errorf("invalid price %q: %w", args[2], err)
			}
			if meta.Name == "" {
				meta.Name = args[0]
			}
			resp, err := a.client.BuyNft(cmd.Context(), args[0], args[1], price, meta)
			if err != nil {
				return err
			}
			return a.report(resp.Message, resp.NewBalance, a.mirror.ApplyPurchase(resp))
		},
	}
	cmd.Flags().StringVar(&meta.Name, "name", "", "Collectible name")
	cmd.Flags().StringVar(&meta.Description, "description", "", "Collectible description")
	cmd.Flags().StringVar(&meta.ImageURL, "image", "", "Image URL")
	cmd.Flags().StringVar(&meta.PremiumContentURL, "content-url", "", "Premium content URL")
	cmd.Flags().StringVar(&meta.PremiumContentType, "content-type", "", "Premium content type")
	return cmd
}

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <nft-id>",
		Short: "Check access to the premium content behind a collectible",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.VerifyNft(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func (a *app) watchCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the local state file in sync until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := a.mirror.Refresh(ctx); err != nil {
				return err
			}
			a.mirror.Watch(ctx, interval)
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 15*time.Second, "Refresh interval")
	return cmd
}

// report prints an action outcome. A failed state write is reported after the server result.
func (a *app) report(msg, balance string, saveErr error) error {
	fmt.Printf("%s\nbalance: %s\n", msg, balance)
	if saveErr != nil {
		return fmt.Errorf("saving local state: %w", saveErr)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".onlyfrens-state.json"
	}
	return filepath.Join(dir, "onlyfrens", "state.json")
}
