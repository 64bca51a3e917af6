package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fitbounty/fitbounty/internal/command"
	"github.com/fitbounty/fitbounty/internal/identity"
	"github.com/fitbounty/fitbounty/pkg/client"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	apiURL  string
	cfgFile string
	asJSON  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fitctl",
	Short: "FitBounty operator CLI",
	Long: `fitctl inspects and administers a FitBounty bot.

It resolves commands offline, queries challenges and runs the admin
operations (progress, finish, delete) against the bot's HTTP API.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			viper.AddConfigPath(configDir())
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("fitctl")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if apiURL == "" {
			apiURL = viper.GetString("api_url")
		}
		if apiURL == "" {
			apiURL = "http://localhost:8080"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.fitctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "FitBounty API base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print raw JSON")

	rootCmd.AddCommand(parseCmd, statusCmd, getCmd, listCmd, needingCheckCmd, leaderboardCmd,
		progressCmd, finishCmd, deleteCmd, loginCmd, hashSecretCmd, versionCmd)
}

func configDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".fitctl")
}

func newClient() (*client.Client, error) {
	var opts []client.Option
	if tok := viper.GetString("token"); tok != "" {
		opts = append(opts, client.WithBearerToken(tok))
	}
	return client.New(apiURL, opts...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── parse ────────────────────────────────────────────────────────────────────

var (
	parseHandle string
	parseRemote bool
)

var parseCmd = &cobra.Command{
	Use:   "parse <text>",
	Short: "Resolve a message into a command without executing it",
	Long: `Parse runs the command resolution pipeline on text and prints the
result. Resolution happens locally unless --remote is given:

  fitctl parse "I have to do 20 pushups for 7 days or I owe @alice 1000 sats @fitbounty"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		if parseRemote {
			c, err := newClient()
			if err != nil {
				return err
			}
			res, err := c.Parse(context.Background(), text, nil)
			if err != nil {
				return err
			}
			return printJSON(res)
		}

		res := command.NewResolver(command.Config{BotHandle: parseHandle}).Resolve(text, nil)
		if res == nil {
			fmt.Println("ignored: message does not mention the bot")
			return nil
		}
		return printJSON(res)
	},
}

func init() {
	parseCmd.Flags().StringVar(&parseHandle, "handle", command.DefaultHandle, "bot handle to resolve against")
	parseCmd.Flags().BoolVar(&parseRemote, "remote", false, "resolve on the server via POST /api/v1/parse")
}

// ── queries ──────────────────────────────────────────────────────────────────

var statusCmd = &cobra.Command{
	Use:   "status <identity>",
	Short: "Show the open or most recent challenge of an identity (hex key or npub)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ch, err := c.UserChallenge(context.Background(), args[0])
		if errors.Is(err, client.ErrNotFound) {
			fmt.Println("No challenge found.")
			return nil
		}
		if err != nil {
			return err
		}
		return printChallenge(ch)
	},
}

var getCmd = &cobra.Command{
	Use:   "get <challenge-id>",
	Short: "Show one challenge",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ch, err := c.GetChallenge(context.Background(), args[0])
		if err != nil {
			return err
		}
		return printChallenge(ch)
	},
}

var (
	listStatus string
	listKind   string
	listOwner  string
	listLimit  int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List challenges, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		list, err := c.ListChallenges(context.Background(), client.ListOptions{
			Status: listStatus, Kind: listKind, Owner: listOwner, Limit: listLimit,
		})
		if err != nil {
			return err
		}
		return printChallengeTable(list)
	},
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (pending_payment, active, completed, failed, expired)")
	listCmd.Flags().StringVar(&listKind, "kind", "", "filter by kind (penalty_bet, bounty_challenge)")
	listCmd.Flags().StringVar(&listOwner, "owner", "", "filter by owner identity")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum number of results")
}

var needingCheckCmd = &cobra.Command{
	Use:   "needing-check",
	Short: "List active challenges whose end date has passed",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		list, err := c.NeedingCheck(context.Background())
		if err != nil {
			return err
		}
		return printChallengeTable(list)
	},
}

var leaderboardLimit int

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Show the top challengers",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		lb, err := c.Leaderboard(context.Background(), leaderboardLimit)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(lb)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "#\tOWNER\tCOMPLETED\tFAILED\tSATS EARNED")
		for i, e := range lb.Top {
			fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\n", i+1, e.Owner, e.Completed, e.Failed, e.SatsEarned)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\n%d challenges, %d%% success rate, %d sats earned\n", lb.Total, lb.SuccessRate, lb.TotalSatsEarned)
		return nil
	},
}

func init() {
	leaderboardCmd.Flags().IntVar(&leaderboardLimit, "limit", 10, "number of owners to show")
}

// ── admin ────────────────────────────────────────────────────────────────────

var (
	progressFailed bool
	progressProof  string
)

var progressCmd = &cobra.Command{
	Use:   "progress <challenge-id> <day>",
	Short: "Record the result of one challenge day (admin)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := strconv.Atoi(args[1])
		if err != nil || day < 1 {
			return fmt.Errorf("day must be a positive integer, got %q", args[1])
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ch, err := c.RecordProgress(context.Background(), args[0], day, !progressFailed, progressProof)
		if err != nil {
			return err
		}
		return printChallenge(ch)
	},
}

func init() {
	progressCmd.Flags().BoolVar(&progressFailed, "failed", false, "mark the day as missed")
	progressCmd.Flags().StringVar(&progressProof, "proof", "", "reference to the proof post")
}

var finishInvoice string

var finishCmd = &cobra.Command{
	Use:   "finish <challenge-id> <completed|failed>",
	Short: "Complete or fail an ended challenge, optionally paying out (admin)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		outcome := strings.ToLower(args[1])
		if outcome != "completed" && outcome != "failed" {
			return fmt.Errorf("outcome must be completed or failed, got %q", args[1])
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ch, err := c.Finish(context.Background(), args[0], outcome, finishInvoice)
		if err != nil {
			return err
		}
		return printChallenge(ch)
	},
}

func init() {
	finishCmd.Flags().StringVar(&finishInvoice, "invoice", "", "BOLT11 invoice to pay from escrow")
}

var deleteYes bool

var deleteCmd = &cobra.Command{
	Use:   "delete <challenge-id>",
	Short: "Permanently delete a challenge (admin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !deleteYes {
			fmt.Printf("Delete challenge %s? This cannot be undone. [y/N] ", args[0])
			reader := bufio.NewReader(os.Stdin)
			answer, _ := reader.ReadString('\n')
			if strings.ToLower(strings.TrimSpace(answer)) != "y" {
				fmt.Println("Aborted.")
				return nil
			}
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.DeleteChallenge(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Println("Deleted.")
		return nil
	},
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "skip confirmation")
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Exchange the admin secret for a session token and save it",
	Long: `Login reads the admin secret from FITCTL_ADMIN_SECRET or prompts for it,
then stores the issued token in the fitctl config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := viper.GetString("admin_secret")
		if secret == "" {
			fmt.Print("Admin secret: ")
			line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
			secret = strings.TrimSpace(line)
		}
		if secret == "" {
			return errors.New("admin secret is required")
		}

		c, err := client.New(apiURL)
		if err != nil {
			return err
		}
		token, err := c.AdminLogin(context.Background(), secret)
		if err != nil {
			return err
		}

		viper.Set("token", token)
		viper.Set("api_url", apiURL)
		path := viper.ConfigFileUsed()
		if path == "" {
			if err := os.MkdirAll(configDir(), 0o700); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			path = filepath.Join(configDir(), "config.yaml")
		}
		if err := viper.WriteConfigAs(path); err != nil {
			return fmt.Errorf("save token: %w", err)
		}
		fmt.Printf("Logged in. Token saved to %s\n", path)
		return nil
	},
}

var hashSecretCmd = &cobra.Command{
	Use:   "hash-secret <secret>",
	Short: "Print the bcrypt hash to use as admin.secret_hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := identity.HashSecret(args[0])
		if err != nil {
			return err
		}
		fmt.Println(h)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the fitctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("fitctl %s\n", version)
	},
}

// ── output ───────────────────────────────────────────────────────────────────

func printChallenge(ch *client.Challenge) error {
	if asJSON {
		return printJSON(ch)
	}
	done := 0
	for _, p := range ch.Progress {
		if p.Completed {
			done++
		}
	}
	fmt.Printf("ID:        %s\n", ch.ID)
	fmt.Printf("Kind:      %s\n", ch.Kind)
	fmt.Printf("Owner:     %s\n", ch.Owner)
	fmt.Printf("Status:    %s\n", ch.Status)
	fmt.Printf("Exercise:  %s\n", ch.Exercise.FullDescription)
	fmt.Printf("Progress:  %d/%d days\n", done, ch.Duration.Days)
	if ch.Duration.EndDate != nil {
		fmt.Printf("Ends:      %s\n", ch.Duration.EndDate.Local().Format(time.RFC1123))
	}
	if ch.Penalty != nil {
		fmt.Printf("Penalty:   %d sats to %s\n", ch.Penalty.AmountSats, ch.Penalty.Recipient)
	}
	if ch.Bounty != nil {
		fmt.Printf("Bounty:    %d sats from %d pledges\n", ch.Bounty.AmountSats, len(ch.Bounty.Pledges))
	}
	if ch.Escrow.PaymentRequest != "" && !ch.Escrow.Paid {
		fmt.Printf("Invoice:   %s\n", ch.Escrow.PaymentRequest)
	}
	if ch.Escrow.PayoutHash != "" {
		fmt.Printf("Payout:    %s\n", ch.Escrow.PayoutHash)
	}
	return nil
}

func printChallengeTable(list []client.Challenge) error {
	if asJSON {
		return printJSON(list)
	}
	if len(list) == 0 {
		fmt.Println("No challenges.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tOWNER\tSTATUS\tEXERCISE\tCREATED")
	for _, ch := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			ch.ID, ch.Owner, ch.Status, ch.Exercise.FullDescription, ch.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
