package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"marketfeed/internal/config"
	"marketfeed/internal/deribit"
	"marketfeed/internal/logging"
)

type options struct {
	configPath string
	envFile    string
	baseURL    string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "trader",
		Short: "Place and inspect orders on Deribit",
		Long: `trader talks to the Deribit JSON-RPC API with the same CLIENT_ID and
CLIENT_SECRET the feed server uses. The endpoint and retry settings come
from the marketfeed configuration; --base-url overrides the endpoint.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", os.Getenv("MARKETFEED_CONFIG_FILE"), "YAML config file")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file with CLIENT_ID and CLIENT_SECRET")
	flags.StringVar(&opts.baseURL, "base-url", "", "Deribit API base URL override")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newBuyCmd(opts),
		newCancelCmd(opts),
		newEditCmd(opts),
		newBookCmd(opts),
		newPositionCmd(opts),
		newOrdersCmd(opts),
	)
	return cmd
}

// client builds a Deribit client from configuration. Private clients are
// authenticated before they are returned.
func (o *options) client(ctx context.Context, private bool) (*deribit.Client, error) {
	cfg, err := config.LoadConfigWithPrecedence(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(o.logLevel, false)
	if err != nil {
		return nil, err
	}

	baseURL := cfg.Deribit.BaseURL
	if o.baseURL != "" {
		baseURL = o.baseURL
	}

	client := deribit.NewClient(baseURL,
		deribit.WithTimeout(cfg.Deribit.Timeout),
		deribit.WithRetries(cfg.Deribit.MaxRetries, cfg.Deribit.RetryBackoff),
		deribit.WithLogger(logging.Component(logger, logging.ComponentDeribit)))
	if !private {
		return client, nil
	}

	creds, err := config.LoadCredentials(o.envFile)
	if err != nil {
		return nil, err
	}
	if _, err := client.Authenticate(ctx, creds.ClientID, creds.ClientSecret); err != nil {
		logger.Error("authentication failed", zap.String("base_url", baseURL), zap.Error(err))
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	return client, nil
}

func newBuyCmd(opts *options) *cobra.Command {
	var label string

	cmd := &cobra.Command{
		Use:   "buy <instrument> <amount> <price>",
		Short: "Place a limit buy order",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parsePositive("amount", args[1])
			if err != nil {
				return err
			}
			price, err := parsePositive("price", args[2])
			if err != nil {
				return err
			}

			client, err := opts.client(cmd.Context(), true)
			if err != nil {
				return err
			}
			result, err := client.Buy(cmd.Context(), deribit.OrderRequest{
				InstrumentName: args[0],
				Amount:         amount,
				Price:          price,
				Label:          label,
			})
			if err != nil {
				return fmt.Errorf("buy failed: %w", err)
			}

			printOrders(cmd.OutOrStdout(), []deribit.Order{result.Order})
			return nil
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "user label attached to the order")
	return cmd
}

func newCancelCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <order-id>",
		Short: "Cancel an open order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(cmd.Context(), true)
			if err != nil {
				return err
			}
			order, err := client.Cancel(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("cancel failed: %w", err)
			}

			printOrders(cmd.OutOrStdout(), []deribit.Order{*order})
			return nil
		},
	}
}

func newEditCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <order-id> <amount> <price>",
		Short: "Change the amount and price of an open order",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parsePositive("amount", args[1])
			if err != nil {
				return err
			}
			price, err := parsePositive("price", args[2])
			if err != nil {
				return err
			}

			client, err := opts.client(cmd.Context(), true)
			if err != nil {
				return err
			}
			result, err := client.Edit(cmd.Context(), args[0], amount, price)
			if err != nil {
				return fmt.Errorf("edit failed: %w", err)
			}

			printOrders(cmd.OutOrStdout(), []deribit.Order{result.Order})
			return nil
		},
	}
}

func newBookCmd(opts *options) *cobra.Command {
	var depth int

	cmd := &cobra.Command{
		Use:   "book <instrument>",
		Short: "Show the order book for an instrument",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(cmd.Context(), false)
			if err != nil {
				return err
			}
			book, err := client.GetOrderBook(cmd.Context(), args[0], depth)
			if err != nil {
				return fmt.Errorf("order book failed: %w", err)
			}

			printBook(cmd.OutOrStdout(), book)
			return nil
		},
	}

	cmd.Flags().IntVar(&depth, "depth", 5, "number of levels per side")
	return cmd
}

func newPositionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "position <instrument>",
		Short: "Show the position in an instrument",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(cmd.Context(), true)
			if err != nil {
				return err
			}
			position, err := client.GetPosition(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("position failed: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "INSTRUMENT\tDIRECTION\tSIZE\tAVG PRICE\tMARK PRICE\tLEVERAGE\tFLOATING PNL")
			fmt.Fprintf(w, "%s\t%s\t%g\t%g\t%g\t%g\t%g\n",
				position.InstrumentName,
				position.Direction,
				position.Size,
				position.AveragePrice,
				position.MarkPrice,
				position.Leverage,
				position.FloatingProfitLoss,
			)
			return w.Flush()
		},
	}
}

func newOrdersCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "orders",
		Short: "List open limit orders on futures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(cmd.Context(), true)
			if err != nil {
				return err
			}
			orders, err := client.GetOpenOrders(cmd.Context())
			if err != nil {
				return fmt.Errorf("open orders failed: %w", err)
			}

			if len(orders) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No open orders")
				return nil
			}
			printOrders(cmd.OutOrStdout(), orders)
			return nil
		},
	}
}

func printOrders(out io.Writer, orders []deribit.Order) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ORDER ID\tINSTRUMENT\tDIRECTION\tSTATE\tPRICE\tAMOUNT\tFILLED\tCREATED")

	for _, order := range orders {
		created := "-"
		if order.CreationTime > 0 {
			created = time.UnixMilli(order.CreationTime).UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%g\t%g\t%g\t%s\n",
			order.OrderID,
			order.InstrumentName,
			order.Direction,
			order.OrderState,
			order.Price,
			order.Amount,
			order.FilledAmount,
			created,
		)
	}
	_ = w.Flush()
}

func printBook(out io.Writer, book *deribit.OrderBook) {
	fmt.Fprintf(out, "%s  mark %g  index %g  state %s\n",
		book.InstrumentName, book.MarkPrice, book.IndexPrice, book.State)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "BID SIZE\tBID\tASK\tASK SIZE")

	rows := max(len(book.Bids), len(book.Asks))
	for i := 0; i < rows; i++ {
		bidSize, bid, ask, askSize := "", "", "", ""
		if i < len(book.Bids) {
			bid = strconv.FormatFloat(book.Bids[i][0], 'f', -1, 64)
			bidSize = strconv.FormatFloat(book.Bids[i][1], 'f', -1, 64)
		}
		if i < len(book.Asks) {
			ask = strconv.FormatFloat(book.Asks[i][0], 'f', -1, 64)
			askSize = strconv.FormatFloat(book.Asks[i][1], 'f', -1, 64)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", bidSize, bid, ask, askSize)
	}
	_ = w.Flush()
}

func parsePositive(name, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive number, got %q", name, raw)
	}
	return v, nil
}
