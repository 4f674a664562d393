// Command posctl is the operator's terminal client for the POS backend. It
// logs in, browses stock and customers and submits prepared sale plans as a
// single voucher batch, saving one receipt image per voucher.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog"

	"smartpos/internal/allocator"
	"smartpos/internal/config"
	"smartpos/internal/domain"
	"smartpos/internal/logging"
	"smartpos/internal/posclient"
	"smartpos/internal/receipt"
	"smartpos/internal/workbench"
)

const usage = `usage: posctl <command> [flags]

commands:
  login      -u USER [-p PASS]          print a session token
  stock      [-name N] [-page P] [-limit L]
  customers  -search TERM
  stats                                 dashboard totals
  submit     -plan FILE                 submit a sale plan as one batch
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "posctl:", err)
		if errors.Is(err, posclient.ErrUnauthorized) {
			fmt.Fprintln(os.Stderr, "posctl: log in again and export POSCTL_TOKEN")
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return errors.New("missing command")
	}
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	logger := logging.New(logging.Options{ServiceName: "posctl", Level: cfg.LogLevel, Format: "console", Output: os.Stderr})
	ctx = logging.Into(ctx, logger)

	client, err := posclient.New(cfg.APIURL, posclient.WithTimeout(cfg.Timeout()))
	if err != nil {
		return err
	}
	if cfg.Token != "" {
		client = client.WithSession(posclient.Session{Token: cfg.Token})
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "login":
		return runLogin(ctx, client, rest, out)
	case "stock":
		return runStock(ctx, client, rest, out)
	case "customers":
		return runCustomers(ctx, client, rest, out)
	case "stats":
		return runStats(ctx, client, out)
	case "submit":
		return runSubmit(ctx, client, cfg, logger, rest, out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	}
	fmt.Fprint(out, usage)
	return fmt.Errorf("unknown command %q", cmd)
}

func runLogin(ctx context.Context, client *posclient.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	username := fs.String("u", "", "username")
	password := fs.String("p", os.Getenv("POSCTL_PASSWORD"), "password (defaults to $POSCTL_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*username) == "" || *password == "" {
		return errors.New("login needs -u and a password")
	}

	session, err := client.Login(ctx, *username, *password)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "logged in as %s (%s), expires %s\n", session.Username, session.Role, session.ExpiresAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(out, "export POSCTL_TOKEN=%s\n", session.Token)
	return nil
}

func runStock(ctx context.Context, client *posclient.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("stock", flag.ContinueOnError)
	name := fs.String("name", "", "name contains")
	page := fs.Int("page", 1, "page number")
	limit := fs.Int("limit", 20, "page size")
	if err := fs.Parse(args); err != nil {
		return err
	}

	result, err := client.ListStock(ctx, domain.StockQuery{Name: *name, Page: *page, Limit: *limit, SortBy: "name", SortOrder: "asc"})
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tQTY\tPRICE\tSALE\tSOLD")
	for _, item := range result.Items {
		sale := "-"
		if item.SalePrice != nil {
			sale = item.SalePrice.StringFixed(2)
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%d\n", item.ID, item.Name, item.Quantity, item.Price.StringFixed(2), sale, item.TotalSold)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "page %d of %d, %d items\n", result.Page, result.Pages(), result.Total)
	return nil
}

func runCustomers(ctx context.Context, client *posclient.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("customers", flag.ContinueOnError)
	search := fs.String("search", "", "name or phone, at least two characters")
	if err := fs.Parse(args); err != nil {
		return err
	}

	customers, err := client.SearchCustomers(ctx, *search)
	if err != nil {
		return err
	}
	if len(customers) == 0 {
		fmt.Fprintln(out, "no customers found")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPHONE\tPOINTS")
	for _, c := range customers {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", c.ID, c.Name, c.Phone, c.Points)
	}
	return tw.Flush()
}

func runStats(ctx context.Context, client *posclient.Client, out io.Writer) error {
	stats, err := client.DashboardStats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "revenue %s\nvouchers %d\ncustomers %d\nunits in stock %d\n",
		stats.TotalRevenue.StringFixed(2), stats.VouchersIssued, stats.NewCustomers, stats.ProductsInStock)
	return nil
}

func runSubmit(ctx context.Context, client *posclient.Client, cfg config.Client, logger zerolog.Logger, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	planPath := fs.String("plan", "", "sale plan JSON file")
	receiptDir := fs.String("receipts", cfg.ReceiptDir, "receipt output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *planPath == "" {
		return errors.New("submit needs -plan")
	}
	if _, ok := client.Session(); !ok {
		return posclient.ErrUnauthorized
	}

	p, err := readPlan(*planPath)
	if err != nil {
		return err
	}
	exporter, err := receipt.NewDirExporter(*receiptDir, receipt.DefaultHeader())
	if err != nil {
		return err
	}
	wb := workbench.New(client, client, workbench.WithExporter(exporter), workbench.WithLogger(logger))
	return submitPlan(ctx, wb, p, out)
}

func submitPlan(ctx context.Context, wb *workbench.Workbench, p plan, out io.Writer) error {
	adjustments, err := p.apply(ctx, wb)
	if err != nil {
		return err
	}
	for _, adj := range adjustments {
		if msg := adj.Warning(); msg != "" {
			fmt.Fprintln(out, "warning:", msg)
		}
	}
	return submitDrafts(ctx, wb, out)
}

// submitDrafts sends the workbench's drafts and prints one row per created
// voucher. A batch the server refuses prints nothing and keeps the drafts.
func submitDrafts(ctx context.Context, wb *workbench.Workbench, out io.Writer) error {
	result, err := wb.Submit(ctx)
	var shortage *allocator.ShortageError
	if errors.As(err, &shortage) {
		for _, s := range shortage.Shortages {
			fmt.Fprintln(out, "short:", s.String())
		}
	}
	if len(result.Vouchers) == 0 {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VOUCHER\tTOTAL\tDISCOUNT\tRECEIPT")
	for i, v := range result.Vouchers {
		path := result.Receipts[i]
		if path == "" {
			path = "(not saved)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.VoucherNumber, v.TotalAmount.StringFixed(2), v.TotalDiscount.StringFixed(2), path)
	}
	if flushErr := tw.Flush(); flushErr != nil {
		return errors.Join(err, flushErr)
	}
	return err
}
