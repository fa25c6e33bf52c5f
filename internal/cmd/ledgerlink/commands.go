package ledgerlink

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/louisbranch/ledgerlink/internal/client"
	"github.com/louisbranch/ledgerlink/internal/marshal"
	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
	"github.com/louisbranch/ledgerlink/internal/platform/grpc/pagination"
	"github.com/louisbranch/ledgerlink/internal/services/forums"
	"github.com/louisbranch/ledgerlink/internal/services/ledger"
	"github.com/louisbranch/ledgerlink/internal/services/nft"
)

type command struct {
	usage string
	run   func(ctx context.Context, c *client.Client, args []string, out io.Writer) error
}

var commands map[string]command

// init populates commands; a package-level initializer would form an
// initialization cycle through usageError.
func init() {
	commands = map[string]command{
		"whoami":   {usage: "whoami", run: whoami},
		"balance":  {usage: "balance [account]", run: balance},
		"items":    {usage: "items", run: items},
		"stats":    {usage: "stats", run: stats},
		"transfer": {usage: "transfer <to> <amount>", run: transfer},
		"mint":     {usage: "mint <name> <description>", run: mint},
		"threads":  {usage: "threads", run: threads},
	}
}

func commandNames() string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)
	return strings.Join(names, ", ")
}

func usageError(name string) error {
	return apperrors.Newf(apperrors.CodeValidation, "usage: ledgerlink %s", commands[name].usage)
}

func whoami(_ context.Context, c *client.Client, _ []string, out io.Writer) error {
	id := c.CurrentIdentity()
	if id == nil {
		_, err := fmt.Fprintln(out, "anonymous")
		return err
	}
	_, err := fmt.Fprintf(out, "%s\t%s\n", id.Principal(), marshal.NewAccount(id.Principal()))
	return err
}

func balance(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	var account marshal.Account
	switch len(args) {
	case 0:
		id := c.CurrentIdentity()
		if id == nil {
			return apperrors.New(apperrors.CodeAuthRequired, "balance of the current identity requires signing in")
		}
		account = marshal.NewAccount(id.Principal())
	case 1:
		parsed, err := marshal.ParseAccount(args[0])
		if err != nil {
			return err
		}
		account = parsed
	default:
		return usageError("balance")
	}
	amount, err := c.Balance(ctx, account)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, amount.Display())
	return err
}

func items(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	if len(args) != 0 {
		return usageError("items")
	}
	list, err := c.Items(ctx, pagination.Page{})
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tOWNER\tPRICE")
	for _, it := range list {
		price := "-"
		if p, ok := it.Price.Get(); ok {
			price = p.Display()
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", it.ID, it.Name, it.Owner, price)
	}
	return w.Flush()
}

func stats(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	if len(args) != 0 {
		return usageError("stats")
	}
	s, err := c.Stats(ctx)
	if err != nil {
		return err
	}
	floor := "-"
	if f, ok := s.FloorPrice.Get(); ok {
		floor = f.Display()
	}
	_, err = fmt.Fprintf(out, "supply %d\nowners %d\nfloor %s\nvolume %s\n", s.TotalSupply, s.Owners, floor, s.Volume.Display())
	return err
}

func transfer(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	if len(args) != 2 {
		return usageError("transfer")
	}
	to, err := marshal.ParseAccount(args[0])
	if err != nil {
		return err
	}
	amount, err := marshal.ParseAmount(args[1])
	if err != nil {
		return err
	}
	block, err := c.Transfer(ctx, ledger.Transfer{To: to, Amount: amount})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "block %d\n", block)
	return err
}

func mint(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	if len(args) != 2 {
		return usageError("mint")
	}
	id, err := c.Mint(ctx, nft.MintRequest{Name: args[0], Description: args[1]})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "item %d\n", id)
	return err
}

func threads(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	if len(args) != 0 {
		return usageError("threads")
	}
	list, err := c.Threads(ctx, forums.ThreadQuery{})
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tREPLIES\tITEM")
	for _, th := range list {
		item := "-"
		if id, ok := th.ItemID.Get(); ok {
			item = fmt.Sprint(id)
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", th.ID, th.Title, th.ReplyCount, item)
	}
	return w.Flush()
}
