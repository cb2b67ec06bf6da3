package main

import (
	"bufio"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	pgzip "github.com/klauspost/pgzip"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/washgo/delivery/internal/domain/order"
	"github.com/washgo/delivery/internal/domain/pricing"
	"github.com/washgo/delivery/internal/repository"
)

var exportFlags struct {
	out      string
	statuses string
	from     string
	to       string
}

var exportOrdersCmd = &cobra.Command{
	Use:   "export-orders",
	Short: "Export orders as gzip-compressed JSON lines",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		f, err := exportFilter(exportFlags.statuses, exportFlags.from, exportFlags.to)
		if err != nil {
			return err
		}

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		orders, err := repository.NewOrderRepository(pool).List(ctx, f)
		if err != nil {
			return errors.Wrap(err, "list orders")
		}

		out := exportFlags.out
		if out == "" {
			out = "orders-" + time.Now().UTC().Format("20060102") + ".jsonl.gz"
		}
		if out == "-" {
			err = writeOrders(cmd.OutOrStdout(), orders)
		} else {
			var file *os.File
			if file, err = os.Create(out); err != nil {
				return errors.Wrap(err, "create output")
			}
			err = writeAndClose(file, orders)
		}
		if err != nil {
			return err
		}
		zctx.From(ctx).Info("Orders exported",
			zap.Int("count", len(orders)),
			zap.String("file", out),
		)
		return nil
	},
}

func init() {
	f := exportOrdersCmd.Flags()
	f.StringVarP(&exportFlags.out, "out", "o", "", `output file, "-" for stdout (default orders-YYYYMMDD.jsonl.gz)`)
	f.StringVar(&exportFlags.statuses, "status", "", "comma-separated statuses to include")
	f.StringVar(&exportFlags.from, "from", "", "earliest pickup date, YYYY-MM-DD")
	f.StringVar(&exportFlags.to, "to", "", "latest pickup date, YYYY-MM-DD")
}

func exportFilter(statuses, from, to string) (order.Filter, error) {
	var f order.Filter
	for _, raw := range strings.Split(statuses, ",") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		st, err := order.ParseStatus(raw)
		if err != nil {
			return f, err
		}
		f.Statuses = append(f.Statuses, st)
	}
	for _, d := range []struct {
		raw string
		dst *time.Time
	}{{from, &f.From}, {to, &f.To}} {
		if d.raw == "" {
			continue
		}
		t, err := time.Parse(time.DateOnly, d.raw)
		if err != nil {
			return f, errors.Wrapf(err, "parse date %q", d.raw)
		}
		*d.dst = t
	}
	return f, nil
}

// writeOrders streams one JSON object per line through a parallel gzip
// writer.
func writeOrders(w io.Writer, orders []order.Order) error {
	zw := pgzip.NewWriter(w)
	bw := bufio.NewWriter(zw)

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	for _, o := range orders {
		e.Reset()
		encodeOrder(e, o)
		if _, err := bw.Write(e.Bytes()); err != nil {
			return errors.Wrap(err, "write order")
		}
		if err := bw.WriteByte('\n'); err != nil {
			return errors.Wrap(err, "write order")
		}
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, "flush")
	}
	if err := zw.Close(); err != nil {
		return errors.Wrap(err, "close gzip")
	}
	return nil
}

// writeAndClose writes orders to wc and closes it. A failed close fails the
// export since buffered data may not have reached the file.
func writeAndClose(wc io.WriteCloser, orders []order.Order) error {
	if err := writeOrders(wc, orders); err != nil {
		_ = wc.Close()
		return err
	}
	if err := wc.Close(); err != nil {
		return errors.Wrap(err, "close output")
	}
	return nil
}

func encodeOrder(e *jx.Encoder, o order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(o.ID) })
		e.Field("user_id", func(e *jx.Encoder) { e.Int64(o.UserID) })
		e.Field("pickup_date", func(e *jx.Encoder) { e.Str(o.PickupDate.Format(time.DateOnly)) })
		e.Field("pickup_time", func(e *jx.Encoder) { e.Str(o.PickupTime.String()) })
		e.Field("location", func(e *jx.Encoder) { e.Str(o.Location) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("weight", func(e *jx.Encoder) { e.Str(o.Weight.String()) })
		e.Field("item_count", func(e *jx.Encoder) { e.Int(o.ItemCount) })
		e.Field("blankets", func(e *jx.Encoder) { e.Int(o.Blankets) })
		e.Field("pillows", func(e *jx.Encoder) { e.Int(o.Pillows) })
		e.Field("total", func(e *jx.Encoder) { e.Str(pricing.Display(o.Total)) })
		e.Field("first_time_discount", func(e *jx.Encoder) { e.Bool(o.FirstTimeDiscount) })
		e.Field("session_id", func(e *jx.Encoder) { e.Str(o.SessionID) })
		if !o.CreatedAt.IsZero() {
			e.Field("created_at", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339)) })
		}
	})
}
