package main

import (
	"bufio"
	"bytes"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/washgo/delivery/internal/domain/order"
)

func TestWriteOrders(t *testing.T) {
	orders := []order.Order{
		{
			ID: 1, UserID: 7, Status: order.StatusPaid,
			PickupDate: time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
			PickupTime: order.NewTimeOfDay(9, 30),
			Location:   "1 Main St",
			Weight:     decimal.RequireFromString("12.5"),
			Total:      decimal.RequireFromString("41.9"),
			SessionID:  "cs_1",
		},
		{
			ID: 2, UserID: 8, Status: order.StatusDelivered,
			PickupDate:        time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC),
			PickupTime:        order.NewTimeOfDay(14, 0),
			Total:             decimal.RequireFromString("30.40"),
			FirstTimeDiscount: true,
			SessionID:         "cs_2",
			CreatedAt:         time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, writeOrders(&buf, orders))

	zr, err := pgzip.NewReader(&buf)
	require.NoError(t, err)
	defer func() { _ = zr.Close() }()

	var lines []map[string]string
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		fields := map[string]string{}
		require.NoError(t, jx.DecodeBytes(sc.Bytes()).ObjBytes(func(d *jx.Decoder, key []byte) error {
			raw, err := d.Raw()
			fields[string(key)] = raw.String()
			return err
		}))
		lines = append(lines, fields)
	}
	require.NoError(t, sc.Err())
	require.Len(t, lines, 2)

	assert.Equal(t, `"41.90"`, lines[0]["total"])
	assert.Equal(t, `"09:30"`, lines[0]["pickup_time"])
	assert.Equal(t, `"12.5"`, lines[0]["weight"])
	assert.NotContains(t, lines[0], "created_at")

	assert.Equal(t, `"Delivered"`, lines[1]["status"])
	assert.Equal(t, "true", lines[1]["first_time_discount"])
	assert.Equal(t, `"2025-06-01T08:00:00Z"`, lines[1]["created_at"])
}

func TestWriteOrders_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeOrders(&buf, nil))

	zr, err := pgzip.NewReader(&buf)
	require.NoError(t, err)
	var out bytes.Buffer
	_, err = out.ReadFrom(zr)
	require.NoError(t, err)
	assert.Zero(t, out.Len())
}

type closeRecorder struct {
	bytes.Buffer
	closeErr error
	closed   int
}

func (c *closeRecorder) Close() error {
	c.closed++
	return c.closeErr
}

func TestWriteAndClose(t *testing.T) {
	orders := []order.Order{{ID: 1, Status: order.StatusPaid, Total: decimal.RequireFromString("38")}}

	t.Run("ok", func(t *testing.T) {
		var out closeRecorder
		require.NoError(t, writeAndClose(&out, orders))
		assert.Equal(t, 1, out.closed)
		assert.NotZero(t, out.Len())
	})
	t.Run("close fails", func(t *testing.T) {
		out := closeRecorder{closeErr: errors.New("no space left on device")}
		err := writeAndClose(&out, orders)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "close output")
		assert.Equal(t, 1, out.closed)
	})
}

func TestExportFilter(t *testing.T) {
	f, err := exportFilter("paid, ready_for_delivery,", "2025-06-01", "")
	require.NoError(t, err)
	assert.Equal(t, []order.Status{order.StatusPaid, order.StatusReadyForDelivery}, f.Statuses)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), f.From)
	assert.True(t, f.To.IsZero())

	_, err = exportFilter("lost", "", "")
	require.ErrorIs(t, err, order.ErrUnknownStatus)

	_, err = exportFilter("", "", "06/30/2025")
	require.Error(t, err)
}

func TestResolveDatabaseURL(t *testing.T) {
	t.Setenv("WASHGO_DATABASE_URL", "")
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	databaseURL = ""
	t.Cleanup(func() { databaseURL = "" })

	url, err := resolveDatabaseURL()
	require.NoError(t, err)
	assert.Equal(t, "postgres://platform/db", url)

	databaseURL = "postgres://flag/db"
	url, err = resolveDatabaseURL()
	require.NoError(t, err)
	assert.Equal(t, "postgres://flag/db", url)

	databaseURL = ""
	t.Setenv("DATABASE_URL", "")
	_, err = resolveDatabaseURL()
	require.Error(t, err)
}
