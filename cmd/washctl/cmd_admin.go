package main

import (
	"os"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/washgo/delivery/internal/domain/order"
	"github.com/washgo/delivery/internal/domain/user"
	"github.com/washgo/delivery/internal/repository"
)

var adminFlags struct {
	username string
	email    string
	phone    string
	password string
}

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an administrator account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		password := adminFlags.password
		if password == "" {
			password = os.Getenv("WASHGO_ADMIN_PASSWORD")
		}
		if password == "" {
			return errors.New("password is required: set --password or WASHGO_ADMIN_PASSWORD")
		}

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		passwords, err := user.NewPasswords(0)
		if err != nil {
			return err
		}
		svc := user.NewService(repository.NewUserRepository(pool), passwords)
		u, err := svc.CreateAdmin(ctx, user.Registration{
			Username:        adminFlags.username,
			Password:        password,
			ConfirmPassword: password,
			Email:           adminFlags.email,
			Phone:           adminFlags.phone,
		})
		if err != nil {
			return errors.Wrap(err, "create admin")
		}
		zctx.From(ctx).Info("Administrator created",
			zap.Int64("user_id", u.ID),
			zap.String("username", u.Username),
		)
		return nil
	},
}

var strictStatus bool

var setStatusCmd = &cobra.Command{
	Use:   "set-status <order-id> <status>",
	Short: "Change the status of an order",
	Long: "Change the status of an order. Status accepts stored values such as " +
		`"Picked Up" or compact spellings such as picked_up.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return errors.Errorf("order id must be a positive integer, got %q", args[0])
		}

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		svc := order.NewService(repository.NewOrderRepository(pool), order.Options{
			StrictTransitions: strictStatus,
		})
		o, err := svc.UpdateStatus(ctx, id, args[1])
		if err != nil {
			return errors.Wrapf(err, "update order %d", id)
		}
		zctx.From(ctx).Info("Order updated",
			zap.Int64("order_id", o.ID),
			zap.String("status", string(o.Status)),
		)
		return nil
	},
}

func init() {
	f := createAdminCmd.Flags()
	f.StringVar(&adminFlags.username, "username", "", "administrator username")
	f.StringVar(&adminFlags.email, "email", "", "administrator email")
	f.StringVar(&adminFlags.phone, "phone", "", "administrator phone")
	f.StringVar(&adminFlags.password, "password", "", "administrator password (or WASHGO_ADMIN_PASSWORD env)")
	_ = createAdminCmd.MarkFlagRequired("username")
	_ = createAdminCmd.MarkFlagRequired("email")
	_ = createAdminCmd.MarkFlagRequired("phone")

	setStatusCmd.Flags().BoolVar(&strictStatus, "strict", false, "reject changes outside the lifecycle graph")
}
