package service

import (
	"log/slog"

	"github.com/boxoffice-dev/boxoffice/internal/notify"
	"github.com/boxoffice-dev/boxoffice/internal/qrtoken"
	redisx "github.com/boxoffice-dev/boxoffice/internal/redis"
	postgres "github.com/boxoffice-dev/boxoffice/internal/repository/postgres"
	redis "github.com/boxoffice-dev/boxoffice/internal/repository/redis"
	"github.com/boxoffice-dev/boxoffice/internal/service/checkin"
	"github.com/boxoffice-dev/boxoffice/internal/service/inventory"
	"github.com/boxoffice-dev/boxoffice/internal/service/issuance"
	"github.com/boxoffice-dev/boxoffice/internal/service/orders"
	"github.com/boxoffice-dev/boxoffice/internal/service/payments"
)

type Services struct {
	Inventory *inventory.Ledger
	Orders    *orders.Service
	Payments  *payments.Service
	Issuance  *issuance.Service
	CheckIn   *checkin.Service
}

type Config struct {
	Orders   orders.Config
	Payments payments.Config
	Issuance issuance.Config
}

func NewServices(
	store *postgres.Store,
	cache *redis.Cache,
	pubsub *redisx.InventoryPubSub,
	limiter *redis.SlidingWindowLimiter,
	idem *redis.IdempotencyStore,
	codec *qrtoken.Codec,
	provider payments.CheckoutProvider,
	dispatcher notify.Dispatcher,
	logger *slog.Logger,
	cfg Config,
) *Services {
	ledger := inventory.New(store, cache)
	issuer := issuance.New(store, codec, dispatcher, logger, cfg.Issuance)

	return &Services{
		Inventory: ledger,
		Orders:    orders.New(store, ledger, cache, pubsub, limiter, cfg.Orders),
		Payments:  payments.New(store, provider, idem, cache, issuer, dispatcher, logger, cfg.Payments),
		Issuance:  issuer,
		CheckIn:   checkin.New(store, codec),
	}
}
