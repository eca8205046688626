package main

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"ShadowSwap/internal/decrypt"
	"ShadowSwap/internal/event"
	"ShadowSwap/internal/matching"
	"ShadowSwap/internal/server"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

func uuidFlag(cctx *cli.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(cctx.String(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("--%s: %w", name, err)
	}
	return id, nil
}

// optionalUUID returns nil when the flag was not given.
func optionalUUID(cctx *cli.Context, name string) (*uuid.UUID, error) {
	if !cctx.IsSet(name) {
		return nil, nil
	}
	id, err := uuidFlag(cctx, name)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func optionalInt64(cctx *cli.Context, name string) *int64 {
	if !cctx.IsSet(name) {
		return nil
	}
	v := cctx.Int64(name)
	return &v
}

// submit sends evt and prints the result.
func submit(cctx *cli.Context, evt event.Event) error {
	return withClient(cctx, func(c *server.LedgerClient) error {
		res, err := c.Submit(cctx.Context, evt)
		if err != nil {
			return err
		}
		return printJSON(res)
	})
}

var ownerFlag = &cli.StringFlag{Name: flagOwner, Usage: "owner id", Required: true}
var bookFlag = &cli.StringFlag{Name: flagBook, Usage: "order book id", Required: true}
var pageFlags = []cli.Flag{
	&cli.IntFlag{Name: flagLimit, Usage: "maximum rows returned"},
	&cli.Int64Flag{Name: flagBefore, Usage: "return rows below this sequence"},
}

var bookCmd = &cli.Command{
	Name:  "book",
	Usage: "Create and administer order books",
	Subcommands: []*cli.Command{
		{
			Name:  "init",
			Usage: "initialize an order book",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "authority", Required: true},
				&cli.StringFlag{Name: "base", Required: true, Usage: "base asset"},
				&cli.StringFlag{Name: "quote", Required: true, Usage: "quote asset"},
				&cli.UintFlag{Name: "fee-bps", Value: 0},
				&cli.StringFlag{Name: "fee-recipient", Usage: "defaults to the authority"},
				&cli.Int64Flag{Name: "min-size", Value: 1, Usage: "minimum base order size"},
				&cli.Int64Flag{Name: "base-unit", Value: 1},
			},
			Action: func(cctx *cli.Context) error {
				authority, err := uuidFlag(cctx, "authority")
				if err != nil {
					return err
				}
				recipient := authority
				if cctx.IsSet("fee-recipient") {
					if recipient, err = uuidFlag(cctx, "fee-recipient"); err != nil {
						return err
					}
				}
				return submit(cctx, &event.InitializeOrderBook{
					RequestID:        uuid.New(),
					Authority:        authority,
					BaseAsset:        cctx.String("base"),
					QuoteAsset:       cctx.String("quote"),
					FeeBps:           uint16(cctx.Uint("fee-bps")),
					FeeRecipient:     recipient,
					MinBaseOrderSize: cctx.Int64("min-size"),
					BaseUnit:         cctx.Int64("base-unit"),
				})
			},
		},
		{
			Name:  "set-active",
			Usage: "pause or resume an order book",
			Flags: []cli.Flag{
				bookFlag,
				&cli.StringFlag{Name: "authority", Required: true},
				&cli.BoolFlag{Name: "active", Value: true},
			},
			Action: func(cctx *cli.Context) error {
				bookID, err := uuidFlag(cctx, flagBook)
				if err != nil {
					return err
				}
				authority, err := uuidFlag(cctx, "authority")
				if err != nil {
					return err
				}
				return submit(cctx, &event.SetOrderBookActive{
					RequestID:   uuid.New(),
					Authority:   authority,
					OrderBookID: bookID,
					Active:      cctx.Bool("active"),
				})
			},
		},
		{
			Name:  "show",
			Usage: "show an order book",
			Flags: []cli.Flag{bookFlag},
			Action: func(cctx *cli.Context) error {
				bookID, err := uuidFlag(cctx, flagBook)
				if err != nil {
					return err
				}
				return withClient(cctx, func(c *server.LedgerClient) error {
					book, err := c.GetOrderBook(cctx.Context, bookID)
					if err != nil {
						return err
					}
					return printJSON(book)
				})
			},
		},
	},
}

var fundsCmd = &cli.Command{
	Name:  "funds",
	Usage: "Deposit and withdraw custody funds",
	Subcommands: []*cli.Command{
		{
			Name:  "deposit",
			Usage: "credit an owner's available balance",
			Flags: []cli.Flag{
				ownerFlag,
				&cli.StringFlag{Name: "asset", Required: true},
				&cli.Int64Flag{Name: "amount", Required: true},
				&cli.StringFlag{Name: "id", Usage: "deposit id, random when omitted"},
			},
			Action: func(cctx *cli.Context) error {
				owner, err := uuidFlag(cctx, flagOwner)
				if err != nil {
					return err
				}
				id := uuid.New()
				if cctx.IsSet("id") {
					if id, err = uuidFlag(cctx, "id"); err != nil {
						return err
					}
				}
				return submit(cctx, &event.Deposit{
					DepositID: id,
					Owner:     owner,
					Asset:     cctx.String("asset"),
					Amount:    cctx.Int64("amount"),
				})
			},
		},
		{
			Name:  "withdraw",
			Usage: "debit an owner's available balance",
			Flags: []cli.Flag{
				ownerFlag,
				&cli.StringFlag{Name: "asset", Required: true},
				&cli.Int64Flag{Name: "amount", Required: true},
				&cli.StringFlag{Name: "id", Usage: "withdrawal id, random when omitted"},
			},
			Action: func(cctx *cli.Context) error {
				owner, err := uuidFlag(cctx, flagOwner)
				if err != nil {
					return err
				}
				id := uuid.New()
				if cctx.IsSet("id") {
					if id, err = uuidFlag(cctx, "id"); err != nil {
						return err
					}
				}
				return submit(cctx, &event.Withdraw{
					WithdrawalID: id,
					Owner:        owner,
					Asset:        cctx.String("asset"),
					Amount:       cctx.Int64("amount"),
				})
			},
		},
	},
}

var orderCmd = &cli.Command{
	Name:  "order",
	Usage: "Place, cancel and close encrypted orders",
	Subcommands: []*cli.Command{
		{
			Name:  "place",
			Usage: "place an order and escrow its deposit",
			Description: "Pass --payload-hex and --amount-hex for a real ciphertext. " +
				"Otherwise --side and --price build a payload for a ledger whose keeper runs mock decryption.",
			Flags: []cli.Flag{
				bookFlag,
				ownerFlag,
				&cli.Int64Flag{Name: "amount", Required: true, Usage: "base units"},
				&cli.StringFlag{Name: "deposit-asset", Required: true},
				&cli.Int64Flag{Name: "deposit-amount", Required: true},
				&cli.StringFlag{Name: "payload-hex"},
				&cli.StringFlag{Name: "amount-hex"},
				&cli.StringFlag{Name: "side", Value: "buy", Usage: "buy or sell, mock payloads only"},
				&cli.Int64Flag{Name: "price", Usage: "quote per base unit, mock payloads only"},
			},
			Action: func(cctx *cli.Context) error {
				bookID, err := uuidFlag(cctx, flagBook)
				if err != nil {
					return err
				}
				owner, err := uuidFlag(cctx, flagOwner)
				if err != nil {
					return err
				}
				payload, encAmount, err := orderPayload(cctx)
				if err != nil {
					return err
				}
				return submit(cctx, &event.PlaceOrder{
					RequestID:       uuid.New(),
					OrderBookID:     bookID,
					Owner:           owner,
					CipherPayload:   payload,
					EncryptedAmount: encAmount,
					Amount:          cctx.Int64("amount"),
					DepositAsset:    cctx.String("deposit-asset"),
					DepositAmount:   cctx.Int64("deposit-amount"),
				})
			},
		},
		orderLifecycleCmd("cancel", "cancel an open order and refund its escrow", func(req uuid.UUID, book, order, owner uuid.UUID) event.Event {
			return &event.CancelOrder{RequestID: req, OrderBookID: book, OrderID: order, Owner: owner}
		}),
		orderLifecycleCmd("close", "close a filled order and release its remaining escrow", func(req uuid.UUID, book, order, owner uuid.UUID) event.Event {
			return &event.CloseOrder{RequestID: req, OrderBookID: book, OrderID: order, Owner: owner}
		}),
		{
			Name:  "release",
			Usage: "return a queued pair to the book",
			Description: "An owner of either order may release the pair once the keeper's reservation has lapsed. " +
				"The book authority may release it at any time.",
			Flags: []cli.Flag{
				bookFlag,
				&cli.StringFlag{Name: "caller", Required: true, Usage: "order owner or book authority"},
				&cli.StringFlag{Name: "buy-order", Required: true},
				&cli.StringFlag{Name: "sell-order", Required: true},
			},
			Action: func(cctx *cli.Context) error {
				ids := make([]uuid.UUID, 4)
				for i, name := range []string{flagBook, "caller", "buy-order", "sell-order"} {
					id, err := uuidFlag(cctx, name)
					if err != nil {
						return err
					}
					ids[i] = id
				}
				return submit(cctx, &event.ReleaseMatch{
					RequestID:   uuid.New(),
					OrderBookID: ids[0],
					Caller:      ids[1],
					BuyOrderID:  ids[2],
					SellOrderID: ids[3],
				})
			},
		},
		{
			Name:  "show",
			Usage: "show one order",
			Flags: []cli.Flag{&cli.StringFlag{Name: "order", Required: true}},
			Action: func(cctx *cli.Context) error {
				orderID, err := uuidFlag(cctx, "order")
				if err != nil {
					return err
				}
				return withClient(cctx, func(c *server.LedgerClient) error {
					o, err := c.GetOrder(cctx.Context, orderID)
					if err != nil {
						return err
					}
					return printJSON(o)
				})
			},
		},
	},
}

func orderLifecycleCmd(name, usage string, build func(req, book, order, owner uuid.UUID) event.Event) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: []cli.Flag{
			bookFlag,
			ownerFlag,
			&cli.StringFlag{Name: "order", Required: true},
		},
		Action: func(cctx *cli.Context) error {
			bookID, err := uuidFlag(cctx, flagBook)
			if err != nil {
				return err
			}
			owner, err := uuidFlag(cctx, flagOwner)
			if err != nil {
				return err
			}
			orderID, err := uuidFlag(cctx, "order")
			if err != nil {
				return err
			}
			return submit(cctx, build(uuid.New(), bookID, orderID, owner))
		},
	}
}

// orderPayload returns the cipher payload and encrypted amount for place.
func orderPayload(cctx *cli.Context) ([]byte, []byte, error) {
	if cctx.IsSet("payload-hex") {
		payload, err := hex.DecodeString(cctx.String("payload-hex"))
		if err != nil {
			return nil, nil, fmt.Errorf("--payload-hex: %w", err)
		}
		encAmount, err := hex.DecodeString(cctx.String("amount-hex"))
		if err != nil {
			return nil, nil, fmt.Errorf("--amount-hex: %w", err)
		}
		return payload, encAmount, nil
	}

	var side matching.Side
	switch cctx.String("side") {
	case "buy":
		side = matching.SideBuy
	case "sell":
		side = matching.SideSell
	default:
		return nil, nil, fmt.Errorf("--side must be buy or sell, got %q", cctx.String("side"))
	}
	if cctx.Int64("price") <= 0 {
		return nil, nil, fmt.Errorf("--price is required for mock payloads")
	}
	amount := cctx.Int64("amount")
	payload := decrypt.EncodePayload(side, amount, cctx.Int64("price"), uint32(time.Now().Unix()))
	encAmount := binary.LittleEndian.AppendUint64(nil, uint64(amount))
	return payload, encAmount, nil
}

var authCmd = &cli.Command{
	Name:  "auth",
	Usage: "Grant and revoke keeper callback authorizations",
	Subcommands: []*cli.Command{
		{
			Name:  "grant",
			Usage: "authorize a keeper to settle matches on a book",
			Flags: []cli.Flag{
				bookFlag,
				&cli.StringFlag{Name: "authority", Required: true},
				&cli.StringFlag{Name: "keeper", Required: true},
				&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
			},
			Action: func(cctx *cli.Context) error {
				bookID, err := uuidFlag(cctx, flagBook)
				if err != nil {
					return err
				}
				authority, err := uuidFlag(cctx, "authority")
				if err != nil {
					return err
				}
				keeperID, err := uuidFlag(cctx, "keeper")
				if err != nil {
					return err
				}
				return submit(cctx, &event.CreateCallbackAuth{
					RequestID:   uuid.New(),
					Authority:   authority,
					OrderBookID: bookID,
					Keeper:      keeperID,
					ExpiresAt:   time.Now().Add(cctx.Duration("ttl")).UTC(),
				})
			},
		},
		{
			Name:  "revoke",
			Usage: "revoke a keeper's authorization",
			Flags: []cli.Flag{
				bookFlag,
				&cli.StringFlag{Name: "authority", Required: true},
				&cli.StringFlag{Name: "keeper", Required: true},
			},
			Action: func(cctx *cli.Context) error {
				bookID, err := uuidFlag(cctx, flagBook)
				if err != nil {
					return err
				}
				authority, err := uuidFlag(cctx, "authority")
				if err != nil {
					return err
				}
				keeperID, err := uuidFlag(cctx, "keeper")
				if err != nil {
					return err
				}
				return submit(cctx, &event.RevokeCallbackAuth{
					RequestID:   uuid.New(),
					Authority:   authority,
					OrderBookID: bookID,
					Keeper:      keeperID,
				})
			},
		},
		{
			Name:  "show",
			Usage: "show a keeper's authorization",
			Flags: []cli.Flag{
				bookFlag,
				&cli.StringFlag{Name: "keeper", Required: true},
			},
			Action: func(cctx *cli.Context) error {
				bookID, err := uuidFlag(cctx, flagBook)
				if err != nil {
					return err
				}
				keeperID, err := uuidFlag(cctx, "keeper")
				if err != nil {
					return err
				}
				return withClient(cctx, func(c *server.LedgerClient) error {
					grant, err := c.GetCallbackAuth(cctx.Context, bookID, keeperID)
					if err != nil {
						return err
					}
					return printJSON(grant)
				})
			},
		},
	},
}

var queryCmd = &cli.Command{
	Name:  "query",
	Usage: "Read the projected ledger",
	Subcommands: []*cli.Command{
		{
			Name:  "balances",
			Usage: "balances of one owner",
			Flags: []cli.Flag{ownerFlag},
			Action: func(cctx *cli.Context) error {
				owner, err := uuidFlag(cctx, flagOwner)
				if err != nil {
					return err
				}
				return withClient(cctx, func(c *server.LedgerClient) error {
					balances, err := c.GetBalances(cctx.Context, owner)
					if err != nil {
						return err
					}
					return printJSON(balances)
				})
			},
		},
		{
			Name:  "orders",
			Usage: "orders by owner or book",
			Flags: append([]cli.Flag{
				&cli.StringFlag{Name: flagOwner},
				&cli.StringFlag{Name: flagBook},
				&cli.StringFlag{Name: "status"},
			}, pageFlags...),
			Action: func(cctx *cli.Context) error {
				owner, err := optionalUUID(cctx, flagOwner)
				if err != nil {
					return err
				}
				book, err := optionalUUID(cctx, flagBook)
				if err != nil {
					return err
				}
				return withClient(cctx, func(c *server.LedgerClient) error {
					orders, err := c.ListOrders(cctx.Context, &server.ListOrdersRequest{
						Owner:       owner,
						OrderBookID: book,
						Status:      cctx.String("status"),
						Limit:       cctx.Int(flagLimit),
						Before:      optionalInt64(cctx, flagBefore),
					})
					if err != nil {
						return err
					}
					return printJSON(orders)
				})
			},
		},
		{
			Name:  "trades",
			Usage: "settled trades by book or owner",
			Flags: append([]cli.Flag{
				&cli.StringFlag{Name: flagOwner},
				&cli.StringFlag{Name: flagBook},
			}, pageFlags...),
			Action: func(cctx *cli.Context) error {
				owner, err := optionalUUID(cctx, flagOwner)
				if err != nil {
					return err
				}
				book, err := optionalUUID(cctx, flagBook)
				if err != nil {
					return err
				}
				return withClient(cctx, func(c *server.LedgerClient) error {
					trades, err := c.ListTrades(cctx.Context, &server.ListTradesRequest{
						OrderBookID: book,
						Owner:       owner,
						Limit:       cctx.Int(flagLimit),
						Before:      optionalInt64(cctx, flagBefore),
					})
					if err != nil {
						return err
					}
					return printJSON(trades)
				})
			},
		},
		{
			Name:  "journals",
			Usage: "journal entries touching one owner",
			Flags: append([]cli.Flag{ownerFlag}, pageFlags...),
			Action: func(cctx *cli.Context) error {
				owner, err := uuidFlag(cctx, flagOwner)
				if err != nil {
					return err
				}
				return withClient(cctx, func(c *server.LedgerClient) error {
					journals, err := c.ListJournals(cctx.Context, &server.ListJournalsRequest{
						Owner:  owner,
						Limit:  cctx.Int(flagLimit),
						Before: optionalInt64(cctx, flagBefore),
					})
					if err != nil {
						return err
					}
					return printJSON(journals)
				})
			},
		},
	},
}

var adminCmd = &cli.Command{
	Name:  "admin",
	Usage: "Ledger operations",
	Subcommands: []*cli.Command{
		{
			Name:  "integrity",
			Usage: "check the event log hash chain and the projections",
			Action: func(cctx *cli.Context) error {
				return withClient(cctx, func(c *server.LedgerClient) error {
					report, err := c.VerifyIntegrity(cctx.Context)
					if err != nil {
						return err
					}
					if err := printJSON(report); err != nil {
						return err
					}
					if !report.IsHealthy {
						return cli.Exit("integrity check failed", 2)
					}
					return nil
				})
			},
		},
		{
			Name:  "snapshot",
			Usage: "take a state snapshot now",
			Action: func(cctx *cli.Context) error {
				return withClient(cctx, func(c *server.LedgerClient) error {
					seq, err := c.TakeSnapshot(cctx.Context)
					if err != nil {
						return err
					}
					fmt.Printf("snapshot at sequence %d\n", seq)
					return nil
				})
			},
		},
		{
			Name:  "status",
			Usage: "uptime and persistence progress",
			Action: func(cctx *cli.Context) error {
				return withClient(cctx, func(c *server.LedgerClient) error {
					st, err := c.GetSystemStatus(cctx.Context)
					if err != nil {
						return err
					}
					return printJSON(st)
				})
			},
		},
	},
}
